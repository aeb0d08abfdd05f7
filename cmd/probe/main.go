// Command probe sends one prompt through the configured completion provider
// and prints the reply. Run it to check credentials and connectivity before
// starting the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/RichardoC/scout/internal/config"
)

func main() {
	prompt := flag.String("prompt", "Reply with the single word: ready", "prompt to send")
	flag.Parse()

	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if cfg.OpenAIKey == "" {
		logger.Fatal("OPENAI_API_KEY is not set")
	}

	llm, err := openai.New(
		openai.WithToken(cfg.OpenAIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		logger.Fatal("failed to initialize completion provider", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, llm, *prompt)
	if err != nil {
		logger.Fatal("failed to generate completion",
			zap.String("base_url", cfg.OpenAIBaseURL),
			zap.String("model", cfg.Model),
			zap.Error(err))
	}
	fmt.Println(completion)
}
