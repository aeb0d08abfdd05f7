package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string
	DBPath        string
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	TavilyKey     string
	RedisURL      string
	MaxTokens     int
	HistoryBudget int
	TurnTimeout   time.Duration
}

func Load() Config {
	return Config{
		Port:          getenv("PORT", "8100"),
		DBPath:        getenv("SCOUT_DB", "scout.db"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:         getenv("OPENAI_MODEL", "gpt-4o-mini"),
		TavilyKey:     os.Getenv("TAVILY_API_KEY"),
		RedisURL:      os.Getenv("REDIS_URL"),
		MaxTokens:     getint("MAX_COMPLETION_TOKENS", 1024),
		HistoryBudget: getint("HISTORY_TOKEN_BUDGET", 4096),
		TurnTimeout:   time.Duration(getint("TURN_TIMEOUT_SECONDS", 120)) * time.Second,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
