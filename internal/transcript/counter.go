package transcript

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the input-token cost of a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// NewCounter returns a counter backed by the model's BPE encoding, or the
// heuristic counter when the encoding cannot be resolved (unknown model name,
// or no cached BPE data and no network to fetch it).
func NewCounter(model string) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return HeuristicCounter{}
	}
	return &tiktokenCounter{enc: enc}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates four runes per token. Deterministic, so tests
// use it directly.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return utf8.RuneCountInString(text)/4 + 1
}
