package vocab

import (
	"fmt"
	"strings"
)

// Granularity selects how text is split into tokens.
type Granularity string

const (
	GranularityWord Granularity = "word"
	GranularityChar Granularity = "char"
)

// Tokenizer splits text into tokens and joins tokens back into text.
type Tokenizer interface {
	Split(text string) []string
	Join(tokens []string) string
	Granularity() Granularity
}

// NewTokenizer returns the tokenizer for the given granularity.
func NewTokenizer(g Granularity) (Tokenizer, error) {
	switch g {
	case GranularityWord:
		return wordTokenizer{}, nil
	case GranularityChar:
		return charTokenizer{}, nil
	default:
		return nil, fmt.Errorf("unknown token granularity %q", g)
	}
}

type wordTokenizer struct{}

func (wordTokenizer) Split(text string) []string { return strings.Fields(text) }

func (wordTokenizer) Join(tokens []string) string { return strings.Join(tokens, " ") }

func (wordTokenizer) Granularity() Granularity { return GranularityWord }

type charTokenizer struct{}

func (charTokenizer) Split(text string) []string {
	tokens := make([]string, 0, len(text))
	for _, r := range text {
		tokens = append(tokens, string(r))
	}
	return tokens
}

func (charTokenizer) Join(tokens []string) string { return strings.Join(tokens, "") }

func (charTokenizer) Granularity() Granularity { return GranularityChar }
