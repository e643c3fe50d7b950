// Package vocab builds the closed, frequency-ranked token set a model is
// trained against.
package vocab

import (
	"errors"
	"fmt"
	"sort"
)

// UnknownMode decides what happens to tokens outside the vocabulary.
type UnknownMode string

const (
	// UnknownMap maps out-of-vocabulary tokens to UnknownToken.
	UnknownMap UnknownMode = "map"
	// UnknownDrop removes out-of-vocabulary tokens from the sequence.
	UnknownDrop UnknownMode = "drop"
)

// Reserved tokens always occupy the lowest indices.
const (
	PadToken     = "<pad>"
	EndToken     = "<end>"
	UnknownToken = "<unk>"

	PadIndex     = 0
	EndIndex     = 1
	UnknownIndex = 2
)

var (
	ErrEmptyCorpus  = errors.New("corpus has no tokens")
	ErrInvalidState = errors.New("invalid vocabulary state")
)

// Options controls vocabulary construction.
type Options struct {
	Granularity Granularity `yaml:"granularity"`
	UnknownMode UnknownMode `yaml:"unknown_mode"`
	// MaxTokens caps the number of ranked (non-reserved) tokens.
	MaxTokens int `yaml:"vocab_size"`
}

// Vocabulary is an immutable token <-> index mapping.
type Vocabulary struct {
	tokenizer Tokenizer
	unknown   UnknownMode
	tokens    []string
	index     map[string]int
}

// State is the serializable form of a Vocabulary.
type State struct {
	Granularity Granularity `json:"granularity"`
	UnknownMode UnknownMode `json:"unknown_mode"`
	Tokens      []string    `json:"tokens"`
}

// Build ranks the tokens of docs by descending frequency (ties broken by
// token text) and keeps the top opts.MaxTokens.
func Build(docs [][]string, opts Options) (*Vocabulary, error) {
	tokenizer, err := NewTokenizer(opts.Granularity)
	if err != nil {
		return nil, err
	}
	if opts.UnknownMode != UnknownMap && opts.UnknownMode != UnknownDrop {
		return nil, fmt.Errorf("unknown mode %q", opts.UnknownMode)
	}
	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("vocabulary size must be positive, got %d", opts.MaxTokens)
	}

	counts := make(map[string]int)
	for _, doc := range docs {
		for _, tok := range doc {
			if isReservedToken(tok) {
				continue
			}
			counts[tok]++
		}
	}
	if len(counts) == 0 {
		return nil, ErrEmptyCorpus
	}

	ranked := make([]string, 0, len(counts))
	for tok := range counts {
		ranked = append(ranked, tok)
	}
	sort.Slice(ranked, func(i, j int) bool {
		ci, cj := counts[ranked[i]], counts[ranked[j]]
		if ci != cj {
			return ci > cj
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > opts.MaxTokens {
		ranked = ranked[:opts.MaxTokens]
	}

	tokens := append(reservedTokens(opts.UnknownMode), ranked...)
	return newVocabulary(tokenizer, opts.UnknownMode, tokens), nil
}

// FromState restores a vocabulary exported with State.
func FromState(s State) (*Vocabulary, error) {
	tokenizer, err := NewTokenizer(s.Granularity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if s.UnknownMode != UnknownMap && s.UnknownMode != UnknownDrop {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidState, s.UnknownMode)
	}
	reserved := reservedTokens(s.UnknownMode)
	if len(s.Tokens) <= len(reserved) {
		return nil, fmt.Errorf("%w: %d tokens", ErrInvalidState, len(s.Tokens))
	}
	for i, tok := range reserved {
		if s.Tokens[i] != tok {
			return nil, fmt.Errorf("%w: index %d is %q, want %q", ErrInvalidState, i, s.Tokens[i], tok)
		}
	}
	tokens := make([]string, len(s.Tokens))
	copy(tokens, s.Tokens)
	return newVocabulary(tokenizer, s.UnknownMode, tokens), nil
}

func newVocabulary(tokenizer Tokenizer, unknown UnknownMode, tokens []string) *Vocabulary {
	index := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		index[tok] = i
	}
	return &Vocabulary{tokenizer: tokenizer, unknown: unknown, tokens: tokens, index: index}
}

func reservedTokens(mode UnknownMode) []string {
	if mode == UnknownMap {
		return []string{PadToken, EndToken, UnknownToken}
	}
	return []string{PadToken, EndToken}
}

func isReservedToken(tok string) bool {
	return tok == PadToken || tok == EndToken || tok == UnknownToken
}

// State returns the serializable form of v.
func (v *Vocabulary) State() State {
	tokens := make([]string, len(v.tokens))
	copy(tokens, v.tokens)
	return State{
		Granularity: v.tokenizer.Granularity(),
		UnknownMode: v.unknown,
		Tokens:      tokens,
	}
}

// Size is the number of indices, reserved tokens included.
func (v *Vocabulary) Size() int { return len(v.tokens) }

// Reserved is the number of reserved indices at the start of the table.
func (v *Vocabulary) Reserved() int { return len(reservedTokens(v.unknown)) }

func (v *Vocabulary) Tokenizer() Tokenizer { return v.tokenizer }

func (v *Vocabulary) UnknownMode() UnknownMode { return v.unknown }

// Index returns the index of tok.
func (v *Vocabulary) Index(tok string) (int, bool) {
	i, ok := v.index[tok]
	return i, ok
}

// Token returns the token at index i, or "" if i is out of range.
func (v *Vocabulary) Token(i int) string {
	if i < 0 || i >= len(v.tokens) {
		return ""
	}
	return v.tokens[i]
}

// IsReserved reports whether i is one of the reserved indices.
func (v *Vocabulary) IsReserved(i int) bool {
	return i >= 0 && i < v.Reserved()
}

// Encode maps tokens to indices, applying the unknown-token mode.
func (v *Vocabulary) Encode(tokens []string) []int {
	ids := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		i, ok := v.index[tok]
		if ok && !isReservedToken(tok) {
			ids = append(ids, i)
			continue
		}
		if v.unknown == UnknownMap {
			ids = append(ids, UnknownIndex)
		}
	}
	return ids
}

// Decode maps indices back to tokens, skipping padding and terminators.
func (v *Vocabulary) Decode(ids []int) []string {
	tokens := make([]string, 0, len(ids))
	for _, i := range ids {
		if i == PadIndex || i == EndIndex {
			continue
		}
		if tok := v.Token(i); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
