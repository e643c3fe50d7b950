// Package encoder turns token sequences into fixed-length model windows and
// back.
//
// Windows are left-padded with vocab.PadIndex, so the last position always
// holds the most recent real token. Sequences longer than the window keep
// their last tokens.
package encoder

import (
	"errors"
	"fmt"

	"github.com/Trojaner/ImpostorBot/internal/vocab"
)

var ErrInvalidWindow = errors.New("window length must be positive")

// Encoder owns the padding/truncation policy for one vocabulary.
type Encoder struct {
	vocab  *vocab.Vocabulary
	window int
}

// State is everything needed to rebuild an Encoder for decoding.
type State struct {
	Vocabulary vocab.State `json:"vocabulary"`
	Window     int         `json:"window"`
}

func New(v *vocab.Vocabulary, window int) (*Encoder, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, window)
	}
	return &Encoder{vocab: v, window: window}, nil
}

func FromState(s State) (*Encoder, error) {
	v, err := vocab.FromState(s.Vocabulary)
	if err != nil {
		return nil, err
	}
	return New(v, s.Window)
}

// WindowFor returns the longest sequence length in seqs, capped at limit.
func WindowFor(seqs [][]int, limit int) int {
	window := 0
	for _, s := range seqs {
		if len(s) > window {
			window = len(s)
		}
	}
	if limit > 0 && window > limit {
		window = limit
	}
	return window
}

func (e *Encoder) State() State {
	return State{Vocabulary: e.vocab.State(), Window: e.window}
}

func (e *Encoder) Window() int { return e.window }

func (e *Encoder) Vocabulary() *vocab.Vocabulary { return e.vocab }

// Width is the one-hot vector width.
func (e *Encoder) Width() int { return e.vocab.Size() }

// Tokenize splits text and maps it to vocabulary indices without padding.
func (e *Encoder) Tokenize(text string) []int {
	return e.vocab.Encode(e.vocab.Tokenizer().Split(text))
}

// Pad fits ids into the window.
func (e *Encoder) Pad(ids []int) []int {
	out := make([]int, e.window)
	if len(ids) > e.window {
		ids = ids[len(ids)-e.window:]
	}
	copy(out[e.window-len(ids):], ids)
	return out
}

// Encode tokenizes and pads text into one window.
func (e *Encoder) Encode(text string) []int {
	return e.Pad(e.Tokenize(text))
}

// Pair builds the next-token training pair for ids: the target is the input
// shifted one position left and terminated with vocab.EndIndex. Both are
// padded identically. ok is false for an empty sequence.
func (e *Encoder) Pair(ids []int) (input, target []int, ok bool) {
	if len(ids) == 0 {
		return nil, nil, false
	}
	shifted := make([]int, 0, len(ids))
	shifted = append(shifted, ids[1:]...)
	shifted = append(shifted, vocab.EndIndex)
	return e.Pad(ids), e.Pad(shifted), true
}

// OneHot expands a window of indices into one-hot rows of width Width().
func (e *Encoder) OneHot(window []int) [][]float32 {
	rows := make([][]float32, len(window))
	for i, id := range window {
		row := make([]float32, e.Width())
		if id >= 0 && id < len(row) {
			row[id] = 1
		}
		rows[i] = row
	}
	return rows
}

// Decode maps indices back to text, dropping padding and terminators.
func (e *Encoder) Decode(ids []int) string {
	return e.vocab.Tokenizer().Join(e.vocab.Decode(ids))
}
