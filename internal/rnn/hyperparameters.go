package rnn

import (
	"errors"
	"fmt"

	"github.com/Trojaner/ImpostorBot/internal/vocab"
)

var ErrInvalidHyperparameters = errors.New("invalid hyperparameters")

// Hyperparameters controls vocabulary construction, network shape and the
// training loop.
type Hyperparameters struct {
	// Granularity is "char" (default) or "word".
	Granularity vocab.Granularity `yaml:"granularity"`
	// UnknownMode is "map" (default) or "drop".
	UnknownMode vocab.UnknownMode `yaml:"unknown_mode"`
	// VocabSize caps the ranked vocabulary. Default 200.
	VocabSize int `yaml:"vocab_size"`
	// MaxTokensPerMessage drops longer messages and caps the window. Default 120.
	MaxTokensPerMessage int `yaml:"max_tokens_per_message"`
	// HiddenSize is the recurrent state width. Default 64.
	HiddenSize int `yaml:"hidden_size"`
	// Epochs is the number of passes over the corpus. Default 5.
	Epochs int `yaml:"epochs"`
	// LearningRate is the Adam step size. Default 0.005.
	LearningRate float64 `yaml:"learning_rate"`
	// GradClip bounds every gradient element to [-GradClip, GradClip]. Default 5.
	GradClip float64 `yaml:"grad_clip"`
	// Seed drives weight init and corpus shuffling. Default 42.
	Seed int64 `yaml:"seed"`
}

func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Granularity:         vocab.GranularityChar,
		UnknownMode:         vocab.UnknownMap,
		VocabSize:           200,
		MaxTokensPerMessage: 120,
		HiddenSize:          64,
		Epochs:              5,
		LearningRate:        0.005,
		GradClip:            5,
		Seed:                42,
	}
}

// WithDefaults fills zero fields from DefaultHyperparameters.
func (h Hyperparameters) WithDefaults() Hyperparameters {
	d := DefaultHyperparameters()
	if h.Granularity == "" {
		h.Granularity = d.Granularity
	}
	if h.UnknownMode == "" {
		h.UnknownMode = d.UnknownMode
	}
	if h.VocabSize == 0 {
		h.VocabSize = d.VocabSize
	}
	if h.MaxTokensPerMessage == 0 {
		h.MaxTokensPerMessage = d.MaxTokensPerMessage
	}
	if h.HiddenSize == 0 {
		h.HiddenSize = d.HiddenSize
	}
	if h.Epochs == 0 {
		h.Epochs = d.Epochs
	}
	if h.LearningRate == 0 {
		h.LearningRate = d.LearningRate
	}
	if h.GradClip == 0 {
		h.GradClip = d.GradClip
	}
	if h.Seed == 0 {
		h.Seed = d.Seed
	}
	return h
}

func (h Hyperparameters) Validate() error {
	if _, err := vocab.NewTokenizer(h.Granularity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHyperparameters, err)
	}
	if h.UnknownMode != vocab.UnknownMap && h.UnknownMode != vocab.UnknownDrop {
		return fmt.Errorf("%w: unknown_mode %q", ErrInvalidHyperparameters, h.UnknownMode)
	}
	switch {
	case h.VocabSize < 1:
		return fmt.Errorf("%w: vocab_size must be positive", ErrInvalidHyperparameters)
	case h.MaxTokensPerMessage < 1:
		return fmt.Errorf("%w: max_tokens_per_message must be positive", ErrInvalidHyperparameters)
	case h.HiddenSize < 1:
		return fmt.Errorf("%w: hidden_size must be positive", ErrInvalidHyperparameters)
	case h.Epochs < 1:
		return fmt.Errorf("%w: epochs must be positive", ErrInvalidHyperparameters)
	case h.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive", ErrInvalidHyperparameters)
	case h.GradClip <= 0:
		return fmt.Errorf("%w: grad_clip must be positive", ErrInvalidHyperparameters)
	}
	return nil
}

func (h Hyperparameters) vocabOptions() vocab.Options {
	return vocab.Options{
		Granularity: h.Granularity,
		UnknownMode: h.UnknownMode,
		MaxTokens:   h.VocabSize,
	}
}
