// Package rnn is the per-author generative model: an Elman recurrent network
// with a tanh hidden layer and a softmax output over the vocabulary.
//
// Inputs are one-hot rows (encoder.OneHot); the network reads row x of W_xh
// instead of multiplying, which is the same product.
package rnn

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/encoder"
	"github.com/Trojaner/ImpostorBot/internal/tensor"
)

var (
	ErrTraining        = errors.New("training failed")
	ErrNotTrained      = errors.New("model is not trained")
	ErrDisposed        = errors.New("model is disposed")
	ErrAlreadyTrained  = errors.New("model is already trained")
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

const (
	tensorWxh = "w_xh"
	tensorWhh = "w_hh"
	tensorBh  = "b_h"
	tensorWhy = "w_hy"
	tensorBy  = "b_y"
)

type state int

const (
	stateUntrained state = iota
	stateTrained
	stateDisposed
)

func (s state) String() string {
	switch s {
	case stateUntrained:
		return "untrained"
	case stateTrained:
		return "trained"
	default:
		return "disposed"
	}
}

// weights holds the network parameters in a fixed order.
type weights struct {
	wxh *tensor.Tensor // [V, H], row per input token
	whh *tensor.Tensor // [H, H]
	bh  *tensor.Tensor // [H]
	why *tensor.Tensor // [V, H], row per output token
	by  *tensor.Tensor // [V]
}

func (w *weights) list() []*tensor.Tensor {
	return []*tensor.Tensor{w.wxh, w.whh, w.bh, w.why, w.by}
}

func (w *weights) release() {
	tensor.ReleaseAll(w.list()...)
}

func allocWeights(b *tensor.Backend, name func(string) string, v, h int) (*weights, error) {
	w := &weights{}
	var err error
	if w.wxh, err = b.Zeros(name(tensorWxh), v, h); err != nil {
		return nil, err
	}
	if w.whh, err = b.Zeros(name(tensorWhh), h, h); err != nil {
		w.release()
		return nil, err
	}
	if w.bh, err = b.Zeros(name(tensorBh), h); err != nil {
		w.release()
		return nil, err
	}
	if w.why, err = b.Zeros(name(tensorWhy), v, h); err != nil {
		w.release()
		return nil, err
	}
	if w.by, err = b.Zeros(name(tensorBy), v); err != nil {
		w.release()
		return nil, err
	}
	return w, nil
}

// Model is owned by a single request. All methods are safe for concurrent
// use, but the model is not meant to be shared.
type Model struct {
	mu      sync.Mutex
	backend *tensor.Backend
	hp      Hyperparameters
	logger  *zap.Logger

	state  state
	enc    *encoder.Encoder
	hidden int
	w      *weights
}

func New(backend *tensor.Backend, hp Hyperparameters, logger *zap.Logger) (*Model, error) {
	if backend == nil {
		return nil, errors.New("rnn: backend is required")
	}
	hp = hp.WithDefaults()
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{backend: backend, hp: hp, logger: logger}, nil
}

// Encoder returns the encoder built by Train or Import.
func (m *Model) Encoder() (*encoder.Encoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTrained(); err != nil {
		return nil, err
	}
	return m.enc, nil
}

func (m *Model) requireTrained() error {
	switch m.state {
	case stateDisposed:
		return ErrDisposed
	case stateUntrained:
		return ErrNotTrained
	}
	return nil
}

func (m *Model) requireUntrained() error {
	switch m.state {
	case stateDisposed:
		return ErrDisposed
	case stateTrained:
		return ErrAlreadyTrained
	}
	return nil
}

// PredictStep runs one forward pass over window and returns the next-token
// distribution. The window is padded or truncated to the encoder window.
func (m *Model) PredictStep(window []int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTrained(); err != nil {
		return nil, err
	}
	size := m.enc.Width()
	for _, id := range window {
		if id < 0 || id >= size {
			return nil, fmt.Errorf("token index %d out of range [0, %d)", id, size)
		}
	}

	ids := m.enc.Pad(window)
	h := make([]float64, m.hidden)
	for _, x := range ids {
		h = m.step(x, h)
	}
	return m.output(h), nil
}

// step computes h_t = tanh(W_xh[x] + W_hh·h_prev + b_h).
func (m *Model) step(x int, prev []float64) []float64 {
	hs := m.hidden
	in := m.w.wxh.Row(x)
	whh := m.w.whh.Data()
	bh := m.w.bh.Data()
	h := make([]float64, hs)
	for j := 0; j < hs; j++ {
		sum := float64(in[j]) + float64(bh[j])
		row := whh[j*hs : (j+1)*hs]
		for k, p := range prev {
			sum += float64(row[k]) * p
		}
		h[j] = math.Tanh(sum)
	}
	return h
}

// output computes softmax(W_hy·h + b_y).
func (m *Model) output(h []float64) []float64 {
	v := m.enc.Width()
	by := m.w.by.Data()
	logits := make([]float64, v)
	for i := 0; i < v; i++ {
		row := m.w.why.Row(i)
		sum := float64(by[i])
		for k, x := range h {
			sum += float64(row[k]) * x
		}
		logits[i] = sum
	}
	return softmax(logits)
}

func softmax(logits []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, l := range logits {
		if l > maxVal {
			maxVal = l
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Dispose releases every backend tensor. It may be called any number of
// times, including on a model that was never trained.
func (m *Model) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.w != nil {
		m.w.release()
		m.w = nil
	}
	m.enc = nil
	m.state = stateDisposed
}
