// Package tensor is the numeric backend behind the generative model. A
// Backend hands out float32 buffers and keeps track of every buffer that has
// not been released yet.
package tensor

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var ErrReleased = errors.New("tensor already released")

// Backend allocates tensors. It is safe for concurrent use.
type Backend struct {
	mu        sync.Mutex
	live      int
	liveBytes int64
}

func NewBackend() *Backend {
	return &Backend{}
}

// Live is the number of allocated, unreleased tensors.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// LiveBytes is the payload size of all unreleased tensors.
func (b *Backend) LiveBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveBytes
}

// Zeros allocates a zero-filled tensor.
func (b *Backend) Zeros(name string, shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("tensor %s: invalid shape %v", name, shape)
		}
		n *= d
	}
	dims := make([]int, len(shape))
	copy(dims, shape)

	b.mu.Lock()
	b.live++
	b.liveBytes += int64(n) * 4
	b.mu.Unlock()

	return &Tensor{name: name, shape: dims, data: make([]float32, n), backend: b}, nil
}

// Normal allocates a tensor filled with N(0, std²) samples from rng.
func (b *Backend) Normal(name string, rng *rand.Rand, std float64, shape ...int) (*Tensor, error) {
	t, err := b.Zeros(name, shape...)
	if err != nil {
		return nil, err
	}
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64() * std)
	}
	return t, nil
}

func (b *Backend) release(n int) {
	b.mu.Lock()
	b.live--
	b.liveBytes -= int64(n) * 4
	b.mu.Unlock()
}

// Tensor is a dense row-major float32 buffer.
type Tensor struct {
	name    string
	shape   []int
	data    []float32
	backend *Backend
	once    sync.Once
}

func (t *Tensor) Name() string { return t.name }

func (t *Tensor) Shape() []int {
	s := make([]int, len(t.shape))
	copy(s, t.shape)
	return s
}

func (t *Tensor) Len() int { return len(t.data) }

// Data exposes the underlying buffer. It is nil after Release.
func (t *Tensor) Data() []float32 { return t.data }

// Row returns row i of a 2-D tensor.
func (t *Tensor) Row(i int) []float32 {
	cols := t.shape[len(t.shape)-1]
	return t.data[i*cols : (i+1)*cols]
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool { return t.data == nil }

// Release returns the buffer to the backend. Calling it more than once is a
// no-op.
func (t *Tensor) Release() {
	t.once.Do(func() {
		n := len(t.data)
		t.data = nil
		t.backend.release(n)
	})
}

// ReleaseAll releases every non-nil tensor in ts.
func ReleaseAll(ts ...*Tensor) {
	for _, t := range ts {
		if t != nil {
			t.Release()
		}
	}
}
