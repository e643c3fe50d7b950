package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, MinTemperature, Clamp(0))
	assert.Equal(t, MinTemperature, Clamp(-3))
	assert.Equal(t, 0.7, Clamp(0.7))
}

func TestReweight(t *testing.T) {
	probs := []float64{0.2, 0.3, 0.5}
	assert.InDeltaSlice(t, probs, Reweight(probs, 1), 1e-12)

	sharp := Reweight(probs, 0.5)
	assert.Greater(t, sharp[2], probs[2])
	assert.Less(t, sharp[0], probs[0])

	flat := Reweight(probs, 5)
	assert.Less(t, flat[2], probs[2])
	assert.Greater(t, flat[0], probs[0])

	sum := 0.0
	for _, p := range flat {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)

	assert.Equal(t, []float64{0, 0}, Reweight([]float64{0, 0}, 1))
}

func TestSample_StaysInBounds(t *testing.T) {
	s := NewSeeded(1)
	probs := []float64{0.1, 0, 0.6, 0.3}
	for i := 0; i < 2000; i++ {
		idx := s.Sample(probs, 1.5)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, len(probs))
		require.NotEqual(t, 1, idx, "zero-probability entry drawn")
	}
}

func TestSample_LowTemperatureConvergesToArgmax(t *testing.T) {
	s := NewSeeded(7)
	probs := []float64{0.3, 0.25, 0.45}
	hits := 0
	for i := 0; i < 1000; i++ {
		if s.Sample(probs, 0) == 2 {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, 999)
}

func TestSample_HighTemperatureSpreads(t *testing.T) {
	s := NewSeeded(3)
	probs := []float64{0.05, 0.05, 0.9}
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		seen[s.Sample(probs, 10)] = true
	}
	assert.Len(t, seen, 3)
}

func TestSample_Degenerate(t *testing.T) {
	s := NewSeeded(1)
	assert.Equal(t, -1, s.Sample(nil, 1))
	assert.Equal(t, 0, s.Sample([]float64{0, 0, 0}, 1))
	assert.Equal(t, 1, s.Sample([]float64{0, 1, 0}, 1))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float64{0.1, 0.5, 0.5}))
}
