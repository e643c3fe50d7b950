package rnn

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Trojaner/ImpostorBot/internal/encoder"
	"github.com/Trojaner/ImpostorBot/internal/tensor"
)

const (
	TopologyKind = "elman_rnn"
	activation   = "tanh"
	outputHead   = "softmax"
)

// Artifact is the serialized form of a trained model. Import(Export(m))
// reproduces m's decode behavior exactly.
type Artifact struct {
	Topology        string
	WeightSpecs     string
	WeightData      []byte
	VocabularyState string
}

// Topology describes the network shape.
type Topology struct {
	Kind       string `json:"kind"`
	VocabSize  int    `json:"vocab_size"`
	HiddenSize int    `json:"hidden_size"`
	Window     int    `json:"window"`
	Activation string `json:"activation"`
	Output     string `json:"output"`
}

// ParseTopology decodes the Topology field of an artifact.
func (a *Artifact) ParseTopology() (Topology, error) {
	var t Topology
	if err := json.Unmarshal([]byte(a.Topology), &t); err != nil {
		return Topology{}, fmt.Errorf("%w: topology: %v", ErrInvalidArtifact, err)
	}
	return t, nil
}

func (m *Model) Export() (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTrained(); err != nil {
		return nil, err
	}

	topology, err := json.Marshal(Topology{
		Kind:       TopologyKind,
		VocabSize:  m.enc.Width(),
		HiddenSize: m.hidden,
		Window:     m.enc.Window(),
		Activation: activation,
		Output:     outputHead,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal topology: %w", err)
	}

	blob, specs, err := tensor.Pack(m.w.list())
	if err != nil {
		return nil, fmt.Errorf("failed to pack weights: %w", err)
	}
	specsJSON, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal weight specs: %w", err)
	}
	vocabJSON, err := json.Marshal(m.enc.State())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vocabulary state: %w", err)
	}

	return &Artifact{
		Topology:        string(topology),
		WeightSpecs:     string(specsJSON),
		WeightData:      blob,
		VocabularyState: string(vocabJSON),
	}, nil
}

// Import rebuilds the model from a. The model must be untrained.
func (m *Model) Import(a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireUntrained(); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: nil artifact", ErrInvalidArtifact)
	}

	topo, err := a.ParseTopology()
	if err != nil {
		return err
	}
	if topo.Kind != TopologyKind || topo.Activation != activation || topo.Output != outputHead {
		return fmt.Errorf("%w: unsupported topology %s/%s/%s", ErrInvalidArtifact, topo.Kind, topo.Activation, topo.Output)
	}
	if topo.HiddenSize <= 0 {
		return fmt.Errorf("%w: hidden size %d", ErrInvalidArtifact, topo.HiddenSize)
	}

	var encState encoder.State
	if err := json.Unmarshal([]byte(a.VocabularyState), &encState); err != nil {
		return fmt.Errorf("%w: vocabulary state: %v", ErrInvalidArtifact, err)
	}
	enc, err := encoder.FromState(encState)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if enc.Width() != topo.VocabSize || enc.Window() != topo.Window {
		return fmt.Errorf("%w: vocabulary does not match topology", ErrInvalidArtifact)
	}

	var specs []tensor.Spec
	if err := json.Unmarshal([]byte(a.WeightSpecs), &specs); err != nil {
		return fmt.Errorf("%w: weight specs: %v", ErrInvalidArtifact, err)
	}
	ts, err := tensor.Unpack(m.backend, a.WeightData, specs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	w, err := assignWeights(ts, topo)
	if err != nil {
		tensor.ReleaseAll(ts...)
		return err
	}

	m.enc = enc
	m.hidden = topo.HiddenSize
	m.w = w
	m.state = stateTrained
	return nil
}

func assignWeights(ts []*tensor.Tensor, topo Topology) (*weights, error) {
	v, h := topo.VocabSize, topo.HiddenSize
	want := map[string][]int{
		tensorWxh: {v, h},
		tensorWhh: {h, h},
		tensorBh:  {h},
		tensorWhy: {v, h},
		tensorBy:  {v},
	}
	if len(ts) != len(want) {
		return nil, fmt.Errorf("%w: expected %d tensors, got %d", ErrInvalidArtifact, len(want), len(ts))
	}
	w := &weights{}
	for _, t := range ts {
		shape, ok := want[t.Name()]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected tensor %s", ErrInvalidArtifact, t.Name())
		}
		if !slices.Equal(shape, t.Shape()) {
			return nil, fmt.Errorf("%w: tensor %s has shape %v, want %v", ErrInvalidArtifact, t.Name(), t.Shape(), shape)
		}
		switch t.Name() {
		case tensorWxh:
			w.wxh = t
		case tensorWhh:
			w.whh = t
		case tensorBh:
			w.bh = t
		case tensorWhy:
			w.why = t
		case tensorBy:
			w.by = t
		}
	}
	for _, t := range w.list() {
		if t == nil {
			return nil, fmt.Errorf("%w: duplicate tensor", ErrInvalidArtifact)
		}
	}
	return w, nil
}
