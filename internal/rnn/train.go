package rnn

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/encoder"
	"github.com/Trojaner/ImpostorBot/internal/tensor"
	"github.com/Trojaner/ImpostorBot/internal/vocab"
)

const (
	initStd   = 0.08
	adamBeta1 = 0.9
	adamBeta2 = 0.99
	adamEps   = 1e-8
)

type trainingPair struct {
	input  []int
	target []int
}

// Train builds the vocabulary and encoder from corpus and fits a fresh
// network. Messages with no tokens or more than MaxTokensPerMessage tokens
// are skipped. On any error, including ctx cancellation, every tensor
// allocated for training is released and the model stays untrained.
func (m *Model) Train(ctx context.Context, corpus []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireUntrained(); err != nil {
		return err
	}

	tok, err := vocab.NewTokenizer(m.hp.Granularity)
	if err != nil {
		return err
	}
	docs := make([][]string, 0, len(corpus))
	for _, text := range corpus {
		tokens := tok.Split(text)
		if len(tokens) == 0 || len(tokens) > m.hp.MaxTokensPerMessage {
			continue
		}
		docs = append(docs, tokens)
	}
	if len(docs) == 0 {
		return fmt.Errorf("%w: corpus is empty after filtering", ErrTraining)
	}

	v, err := vocab.Build(docs, m.hp.vocabOptions())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTraining, err)
	}
	seqs := make([][]int, 0, len(docs))
	for _, d := range docs {
		if ids := v.Encode(d); len(ids) > 0 {
			seqs = append(seqs, ids)
		}
	}
	if len(seqs) == 0 {
		return fmt.Errorf("%w: no sequence survived encoding", ErrTraining)
	}

	enc, err := encoder.New(v, encoder.WindowFor(seqs, m.hp.MaxTokensPerMessage))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTraining, err)
	}
	pairs := make([]trainingPair, 0, len(seqs))
	for _, s := range seqs {
		in, tgt, ok := enc.Pair(s)
		if ok {
			pairs = append(pairs, trainingPair{input: in, target: tgt})
		}
	}

	rng := rand.New(rand.NewSource(m.hp.Seed))
	w, err := initWeights(m.backend, rng, v.Size(), m.hp.HiddenSize)
	if err != nil {
		return err
	}

	m.enc = enc
	m.hidden = m.hp.HiddenSize
	m.w = w

	opt, err := newAdam(m.backend, w.list(), m.hp.LearningRate, m.hp.GradClip)
	if err != nil {
		m.resetUntrained()
		return err
	}
	defer opt.release()

	m.logger.Info("Training model",
		zap.Int("sequences", len(pairs)),
		zap.Int("vocabulary", v.Size()),
		zap.Int("window", enc.Window()),
		zap.Int("hidden", m.hidden),
		zap.Int("epochs", m.hp.Epochs))

	order := make([]int, len(pairs))
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < m.hp.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		total := 0.0
		for _, idx := range order {
			if err := ctx.Err(); err != nil {
				m.resetUntrained()
				return fmt.Errorf("training aborted: %w", err)
			}
			total += m.backprop(pairs[idx], opt.grads)
			opt.step()
		}
		m.logger.Debug("Epoch finished",
			zap.Int("epoch", epoch+1),
			zap.Float64("loss", total/float64(len(pairs))))
	}

	m.state = stateTrained
	return nil
}

func (m *Model) resetUntrained() {
	if m.w != nil {
		m.w.release()
		m.w = nil
	}
	m.enc = nil
	m.hidden = 0
}

// initWeights draws the matrices from N(0, initStd²) in the order wxh, whh,
// why; biases start at zero.
func initWeights(b *tensor.Backend, rng *rand.Rand, v, h int) (*weights, error) {
	w := &weights{}
	var err error
	if w.wxh, err = b.Normal(tensorWxh, rng, initStd, v, h); err != nil {
		return nil, err
	}
	if w.whh, err = b.Normal(tensorWhh, rng, initStd, h, h); err != nil {
		w.release()
		return nil, err
	}
	if w.bh, err = b.Zeros(tensorBh, h); err != nil {
		w.release()
		return nil, err
	}
	if w.why, err = b.Normal(tensorWhy, rng, initStd, v, h); err != nil {
		w.release()
		return nil, err
	}
	if w.by, err = b.Zeros(tensorBy, v); err != nil {
		w.release()
		return nil, err
	}
	return w, nil
}

// backprop runs forward and backward over one pair, writes gradients into
// grads (same order as weights.list) and returns the mean masked
// cross-entropy.
func (m *Model) backprop(p trainingPair, grads *weights) float64 {
	for _, g := range grads.list() {
		clear(g.Data())
	}
	n := len(p.input)
	hs := m.hidden
	vs := m.enc.Width()

	states := make([][]float64, n+1)
	states[0] = make([]float64, hs)
	probs := make([][]float64, n)
	for t := 0; t < n; t++ {
		states[t+1] = m.step(p.input[t], states[t])
		probs[t] = m.output(states[t+1])
	}

	counted := 0
	for _, tgt := range p.target {
		if tgt != vocab.PadIndex {
			counted++
		}
	}
	if counted == 0 {
		return 0
	}
	scale := 1 / float64(counted)

	loss := 0.0
	whh := m.w.whh.Data()
	gwhh := grads.whh.Data()
	gbh := grads.bh.Data()
	gby := grads.by.Data()
	next := make([]float64, hs)
	for t := n - 1; t >= 0; t-- {
		h := states[t+1]
		dh := make([]float64, hs)
		copy(dh, next)

		if tgt := p.target[t]; tgt != vocab.PadIndex {
			loss -= math.Log(math.Max(probs[t][tgt], 1e-12))
			for i := 0; i < vs; i++ {
				dy := probs[t][i]
				if i == tgt {
					dy -= 1
				}
				dy *= scale
				gby[i] += float32(dy)
				row := m.w.why.Row(i)
				grow := grads.why.Row(i)
				for k := 0; k < hs; k++ {
					grow[k] += float32(dy * h[k])
					dh[k] += float64(row[k]) * dy
				}
			}
		}

		prev := states[t]
		gin := grads.wxh.Row(p.input[t])
		for j := 0; j < hs; j++ {
			dh[j] *= 1 - h[j]*h[j]
		}
		for j := range next {
			next[j] = 0
		}
		for j := 0; j < hs; j++ {
			d := dh[j]
			if d == 0 {
				continue
			}
			gbh[j] += float32(d)
			gin[j] += float32(d)
			row := whh[j*hs : (j+1)*hs]
			grow := gwhh[j*hs : (j+1)*hs]
			for k := 0; k < hs; k++ {
				grow[k] += float32(d * prev[k])
				next[k] += float64(row[k]) * d
			}
		}
	}
	return loss * scale
}

// adam keeps first and second moments for every parameter on the backend.
type adam struct {
	params []*tensor.Tensor
	grads  *weights
	m, v   []*tensor.Tensor
	lr     float64
	clip   float64
	t      int
}

func newAdam(b *tensor.Backend, params []*tensor.Tensor, lr, clip float64) (*adam, error) {
	a := &adam{params: params, lr: lr, clip: clip}
	prefixed := func(s string) string { return "grad_" + s }
	grads, err := allocWeights(b, prefixed, params[0].Shape()[0], params[0].Shape()[1])
	if err != nil {
		return nil, err
	}
	a.grads = grads
	for _, p := range params {
		mt, err := b.Zeros("adam_m_"+p.Name(), p.Shape()...)
		if err != nil {
			a.release()
			return nil, err
		}
		a.m = append(a.m, mt)
		vt, err := b.Zeros("adam_v_"+p.Name(), p.Shape()...)
		if err != nil {
			a.release()
			return nil, err
		}
		a.v = append(a.v, vt)
	}
	return a, nil
}

// step clips gradients elementwise and applies one bias-corrected update.
func (a *adam) step() {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))
	for i, g := range a.grads.list() {
		p := a.params[i].Data()
		m := a.m[i].Data()
		v := a.v[i].Data()
		for j, gv := range g.Data() {
			grad := math.Max(-a.clip, math.Min(a.clip, float64(gv)))
			mj := adamBeta1*float64(m[j]) + (1-adamBeta1)*grad
			vj := adamBeta2*float64(v[j]) + (1-adamBeta2)*grad*grad
			m[j] = float32(mj)
			v[j] = float32(vj)
			p[j] -= float32(a.lr * (mj / c1) / (math.Sqrt(vj/c2) + adamEps))
		}
	}
}

func (a *adam) release() {
	if a.grads != nil {
		a.grads.release()
	}
	tensor.ReleaseAll(a.m...)
	tensor.ReleaseAll(a.v...)
}
