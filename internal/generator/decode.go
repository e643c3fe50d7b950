package generator

import (
	"fmt"

	"github.com/Trojaner/ImpostorBot/internal/rnn"
	"github.com/Trojaner/ImpostorBot/internal/vocab"
)

// decode runs the autoregressive loop. The context window starts with the
// seed tokens (or one random vocabulary token) and slides as tokens are
// appended; <end> is suppressed until params.minLength tokens exist.
func (g *Generator) decode(model *rnn.Model, seed string, params decodeParams) (*Result, error) {
	enc, err := model.Encoder()
	if err != nil {
		return nil, err
	}
	v := enc.Vocabulary()
	tok := v.Tokenizer()
	if v.Size() <= v.Reserved() {
		return nil, fmt.Errorf("vocabulary has no ordinary tokens")
	}

	prefix := tok.Split(seed)
	window := enc.Tokenize(seed)
	if len(prefix) == 0 {
		start := v.Reserved() + g.sampler.Intn(v.Size()-v.Reserved())
		prefix = []string{v.Token(start)}
		window = []int{start}
	}
	if len(window) > enc.Window() {
		window = window[len(window)-enc.Window():]
	}

	generated := make([]int, 0, params.maxLength)
	for len(generated) < params.maxLength {
		probs, err := model.PredictStep(window)
		if err != nil {
			return nil, err
		}
		probs[vocab.PadIndex] = 0
		if v.UnknownMode() == vocab.UnknownMap {
			probs[vocab.UnknownIndex] = 0
		}
		if len(generated) < params.minLength {
			probs[vocab.EndIndex] = 0
		}

		next := g.sampler.Sample(probs, params.temperature)
		if next == vocab.EndIndex || probs[next] == 0 {
			break
		}
		generated = append(generated, next)
		window = append(window, next)
		if len(window) > enc.Window() {
			window = window[1:]
		}
	}

	continuation := v.Decode(generated)
	return &Result{
		Text:         tok.Join(append(prefix, continuation...)),
		Continuation: tok.Join(continuation),
		Tokens:       len(generated),
	}, nil
}
