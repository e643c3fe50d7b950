package generator

import (
	"fmt"
	"math"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/Trojaner/ImpostorBot/internal/models"
	"github.com/Trojaner/ImpostorBot/internal/rnn"
)

// MaxSeedLength bounds the seed text in characters.
const MaxSeedLength = 5000

// Options configures generation defaults and the retrain budget.
type Options struct {
	Hyperparameters rnn.Hyperparameters `yaml:"model"`
	// TrainingTimeout bounds corpus fetch, training and persistence of one
	// retrain. Default 5m.
	TrainingTimeout time.Duration `yaml:"training_timeout"`
	// MaxConcurrentTrainings bounds retrains across all authors. Default
	// runtime.GOMAXPROCS(0).
	MaxConcurrentTrainings int64 `yaml:"max_concurrent_trainings"`
	// DefaultMinLength and DefaultMaxLength are used when a request sets no
	// bounds. Defaults 1 and 60 tokens.
	DefaultMinLength int `yaml:"default_min_length"`
	DefaultMaxLength int `yaml:"default_max_length"`
	// MaxLengthLimit is the largest MaxLength a request may ask for. Default 500.
	MaxLengthLimit int `yaml:"max_length_limit"`
	// DefaultTemperature is used when a request sets none. Default 0.8.
	DefaultTemperature float64 `yaml:"default_temperature"`
}

// WithDefaults fills every zero field with its default.
func (o Options) WithDefaults() Options {
	o.Hyperparameters = o.Hyperparameters.WithDefaults()
	if o.TrainingTimeout <= 0 {
		o.TrainingTimeout = 5 * time.Minute
	}
	if o.MaxConcurrentTrainings <= 0 {
		o.MaxConcurrentTrainings = int64(runtime.GOMAXPROCS(0))
	}
	if o.DefaultMinLength <= 0 {
		o.DefaultMinLength = 1
	}
	if o.DefaultMaxLength <= 0 {
		o.DefaultMaxLength = 60
	}
	if o.MaxLengthLimit <= 0 {
		o.MaxLengthLimit = 500
	}
	if o.DefaultTemperature <= 0 {
		o.DefaultTemperature = 0.8
	}
	return o
}

func (o Options) Validate() error {
	if err := o.Hyperparameters.Validate(); err != nil {
		return err
	}
	if o.DefaultMinLength > o.DefaultMaxLength {
		return fmt.Errorf("default_min_length %d exceeds default_max_length %d", o.DefaultMinLength, o.DefaultMaxLength)
	}
	if o.DefaultMaxLength > o.MaxLengthLimit {
		return fmt.Errorf("default_max_length %d exceeds max_length_limit %d", o.DefaultMaxLength, o.MaxLengthLimit)
	}
	return nil
}

// Request asks for text in the style of one author. Zero lengths and a nil
// temperature select the configured defaults.
type Request struct {
	CollectionID int64    `json:"collection_id"`
	AuthorID     int64    `json:"author_id"`
	SeedText     string   `json:"seed_text"`
	MinLength    int      `json:"min_length"`
	MaxLength    int      `json:"max_length"`
	Temperature  *float64 `json:"temperature"`
}

func (r Request) Key() models.AuthorKey {
	return models.AuthorKey{CollectionID: r.CollectionID, AuthorID: r.AuthorID}
}

// Result is the decoded text plus where it came from.
type Result struct {
	Text string `json:"text"`
	// Continuation is the generated part without the seed.
	Continuation string `json:"continuation"`
	Tokens       int    `json:"tokens"`
	ArtifactID   int64  `json:"artifact_id"`
	Retrained    bool   `json:"retrained"`
}

type decodeParams struct {
	minLength   int
	maxLength   int
	temperature float64
}

// validate rejects malformed requests before any model work.
func (g *Generator) validate(req Request) (decodeParams, error) {
	if !utf8.ValidString(req.SeedText) {
		return decodeParams{}, fmt.Errorf("%w: seed text is not valid UTF-8", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(req.SeedText); n > MaxSeedLength {
		return decodeParams{}, fmt.Errorf("%w: seed text has %d characters, limit is %d", ErrInvalidRequest, n, MaxSeedLength)
	}

	p := decodeParams{
		minLength:   req.MinLength,
		maxLength:   req.MaxLength,
		temperature: g.opts.DefaultTemperature,
	}
	if p.minLength == 0 && p.maxLength == 0 {
		p.minLength, p.maxLength = g.opts.DefaultMinLength, g.opts.DefaultMaxLength
	} else if p.maxLength == 0 {
		p.maxLength = max(p.minLength, g.opts.DefaultMaxLength)
	}
	switch {
	case p.minLength < 0 || p.maxLength < 0:
		return decodeParams{}, fmt.Errorf("%w: lengths must not be negative", ErrInvalidRequest)
	case p.minLength > p.maxLength:
		return decodeParams{}, fmt.Errorf("%w: min_length %d exceeds max_length %d", ErrInvalidRequest, p.minLength, p.maxLength)
	case p.maxLength > g.opts.MaxLengthLimit:
		return decodeParams{}, fmt.Errorf("%w: max_length %d exceeds limit %d", ErrInvalidRequest, p.maxLength, g.opts.MaxLengthLimit)
	}

	if req.Temperature != nil {
		t := *req.Temperature
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
			return decodeParams{}, fmt.Errorf("%w: temperature must be a non-negative number", ErrInvalidRequest)
		}
		p.temperature = t
	}
	return p, nil
}
