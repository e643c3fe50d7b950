// Package generator resolves a per-author model (cached or retrained) and
// decodes text from it.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Trojaner/ImpostorBot/internal/lease"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/models"
	"github.com/Trojaner/ImpostorBot/internal/rnn"
	"github.com/Trojaner/ImpostorBot/internal/sampler"
	"github.com/Trojaner/ImpostorBot/internal/tensor"
)

var (
	ErrNoData          = errors.New("no usable message history")
	ErrTrainingTimeout = errors.New("training exceeded its time budget")
	ErrInvalidRequest  = errors.New("invalid generation request")
)

// Store is the part of the model store the generator needs.
type Store interface {
	NewestMessageID(ctx context.Context, key models.AuthorKey) (int64, bool, error)
	LoadCurrent(ctx context.Context, key models.AuthorKey) (*models.ModelArtifact, error)
	IsStale(ctx context.Context, a *models.ModelArtifact) (bool, int64, error)
	FetchCorpus(ctx context.Context, key models.AuthorKey) (*model_store.Corpus, error)
	Replace(ctx context.Context, old, next *models.ModelArtifact) error
	Discard(ctx context.Context, a *models.ModelArtifact) error
}

// Generator is safe for concurrent use.
type Generator struct {
	store   Store
	backend *tensor.Backend
	locker  lease.Locker
	sampler *sampler.Sampler
	opts    Options
	logger  *zap.Logger

	flights   singleflight.Group
	trainings *semaphore.Weighted
}

func New(
	store Store,
	backend *tensor.Backend,
	locker lease.Locker,
	smp *sampler.Sampler,
	opts Options,
	logger *zap.Logger,
) (*Generator, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = lease.Nop{}
	}
	if smp == nil {
		smp = sampler.NewSeeded(time.Now().UnixNano())
	}
	return &Generator{
		store:     store,
		backend:   backend,
		locker:    locker,
		sampler:   smp,
		opts:      opts,
		logger:    logger,
		trainings: semaphore.NewWeighted(opts.MaxConcurrentTrainings),
	}, nil
}

// Generate produces text imitating the requested author.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	params, err := g.validate(req)
	if err != nil {
		return nil, err
	}
	key := req.Key()

	if _, ok, err := g.store.NewestMessageID(ctx, key); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: author %d in collection %d", ErrNoData, key.AuthorID, key.CollectionID)
	}

	model, row, retrained, err := g.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	defer model.Dispose()

	result, err := g.decode(model, req.SeedText, params)
	if err != nil {
		g.logger.Error("Decoding failed", zap.Int64("author_id", key.AuthorID), zap.Error(err))
		return nil, err
	}
	result.ArtifactID = row.ArtifactID
	result.Retrained = retrained
	return result, nil
}

// resolve returns an imported model for key. The caller owns the model.
func (g *Generator) resolve(ctx context.Context, key models.AuthorKey) (*rnn.Model, *models.ModelArtifact, bool, error) {
	current, err := g.store.LoadCurrent(ctx, key)
	if err != nil {
		return nil, nil, false, err
	}
	var unusable int64
	if current != nil {
		stale, newCount, err := g.store.IsStale(ctx, current)
		if err != nil {
			return nil, nil, false, err
		}
		if !stale {
			model, err := g.importArtifact(current)
			if !errors.Is(err, rnn.ErrInvalidArtifact) {
				return model, current, false, err
			}
			// a corrupt artifact is replaced like a stale one
			g.logger.Error("Current model is unusable, retraining",
				zap.Int64("collection_id", key.CollectionID),
				zap.Int64("author_id", key.AuthorID),
				zap.Int64("artifact_id", current.ArtifactID),
				zap.Error(err))
			unusable = current.ArtifactID
		} else {
			g.logger.Info("Model is stale",
				zap.Int64("collection_id", key.CollectionID),
				zap.Int64("author_id", key.AuthorID),
				zap.Int64("artifact_id", current.ArtifactID),
				zap.Int64("new_messages", newCount))
		}
	}

	row, err := g.retrain(ctx, key, unusable)
	if err != nil {
		return nil, nil, false, err
	}
	model, err := g.importArtifact(row)
	return model, row, true, err
}

func flightKey(key models.AuthorKey) string {
	return strconv.FormatInt(key.CollectionID, 10) + ":" + strconv.FormatInt(key.AuthorID, 10)
}

// retrain runs at most one retrain per key in this process; concurrent
// callers wait for it and share its artifact. The retrain is detached from
// ctx, so a caller that gives up does not waste the work for the others.
// The training timeout starts once a training slot is held; time spent
// queued behind other authors is not charged to it. An artifact with id
// unusable is never returned as current.
func (g *Generator) retrain(ctx context.Context, key models.AuthorKey, unusable int64) (*models.ModelArtifact, error) {
	fk := flightKey(key)
	detached := context.WithoutCancel(ctx)
	ch := g.flights.DoChan(fk, func() (any, error) {
		if err := g.trainings.Acquire(detached, 1); err != nil {
			return nil, err
		}
		defer g.trainings.Release(1)

		trainCtx, cancel := context.WithTimeout(detached, g.opts.TrainingTimeout)
		defer cancel()
		row, err := g.retrainLocked(trainCtx, key, fk, unusable)
		if err != nil {
			return nil, g.timeoutError(err)
		}
		return row, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			g.logger.Debug("Joined in-flight retrain", zap.String("key", fk))
		}
		return res.Val.(*models.ModelArtifact), nil
	}
}

func (g *Generator) retrainLocked(ctx context.Context, key models.AuthorKey, fk string, unusable int64) (*models.ModelArtifact, error) {
	release, err := g.locker.Acquire(ctx, fk)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	// another instance may have finished while we waited
	current, err := g.store.LoadCurrent(ctx, key)
	if err != nil {
		return nil, err
	}
	if current != nil && current.ArtifactID == unusable {
		if err := g.store.Discard(ctx, current); err != nil {
			return nil, err
		}
		current = nil
	}
	if current != nil {
		stale, _, err := g.store.IsStale(ctx, current)
		if err != nil {
			return nil, err
		}
		if !stale {
			return current, nil
		}
	}

	corpus, err := g.store.FetchCorpus(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(corpus.Texts) == 0 {
		return nil, fmt.Errorf("%w: author %d has no usable messages", ErrNoData, key.AuthorID)
	}

	model, err := rnn.New(g.backend, g.opts.Hyperparameters, g.logger)
	if err != nil {
		return nil, err
	}
	defer model.Dispose()

	start := time.Now()
	if err := model.Train(ctx, corpus.Texts); err != nil {
		return nil, err
	}
	art, err := model.Export()
	if err != nil {
		g.logger.Error("Export after training failed", zap.Error(err))
		return nil, err
	}

	row := &models.ModelArtifact{
		CollectionID:    key.CollectionID,
		AuthorID:        key.AuthorID,
		LastMessageID:   corpus.Watermark,
		ModelTopology:   art.Topology,
		WeightSpecs:     art.WeightSpecs,
		WeightData:      art.WeightData,
		VocabularyState: art.VocabularyState,
		TrainedAt:       time.Now(),
	}
	if err := g.store.Replace(ctx, current, row); err != nil {
		return nil, err
	}

	g.logger.Info("Model retrained",
		zap.Int64("collection_id", key.CollectionID),
		zap.Int64("author_id", key.AuthorID),
		zap.Int("messages", len(corpus.Texts)),
		zap.Int("weight_bytes", len(row.WeightData)),
		zap.Duration("took", time.Since(start)))
	return row, nil
}

func (g *Generator) timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: gave up after %s: %v", ErrTrainingTimeout, g.opts.TrainingTimeout, err)
	}
	return err
}

func (g *Generator) importArtifact(row *models.ModelArtifact) (*rnn.Model, error) {
	model, err := rnn.New(g.backend, g.opts.Hyperparameters, g.logger)
	if err != nil {
		return nil, err
	}
	err = model.Import(&rnn.Artifact{
		Topology:        row.ModelTopology,
		WeightSpecs:     row.WeightSpecs,
		WeightData:      row.WeightData,
		VocabularyState: row.VocabularyState,
	})
	if err != nil {
		model.Dispose()
		g.logger.Error("Failed to import model artifact", zap.Int64("artifact_id", row.ArtifactID), zap.Error(err))
		return nil, err
	}
	return model, nil
}

// ModelInfo describes the current artifact of an author.
type ModelInfo struct {
	Artifact    *models.ModelArtifact `json:"artifact"`
	Topology    rnn.Topology          `json:"topology"`
	NewMessages int64                 `json:"new_messages"`
	Stale       bool                  `json:"stale"`
}

// Describe reports the current artifact of key without training. It returns
// ErrNoData when no artifact exists.
func (g *Generator) Describe(ctx context.Context, key models.AuthorKey) (*ModelInfo, error) {
	current, err := g.store.LoadCurrent(ctx, key)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: no model for author %d", ErrNoData, key.AuthorID)
	}
	stale, n, err := g.store.IsStale(ctx, current)
	if err != nil {
		return nil, err
	}
	topo, err := (&rnn.Artifact{Topology: current.ModelTopology}).ParseTopology()
	if err != nil {
		return nil, err
	}
	return &ModelInfo{Artifact: current, Topology: topo, NewMessages: n, Stale: stale}, nil
}
