package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/models"
)

type ArtifactRepository interface {
	// Current returns the artifact with the greatest artifact_id for key,
	// or nil when none exists.
	Current(ctx context.Context, key models.AuthorKey) (*models.ModelArtifact, error)
	// Insert stores a and fills a.ArtifactID.
	Insert(ctx context.Context, a *models.ModelArtifact) error
	Delete(ctx context.Context, artifactID int64) error
	// Count returns the number of stored artifacts for key.
	Count(ctx context.Context, key models.AuthorKey) (int, error)
	// DeleteOlderThan removes every artifact of key with artifact_id < id.
	DeleteOlderThan(ctx context.Context, key models.AuthorKey, id int64) (int64, error)
}

type artifactRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewArtifactRepository(db *sqlx.DB, logger *zap.Logger) ArtifactRepository {
	return &artifactRepository{db: db, logger: logger}
}

func (r *artifactRepository) Current(ctx context.Context, key models.AuthorKey) (*models.ModelArtifact, error) {
	var a models.ModelArtifact
	query := r.db.Rebind(`SELECT artifact_id, collection_id, author_id, last_message_id, model_topology, weight_specs,
		weight_data, vocabulary_state, trained_at
		FROM model_artifacts
		WHERE collection_id = ? AND author_id = ?
		ORDER BY artifact_id DESC
		LIMIT 1`)
	err := r.db.GetContext(ctx, &a, query, key.CollectionID, key.AuthorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *artifactRepository) Insert(ctx context.Context, a *models.ModelArtifact) error {
	query := r.db.Rebind(`INSERT INTO model_artifacts (collection_id, author_id, last_message_id, model_topology,
		weight_specs, weight_data, vocabulary_state, trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING artifact_id`)
	return r.db.QueryRowxContext(ctx, query, a.CollectionID, a.AuthorID, a.LastMessageID, a.ModelTopology,
		a.WeightSpecs, a.WeightData, a.VocabularyState, a.TrainedAt.UTC()).Scan(&a.ArtifactID)
}

func (r *artifactRepository) Delete(ctx context.Context, artifactID int64) error {
	query := r.db.Rebind(`DELETE FROM model_artifacts WHERE artifact_id = ?`)
	result, err := r.db.ExecContext(ctx, query, artifactID)
	if err != nil {
		r.logger.Error("Failed to delete model artifact", zap.Int64("artifact_id", artifactID), zap.Error(err))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("model artifact not found: %d", artifactID)
	}
	return nil
}

func (r *artifactRepository) Count(ctx context.Context, key models.AuthorKey) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM model_artifacts WHERE collection_id = ? AND author_id = ?`)
	if err := r.db.GetContext(ctx, &count, query, key.CollectionID, key.AuthorID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *artifactRepository) DeleteOlderThan(ctx context.Context, key models.AuthorKey, id int64) (int64, error) {
	query := r.db.Rebind(`DELETE FROM model_artifacts WHERE collection_id = ? AND author_id = ? AND artifact_id < ?`)
	result, err := r.db.ExecContext(ctx, query, key.CollectionID, key.AuthorID, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
