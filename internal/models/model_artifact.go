package models

import "time"

// AuthorKey identifies one per-author model.
type AuthorKey struct {
	CollectionID int64 `json:"collection_id"`
	AuthorID     int64 `json:"author_id"`
}

// ModelArtifact is a persisted trained model. LastMessageID is the newest
// message of the author known when training started.
type ModelArtifact struct {
	ArtifactID      int64     `db:"artifact_id" json:"artifact_id"`
	CollectionID    int64     `db:"collection_id" json:"collection_id"`
	AuthorID        int64     `db:"author_id" json:"author_id"`
	LastMessageID   int64     `db:"last_message_id" json:"last_message_id"`
	ModelTopology   string    `db:"model_topology" json:"model_topology"`
	WeightSpecs     string    `db:"weight_specs" json:"-"`
	WeightData      []byte    `db:"weight_data" json:"-"`
	VocabularyState string    `db:"vocabulary_state" json:"-"`
	TrainedAt       time.Time `db:"trained_at" json:"trained_at"`
}

func (a *ModelArtifact) Key() AuthorKey {
	return AuthorKey{CollectionID: a.CollectionID, AuthorID: a.AuthorID}
}
