// Package model_store persists one current model artifact per author and
// decides when it has gone stale.
package model_store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/crypto"
	"github.com/Trojaner/ImpostorBot/internal/models"
	"github.com/Trojaner/ImpostorBot/internal/repository"
)

// MaxContentLength bounds a stored message in characters.
const MaxContentLength = 5000

var ErrInvalidMessage = errors.New("invalid message")

// CorpusOptions controls which messages are used for retraining.
type CorpusOptions struct {
	// MaxMessages caps the corpus, newest first. Default 10000.
	MaxMessages int `yaml:"max_messages"`
	// CommandPrefixes lists the runes that start a bot command. Default "!/.?$".
	CommandPrefixes string `yaml:"command_prefixes"`
	// MinCommandLength is the length a prefixed message must exceed to count
	// as a command. Default 1.
	MinCommandLength int `yaml:"min_command_length"`
}

func (o CorpusOptions) withDefaults() CorpusOptions {
	if o.MaxMessages <= 0 {
		o.MaxMessages = 10000
	}
	if o.CommandPrefixes == "" {
		o.CommandPrefixes = "!/.?$"
	}
	if o.MinCommandLength <= 0 {
		o.MinCommandLength = 1
	}
	return o
}

// IsCommand reports whether text looks like a bot command.
func (o CorpusOptions) IsCommand(text string) bool {
	o = o.withDefaults()
	r, _ := utf8.DecodeRuneInString(text)
	return strings.ContainsRune(o.CommandPrefixes, r) && utf8.RuneCountInString(text) > o.MinCommandLength
}

// Corpus is the decrypted training sample for one author.
type Corpus struct {
	Texts []string
	// Watermark is the newest message id of the author at fetch time.
	Watermark int64
}

// Store is the only writer of model_artifacts.
type Store struct {
	messages  repository.MessageRepository
	artifacts repository.ArtifactRepository
	cipher    crypto.Cipher
	policy    Policy
	corpus    CorpusOptions
	logger    *zap.Logger
}

func NewStore(
	messages repository.MessageRepository,
	artifacts repository.ArtifactRepository,
	cipher crypto.Cipher,
	policy Policy,
	corpus CorpusOptions,
	logger *zap.Logger,
) *Store {
	if cipher == nil {
		cipher = crypto.Plaintext{}
	}
	return &Store{
		messages:  messages,
		artifacts: artifacts,
		cipher:    cipher,
		policy:    policy,
		corpus:    corpus.withDefaults(),
		logger:    logger,
	}
}

func (s *Store) Policy() Policy { return s.policy }

// RecordMessage validates, encrypts and stores a message. It reports false
// for a duplicate.
func (s *Store) RecordMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if !utf8.ValidString(msg.Content) {
		return false, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(msg.Content) > MaxContentLength {
		return false, fmt.Errorf("%w: content longer than %d characters", ErrInvalidMessage, MaxContentLength)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	encrypted, err := s.cipher.Encrypt(msg.Content)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt message content: %w", err)
	}
	stored := *msg
	stored.Content = encrypted
	inserted, err := s.messages.SaveMessage(ctx, &stored)
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}
	msg.ID = stored.ID
	return inserted, nil
}

// NewestMessageID returns the author's newest message id; ok is false when
// the author has no messages.
func (s *Store) NewestMessageID(ctx context.Context, key models.AuthorKey) (int64, bool, error) {
	id, ok, err := s.messages.NewestMessageID(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get newest message id: %w", err)
	}
	return id, ok, nil
}

// LoadCurrent returns the current artifact for key, or nil.
func (s *Store) LoadCurrent(ctx context.Context, key models.AuthorKey) (*models.ModelArtifact, error) {
	a, err := s.artifacts.Current(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load model artifact: %w", err)
	}
	return a, nil
}

// NewMessageCount counts the author's messages newer than the artifact's
// watermark.
func (s *Store) NewMessageCount(ctx context.Context, a *models.ModelArtifact) (int64, error) {
	n, err := s.messages.CountSince(ctx, a.Key(), a.LastMessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to count new messages: %w", err)
	}
	return n, nil
}

// IsStale evaluates the policy for a; it also returns the new-message count.
func (s *Store) IsStale(ctx context.Context, a *models.ModelArtifact) (bool, int64, error) {
	n, err := s.NewMessageCount(ctx, a)
	if err != nil {
		return false, 0, err
	}
	return s.policy.IsStale(n), n, nil
}

// Replace commits next and only then removes old together with any older
// artifact left behind by an earlier failed delete. A failed delete is logged
// and not returned: next is already current.
func (s *Store) Replace(ctx context.Context, old, next *models.ModelArtifact) error {
	if next.TrainedAt.IsZero() {
		next.TrainedAt = time.Now()
	}
	if err := s.artifacts.Insert(ctx, next); err != nil {
		return fmt.Errorf("failed to insert model artifact: %w", err)
	}

	removed, err := s.artifacts.DeleteOlderThan(ctx, next.Key(), next.ArtifactID)
	if err != nil {
		fields := []zap.Field{
			zap.Int64("collection_id", next.CollectionID),
			zap.Int64("author_id", next.AuthorID),
			zap.Int64("artifact_id", next.ArtifactID),
			zap.Error(err),
		}
		if old != nil {
			fields = append(fields, zap.Int64("orphaned_artifact_id", old.ArtifactID))
		}
		s.logger.Warn("Failed to delete superseded model artifact", fields...)
		return nil
	}

	s.logger.Info("Model artifact replaced",
		zap.Int64("collection_id", next.CollectionID),
		zap.Int64("author_id", next.AuthorID),
		zap.Int64("artifact_id", next.ArtifactID),
		zap.Int64("last_message_id", next.LastMessageID),
		zap.Int64("removed", removed))
	return nil
}

// Discard deletes a. It is used for artifacts that can no longer be
// imported, since their replacement may carry the same watermark.
func (s *Store) Discard(ctx context.Context, a *models.ModelArtifact) error {
	if err := s.artifacts.Delete(ctx, a.ArtifactID); err != nil {
		return fmt.Errorf("failed to delete model artifact %d: %w", a.ArtifactID, err)
	}
	s.logger.Warn("Model artifact discarded",
		zap.Int64("collection_id", a.CollectionID),
		zap.Int64("author_id", a.AuthorID),
		zap.Int64("artifact_id", a.ArtifactID))
	return nil
}

// FetchCorpus returns the newest usable messages of the author, decrypted.
// Empty messages and bot commands are skipped; messages that fail to decrypt
// are logged and skipped.
func (s *Store) FetchCorpus(ctx context.Context, key models.AuthorKey) (*Corpus, error) {
	corpus := &Corpus{}
	skipped := 0
	err := s.messages.ScanNewestFirst(ctx, key, func(m *models.Message) (bool, error) {
		if corpus.Watermark == 0 {
			corpus.Watermark = m.ID
		}
		text, err := s.cipher.Decrypt(m.Content)
		if err != nil {
			s.logger.Warn("Failed to decrypt message", zap.Int64("message_id", m.ID), zap.Error(err))
			skipped++
			return true, nil
		}
		if strings.TrimSpace(text) == "" || s.corpus.IsCommand(text) {
			skipped++
			return true, nil
		}
		corpus.Texts = append(corpus.Texts, text)
		return len(corpus.Texts) < s.corpus.MaxMessages, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch corpus: %w", err)
	}

	s.logger.Debug("Corpus fetched",
		zap.Int64("collection_id", key.CollectionID),
		zap.Int64("author_id", key.AuthorID),
		zap.Int("messages", len(corpus.Texts)),
		zap.Int("skipped", skipped),
		zap.Int64("watermark", corpus.Watermark))
	return corpus, nil
}
