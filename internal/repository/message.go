package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/models"
)

type MessageRepository interface {
	// SaveMessage inserts msg and fills msg.ID. It reports false when the
	// message was already stored.
	SaveMessage(ctx context.Context, msg *models.Message) (bool, error)
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	// NewestMessageID returns the greatest message_id of the author, or 0
	// and false when the author has no messages.
	NewestMessageID(ctx context.Context, key models.AuthorKey) (int64, bool, error)
	// CountSince counts the author's messages with message_id > afterID.
	CountSince(ctx context.Context, key models.AuthorKey, afterID int64) (int64, error)
	// ScanNewestFirst calls fn for the author's messages in descending
	// message_id order until fn returns false or an error.
	ScanNewestFirst(ctx context.Context, key models.AuthorKey, fn func(*models.Message) (bool, error)) error
}

type messageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMessageRepository(db *sqlx.DB, logger *zap.Logger) MessageRepository {
	return &messageRepository{db: db, logger: logger}
}

const messageColumns = `message_id, source_message_id, collection_id, author_id, author_name, channel_id, content, timestamp`

func (r *messageRepository) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	query := r.db.Rebind(`INSERT INTO messages (source_message_id, collection_id, author_id, author_name, channel_id, content, timestamp)
	          VALUES (?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (channel_id, source_message_id) DO NOTHING
	          RETURNING message_id`)
	err := r.db.QueryRowxContext(ctx, query, msg.SourceMessageID, msg.CollectionID, msg.AuthorID,
		msg.AuthorName, msg.ChannelID, msg.Content, msg.Timestamp.UTC()).Scan(&msg.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil // duplicate
		}
		return false, err
	}
	return true, nil
}

func (r *messageRepository) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := r.db.Rebind(`SELECT ` + messageColumns + ` FROM messages WHERE message_id = ?`)
	err := r.db.GetContext(ctx, &msg, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) NewestMessageID(ctx context.Context, key models.AuthorKey) (int64, bool, error) {
	var newest sql.NullInt64
	query := r.db.Rebind(`SELECT MAX(message_id) FROM messages WHERE collection_id = ? AND author_id = ?`)
	if err := r.db.GetContext(ctx, &newest, query, key.CollectionID, key.AuthorID); err != nil {
		return 0, false, err
	}
	return newest.Int64, newest.Valid, nil
}

func (r *messageRepository) CountSince(ctx context.Context, key models.AuthorKey, afterID int64) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM messages WHERE collection_id = ? AND author_id = ? AND message_id > ?`)
	if err := r.db.GetContext(ctx, &count, query, key.CollectionID, key.AuthorID, afterID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *messageRepository) ScanNewestFirst(ctx context.Context, key models.AuthorKey, fn func(*models.Message) (bool, error)) error {
	query := r.db.Rebind(`SELECT ` + messageColumns + ` FROM messages
		WHERE collection_id = ? AND author_id = ?
		ORDER BY message_id DESC`)
	rows, err := r.db.QueryxContext(ctx, query, key.CollectionID, key.AuthorID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.Message
		if err := rows.StructScan(&msg); err != nil {
			return err
		}
		more, err := fn(&msg)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return rows.Err()
}
