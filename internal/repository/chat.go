package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/models"
)

type ChatRepository interface {
	GetChatByExternalID(ctx context.Context, externalID int64) (*models.Chat, error)
	GetChatByID(ctx context.Context, id int64) (*models.Chat, error)
	UpdateLastCollectedMessageID(ctx context.Context, chatID, lastCollectedMessageID int64) error
	UpdateMonitoringStatus(ctx context.Context, chatID int64, active bool) error
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetAllChats(ctx context.Context) ([]*models.Chat, error)
}

type chatRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewChatRepository(db *sqlx.DB, logger *zap.Logger) ChatRepository {
	return &chatRepository{db: db, logger: logger}
}

const chatColumns = `id, external_id, source, name, is_group, chat_type, monitoring_active, last_collected_message_id`

func (r *chatRepository) GetChatByExternalID(ctx context.Context, externalID int64) (*models.Chat, error) {
	return r.getChat(ctx, `SELECT `+chatColumns+` FROM chats WHERE external_id = ?`, externalID)
}

func (r *chatRepository) GetChatByID(ctx context.Context, id int64) (*models.Chat, error) {
	return r.getChat(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
}

func (r *chatRepository) getChat(ctx context.Context, query string, arg int64) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, r.db.Rebind(query), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Chat not found
		}
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) UpdateLastCollectedMessageID(ctx context.Context, chatID, lastCollectedMessageID int64) error {
	query := r.db.Rebind(`UPDATE chats SET last_collected_message_id = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, lastCollectedMessageID, chatID)
	return err
}

func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	query := r.db.Rebind(`INSERT INTO chats (external_id, source, name, is_group, chat_type, monitoring_active, last_collected_message_id)
	          VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	return r.db.QueryRowxContext(ctx, query, chat.ExternalID, chat.Source, chat.Name, chat.IsGroup,
		chat.ChatType, chat.MonitoringActive, chat.LastCollectedMessageID).Scan(&chat.ID)
}

func (r *chatRepository) UpdateMonitoringStatus(ctx context.Context, chatID int64, active bool) error {
	query := r.db.Rebind(`UPDATE chats SET monitoring_active = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, active, chatID)
	return err
}

func (r *chatRepository) GetAllChats(ctx context.Context) ([]*models.Chat, error) {
	var chats []*models.Chat
	err := r.db.SelectContext(ctx, &chats, `SELECT `+chatColumns+` FROM chats ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return chats, nil
}
