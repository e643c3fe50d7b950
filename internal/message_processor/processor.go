package message_processor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/collector_client"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/models"
	"github.com/Trojaner/ImpostorBot/internal/repository"
)

// Collector is the part of the collector client the processor polls.
type Collector interface {
	GetChats(ctx context.Context) ([]collector_client.Chat, error)
	GetMessages(ctx context.Context, chatID int64, lastCollectedMessageID int64) ([]collector_client.Message, error)
}

// Recorder stores an incoming message.
type Recorder interface {
	RecordMessage(ctx context.Context, msg *models.Message) (bool, error)
}

// Processor polls the collector and records every new message so that the
// author models can be retrained from it.
type Processor struct {
	collector        Collector
	recorder         Recorder
	chatRepo         repository.ChatRepository
	logger           *zap.Logger
	pollInterval     time.Duration
	chatProcessDelay time.Duration
}

// NewProcessor creates a new message processor.
func NewProcessor(
	collector Collector,
	recorder Recorder,
	chatRepo repository.ChatRepository,
	logger *zap.Logger,
	pollInterval time.Duration,
	chatProcessDelay time.Duration,
) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Processor{
		collector:        collector,
		recorder:         recorder,
		chatRepo:         chatRepo,
		logger:           logger,
		pollInterval:     pollInterval,
		chatProcessDelay: chatProcessDelay,
	}
}

// Run starts the periodic message collection.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Message processor started.")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.discoverChats(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Message processor stopped.")
			return
		case <-ticker.C:
			p.discoverChats(ctx)
			p.Poll(ctx)
		}
	}
}

// Poll collects new messages of every monitored chat once.
func (p *Processor) Poll(ctx context.Context) {
	chats, err := p.chatRepo.GetAllChats(ctx)
	if err != nil {
		p.logger.Error("Failed to get all chats from DB", zap.Error(err))
		return
	}
	if len(chats) == 0 {
		p.logger.Debug("No chats configured for monitoring.")
		return
	}

	for i, chat := range chats {
		if !chat.MonitoringActive {
			continue
		}
		p.collectChat(ctx, chat)

		// Spread requests out to stay under the collector's flood limits
		if i < len(chats)-1 && p.chatProcessDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.chatProcessDelay):
			}
		}
	}
}

func (p *Processor) collectChat(ctx context.Context, chat *models.Chat) {
	collectorCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	messages, err := p.collector.GetMessages(collectorCtx, chat.ExternalID, chat.LastCollectedMessageID)
	cancel()
	if err != nil {
		p.logger.Error("Failed to get messages from collector", zap.Int64("chat_id", chat.ID), zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	maxMessageID := chat.LastCollectedMessageID
	saved := 0
	for _, msg := range messages {
		inserted, err := p.recorder.RecordMessage(ctx, &models.Message{
			SourceMessageID: msg.ID,
			CollectionID:    chat.ExternalID,
			AuthorID:        msg.SenderID,
			AuthorName:      msg.SenderUsername,
			ChannelID:       chat.ExternalID,
			Content:         msg.Text,
			Timestamp:       msg.Timestamp,
		})
		switch {
		case errors.Is(err, model_store.ErrInvalidMessage):
			p.logger.Warn("Skipping invalid message", zap.Int64("source_message_id", msg.ID), zap.Error(err))
		case err != nil:
			// stop here so the watermark does not skip this message
			p.logger.Error("Failed to save message", zap.Int64("source_message_id", msg.ID), zap.Error(err))
			p.advance(ctx, chat, maxMessageID)
			return
		case inserted:
			saved++
		}
		if msg.ID > maxMessageID {
			maxMessageID = msg.ID
		}
	}

	p.logger.Info("Collected messages",
		zap.Int64("chat_id", chat.ID),
		zap.Int("received", len(messages)),
		zap.Int("saved", saved))
	p.advance(ctx, chat, maxMessageID)
}

func (p *Processor) advance(ctx context.Context, chat *models.Chat, maxMessageID int64) {
	if maxMessageID <= chat.LastCollectedMessageID {
		return
	}
	if err := p.chatRepo.UpdateLastCollectedMessageID(ctx, chat.ID, maxMessageID); err != nil {
		p.logger.Error("Failed to update last collected message ID for chat",
			zap.Int64("chat_id", chat.ID),
			zap.Int64("new_max_message_id", maxMessageID),
			zap.Error(err))
		return
	}
	chat.LastCollectedMessageID = maxMessageID
}

func (p *Processor) discoverChats(ctx context.Context) {
	collectorCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	collectorChats, err := p.collector.GetChats(collectorCtx)
	if err != nil {
		p.logger.Error("Failed to get chats from collector for discovery", zap.Error(err))
		return
	}

	for _, cChat := range collectorChats {
		dbChat, err := p.chatRepo.GetChatByExternalID(ctx, cChat.ID)
		if err != nil {
			p.logger.Error("Failed to check chat existence in DB", zap.Int64("external_id", cChat.ID), zap.Error(err))
			continue
		}
		if dbChat != nil {
			continue
		}

		source := cChat.Source
		if source == "" {
			source = "telegram"
		}
		p.logger.Info("New chat discovered, adding to DB", zap.Int64("external_id", cChat.ID), zap.String("name", cChat.Name))
		err = p.chatRepo.CreateChat(ctx, &models.Chat{
			ExternalID:       cChat.ID,
			Source:           source,
			Name:             cChat.Name,
			IsGroup:          cChat.IsGroup,
			ChatType:         cChat.Type,
			MonitoringActive: true,
		})
		if err != nil {
			p.logger.Error("Failed to create new chat in DB", zap.Int64("external_id", cChat.ID), zap.Error(err))
		}
	}
}
