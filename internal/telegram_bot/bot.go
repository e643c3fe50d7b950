package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/models"
)

// Sender is the part of tgbotapi.BotAPI the bot talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Recorder interface {
	RecordMessage(ctx context.Context, msg *models.Message) (bool, error)
}

type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// Bot records group messages and imitates their authors on request.
type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	recorder  Recorder
	generator Generator
	logger    *zap.Logger

	wg sync.WaitGroup
}

// NewBot creates a new Telegram bot instance.
func NewBot(token string, recorder Recorder, gen Generator, logger *zap.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	b := newBot(botAPI, recorder, gen, logger)
	b.api = botAPI
	return b, nil
}

func newBot(sender Sender, recorder Recorder, gen Generator, logger *zap.Logger) *Bot {
	return &Bot{
		sender:    sender,
		recorder:  recorder,
		generator: gen,
		logger:    logger,
	}
}

// Start begins listening for updates from Telegram and blocks until ctx is
// done and every pending /imitate has been answered.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.From.IsBot {
		return
	}

	if !message.IsCommand() {
		b.record(ctx, message)
		return
	}

	switch message.Command() {
	case "start":
		b.handleStartCommand(message)
	case "help":
		b.handleHelpCommand(message)
	case "imitate":
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleImitateCommand(ctx, message)
		}()
	default:
		b.reply(message, "Unknown command. Use /help to see what I can do.")
	}
}

func (b *Bot) record(ctx context.Context, message *tgbotapi.Message) {
	if message.Text == "" || !(message.Chat.IsGroup() || message.Chat.IsSuperGroup()) {
		return
	}

	_, err := b.recorder.RecordMessage(ctx, &models.Message{
		SourceMessageID: int64(message.MessageID),
		CollectionID:    message.Chat.ID,
		AuthorID:        message.From.ID,
		AuthorName:      displayName(message.From),
		ChannelID:       message.Chat.ID,
		Content:         message.Text,
		Timestamp:       message.Time(),
	})
	switch {
	case errors.Is(err, model_store.ErrInvalidMessage):
		b.logger.Debug("Skipping unstorable message", zap.Int("message_id", message.MessageID), zap.Error(err))
	case err != nil:
		b.logger.Error("Failed to record message",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int("message_id", message.MessageID),
			zap.Error(err))
	}
}

// handleImitateCommand answers "/imitate [seed]". As a reply it imitates the
// author of the replied-to message, otherwise the sender.
func (b *Bot) handleImitateCommand(ctx context.Context, message *tgbotapi.Message) {
	target := message.From
	if message.ReplyToMessage != nil && message.ReplyToMessage.From != nil {
		target = message.ReplyToMessage.From
	}

	if _, err := b.sender.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send chat action", zap.Error(err))
	}

	start := time.Now()
	result, err := b.generator.Generate(ctx, generator.Request{
		CollectionID: message.Chat.ID,
		AuthorID:     target.ID,
		SeedText:     strings.TrimSpace(message.CommandArguments()),
	})
	if err != nil {
		b.reply(message, b.describeError(err, target))
		return
	}

	b.logger.Info("Imitated author",
		zap.Int64("chat_id", message.Chat.ID),
		zap.Int64("author_id", target.ID),
		zap.Int64("artifact_id", result.ArtifactID),
		zap.Bool("retrained", result.Retrained),
		zap.Duration("took", time.Since(start)))
	b.reply(message, fmt.Sprintf("%s: %s", displayName(target), result.Text))
}

func (b *Bot) describeError(err error, target *tgbotapi.User) string {
	switch {
	case errors.Is(err, generator.ErrNoData):
		return fmt.Sprintf("I don't know enough about %s yet.", displayName(target))
	case errors.Is(err, generator.ErrInvalidRequest):
		return "That seed text won't work, try a shorter one."
	case errors.Is(err, generator.ErrTrainingTimeout):
		return "Learning took too long, try again in a bit."
	case errors.Is(err, context.Canceled):
		return "Shutting down, try again later."
	default:
		b.logger.Error("Imitation failed", zap.Int64("author_id", target.ID), zap.Error(err))
		return "Something went wrong."
	}
}

// handleStartCommand handles the /start command
func (b *Bot) handleStartCommand(message *tgbotapi.Message) {
	b.reply(message, fmt.Sprintf(
		"Hi, %s!\n\n"+
			"Add me to a group and I will learn how everyone writes. "+
			"Then use /imitate to hear yourself, or reply /imitate to someone else's message.",
		message.From.FirstName,
	))
}

// handleHelpCommand handles the /help command
func (b *Bot) handleHelpCommand(message *tgbotapi.Message) {
	b.reply(message, "/imitate [text] - write like you, starting with text\n"+
		"/imitate as a reply - write like the author of that message\n"+
		"/start - introduction\n"+
		"/help - this help")
}

func (b *Bot) reply(to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", to.Chat.ID), zap.Error(err))
	}
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return fmt.Sprintf("user %d", u.ID)
}
