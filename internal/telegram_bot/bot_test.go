package telegram_bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

type fakeRecorder struct {
	saved []*models.Message
}

func (f *fakeRecorder) RecordMessage(_ context.Context, msg *models.Message) (bool, error) {
	f.saved = append(f.saved, msg)
	return true, nil
}

type fakeGenerator struct {
	mu   sync.Mutex
	reqs []generator.Request
	err  error
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &generator.Result{Text: req.SeedText + "...", ArtifactID: 1}, nil
}

var (
	alice = &tgbotapi.User{ID: 7, UserName: "alice", FirstName: "Alice"}
	bob   = &tgbotapi.User{ID: 8, FirstName: "Bob"}
	group = &tgbotapi.Chat{ID: -100, Type: "supergroup"}
)

func textMessage(id int, from *tgbotapi.User, chat *tgbotapi.Chat, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      from,
		Chat:      chat,
		Text:      text,
		Date:      int(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix()),
	}
}

func command(id int, from *tgbotapi.User, name, args string) *tgbotapi.Message {
	text := "/" + name
	if args != "" {
		text += " " + args
	}
	msg := textMessage(id, from, group, text)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name) + 1}}
	return msg
}

func newTestBot() (*Bot, *fakeSender, *fakeRecorder, *fakeGenerator) {
	sender := &fakeSender{}
	recorder := &fakeRecorder{}
	gen := &fakeGenerator{}
	return newBot(sender, recorder, gen, zap.NewNop()), sender, recorder, gen
}

func TestBot_RecordsGroupMessages(t *testing.T) {
	b, sender, recorder, _ := newTestBot()
	ctx := context.Background()

	b.handleMessage(ctx, textMessage(1, alice, group, "hello everyone"))
	b.handleMessage(ctx, textMessage(2, alice, &tgbotapi.Chat{ID: 7, Type: "private"}, "private note"))
	b.handleMessage(ctx, textMessage(3, &tgbotapi.User{ID: 9, IsBot: true}, group, "beep"))
	b.handleMessage(ctx, textMessage(4, bob, group, ""))

	require.Len(t, recorder.saved, 1)
	saved := recorder.saved[0]
	assert.Equal(t, int64(1), saved.SourceMessageID)
	assert.Equal(t, int64(-100), saved.CollectionID)
	assert.Equal(t, int64(-100), saved.ChannelID)
	assert.Equal(t, int64(7), saved.AuthorID)
	assert.Equal(t, "@alice", saved.AuthorName)
	assert.Equal(t, "hello everyone", saved.Content)
	assert.Equal(t, 2024, saved.Timestamp.Year())
	assert.Empty(t, sender.texts())
}

func TestBot_ImitateSender(t *testing.T) {
	b, sender, recorder, gen := newTestBot()

	b.handleMessage(context.Background(), command(5, alice, "imitate", "good morning"))
	b.wg.Wait()

	assert.Empty(t, recorder.saved)
	require.Len(t, gen.reqs, 1)
	assert.Equal(t, int64(-100), gen.reqs[0].CollectionID)
	assert.Equal(t, int64(7), gen.reqs[0].AuthorID)
	assert.Equal(t, "good morning", gen.reqs[0].SeedText)
	assert.Equal(t, []string{"@alice: good morning..."}, sender.texts())
	assert.Equal(t, 5, sender.sent[0].ReplyToMessageID)
}

func TestBot_ImitateRepliedAuthor(t *testing.T) {
	b, sender, _, gen := newTestBot()

	msg := command(6, alice, "imitate", "")
	msg.ReplyToMessage = textMessage(2, bob, group, "something bob said")
	b.handleMessage(context.Background(), msg)
	b.wg.Wait()

	require.Len(t, gen.reqs, 1)
	assert.Equal(t, int64(8), gen.reqs[0].AuthorID)
	assert.Empty(t, gen.reqs[0].SeedText)
	assert.Equal(t, []string{"Bob: ..."}, sender.texts())
}

func TestBot_ImitateErrors(t *testing.T) {
	cases := map[error]string{
		generator.ErrNoData:          "I don't know enough about @alice yet.",
		generator.ErrTrainingTimeout: "Learning took too long, try again in a bit.",
		generator.ErrInvalidRequest:  "That seed text won't work, try a shorter one.",
		errors.New("disk full"):      "Something went wrong.",
	}
	for err, want := range cases {
		t.Run(want, func(t *testing.T) {
			b, sender, _, gen := newTestBot()
			gen.err = fmt.Errorf("wrapped: %w", err)
			b.handleMessage(context.Background(), command(1, alice, "imitate", ""))
			b.wg.Wait()
			assert.Equal(t, []string{want}, sender.texts())
		})
	}
}

func TestBot_OtherCommands(t *testing.T) {
	b, sender, recorder, gen := newTestBot()
	ctx := context.Background()

	b.handleMessage(ctx, command(1, alice, "help", ""))
	b.handleMessage(ctx, command(2, alice, "start", ""))
	b.handleMessage(ctx, command(3, alice, "dance", ""))

	texts := sender.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "/imitate")
	assert.Contains(t, texts[1], "Hi, Alice!")
	assert.Contains(t, texts[2], "Unknown command")
	assert.Empty(t, recorder.saved)
	assert.Empty(t, gen.reqs)
}
