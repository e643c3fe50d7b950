package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/models"
	"github.com/Trojaner/ImpostorBot/internal/repository"
	"github.com/Trojaner/ImpostorBot/internal/repository/sqlitetest"
)

var alice = models.AuthorKey{CollectionID: 10, AuthorID: 1}

func saveMessages(t *testing.T, repo repository.MessageRepository, key models.AuthorKey, texts ...string) {
	t.Helper()
	for i, text := range texts {
		ok, err := repo.SaveMessage(context.Background(), &models.Message{
			SourceMessageID: time.Now().UnixNano() + int64(i),
			CollectionID:    key.CollectionID,
			AuthorID:        key.AuthorID,
			ChannelID:       key.CollectionID,
			Content:         text,
			Timestamp:       time.Now(),
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestMigrateDB_Idempotent(t *testing.T) {
	db := sqlitetest.Open(t)
	assert.NoError(t, repository.MigrateDB(db, zap.NewNop()))
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	_, err := repository.NewDB("mysql", "", zap.NewNop())
	assert.Error(t, err)
}

func TestMessageRepository_SaveAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMessageRepository(sqlitetest.Open(t), zap.NewNop())

	_, ok, err := repo.NewestMessageID(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	msg := &models.Message{
		SourceMessageID: 42,
		CollectionID:    alice.CollectionID,
		AuthorID:        alice.AuthorID,
		AuthorName:      "alice",
		ChannelID:       7,
		Content:         "hello",
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	inserted, err := repo.SaveMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, msg.ID)

	dup := *msg
	dup.ID = 0
	inserted, err = repo.SaveMessage(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "alice", got.AuthorName)
	assert.True(t, msg.Timestamp.Equal(got.Timestamp))

	missing, err := repo.GetMessageByID(ctx, msg.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	saveMessages(t, repo, alice, "two", "three")
	saveMessages(t, repo, models.AuthorKey{CollectionID: 10, AuthorID: 2}, "other author")

	newest, ok, err := repo.NewestMessageID(ctx, alice)
	require.NoError(t, err)
	require.True(t, ok)

	count, err := repo.CountSince(ctx, alice, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	count, err = repo.CountSince(ctx, alice, newest)
	require.NoError(t, err)
	assert.Zero(t, count)

	var seen []string
	err = repo.ScanNewestFirst(ctx, alice, func(m *models.Message) (bool, error) {
		seen = append(seen, m.Content)
		return len(seen) < 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two"}, seen)
}

func TestArtifactRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewArtifactRepository(sqlitetest.Open(t), zap.NewNop())

	current, err := repo.Current(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, current)

	first := &models.ModelArtifact{
		CollectionID:    alice.CollectionID,
		AuthorID:        alice.AuthorID,
		LastMessageID:   100,
		ModelTopology:   `{"kind":"elman_rnn"}`,
		WeightSpecs:     `[]`,
		WeightData:      []byte{0, 1, 2, 255},
		VocabularyState: `{}`,
		TrainedAt:       time.Now(),
	}
	require.NoError(t, repo.Insert(ctx, first))
	second := *first
	second.LastMessageID = 200
	require.NoError(t, repo.Insert(ctx, &second))
	assert.Greater(t, second.ArtifactID, first.ArtifactID)

	dup := *first
	assert.Error(t, repo.Insert(ctx, &dup), "last_message_id is unique")

	current, err = repo.Current(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ArtifactID, current.ArtifactID)
	assert.Equal(t, []byte{0, 1, 2, 255}, current.WeightData)
	assert.Equal(t, int64(200), current.LastMessageID)

	count, err := repo.Count(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	removed, err := repo.DeleteOlderThan(ctx, alice, second.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	require.NoError(t, repo.Delete(ctx, second.ArtifactID))
	assert.Error(t, repo.Delete(ctx, second.ArtifactID))
}

func TestChatRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewChatRepository(sqlitetest.Open(t), zap.NewNop())

	chat := &models.Chat{ExternalID: -100123, Source: "telegram", Name: "group", IsGroup: true, MonitoringActive: true}
	require.NoError(t, repo.CreateChat(ctx, chat))
	require.NotZero(t, chat.ID)

	require.NoError(t, repo.UpdateLastCollectedMessageID(ctx, chat.ID, 55))
	require.NoError(t, repo.UpdateMonitoringStatus(ctx, chat.ID, false))

	got, err := repo.GetChatByExternalID(ctx, -100123)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(55), got.LastCollectedMessageID)
	assert.False(t, got.MonitoringActive)
	assert.True(t, got.IsGroup)

	missing, err := repo.GetChatByID(ctx, chat.ID+1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := repo.GetAllChats(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
