package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/middleware"
	"github.com/Trojaner/ImpostorBot/internal/model_store"
	"github.com/Trojaner/ImpostorBot/internal/models"
	"github.com/Trojaner/ImpostorBot/internal/repository"
	"github.com/Trojaner/ImpostorBot/internal/repository/sqlitetest"
	"github.com/Trojaner/ImpostorBot/internal/rnn"
	"github.com/Trojaner/ImpostorBot/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGenerator struct {
	last   generator.Request
	result *generator.Result
	info   *generator.ModelInfo
	err    error
}

func (s *stubGenerator) Generate(_ context.Context, req generator.Request) (*generator.Result, error) {
	s.last = req
	return s.result, s.err
}

func (s *stubGenerator) Describe(context.Context, models.AuthorKey) (*generator.ModelInfo, error) {
	return s.info, s.err
}

type testServer struct {
	handler http.Handler
	gen     *stubGenerator
	store   *model_store.Store
	chats   repository.ChatRepository
}

func newTestServer(t *testing.T, tokens service.TokenService) *testServer {
	t.Helper()
	db := sqlitetest.Open(t)
	logger := zap.NewNop()
	store := model_store.NewStore(repository.NewMessageRepository(db, logger), repository.NewArtifactRepository(db, logger),
		nil, model_store.NewPolicy(model_store.DefaultStaleThreshold), model_store.CorpusOptions{}, logger)
	chats := repository.NewChatRepository(db, logger)
	gen := &stubGenerator{}
	srv := NewServer(db, Deps{Generator: gen, Recorder: store, Chats: chats, Tokens: tokens}, logger)
	return &testServer{handler: srv.Handler(), gen: gen, store: store, chats: chats}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestGenerate(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.gen.result = &generator.Result{Text: "hello there", Continuation: "llo there", Tokens: 9, ArtifactID: 3, Retrained: true}

	w, body := ts.do(t, http.MethodPost, "/api/v1/collections/5/authors/7/generate",
		`{"seed_text":"he","max_length":20,"temperature":0.5}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello there", body["text"])
	assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), body["request_id"])

	assert.Equal(t, int64(5), ts.gen.last.CollectionID)
	assert.Equal(t, int64(7), ts.gen.last.AuthorID)
	assert.Equal(t, "he", ts.gen.last.SeedText)
	assert.Equal(t, 20, ts.gen.last.MaxLength)
	require.NotNil(t, ts.gen.last.Temperature)
	assert.Equal(t, 0.5, *ts.gen.last.Temperature)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/collections/5/authors/7/generate", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, ts.gen.last.Temperature)
}

func TestGenerate_ErrorStatuses(t *testing.T) {
	cases := map[error]int{
		generator.ErrNoData:          http.StatusNotFound,
		generator.ErrInvalidRequest:  http.StatusBadRequest,
		generator.ErrTrainingTimeout: http.StatusGatewayTimeout,
		rnn.ErrTraining:              http.StatusUnprocessableEntity,
		rnn.ErrNotTrained:            http.StatusInternalServerError,
	}
	for sentinel, status := range cases {
		t.Run(sentinel.Error(), func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.gen.err = fmt.Errorf("wrapped: %w", sentinel)
			w, body := ts.do(t, http.MethodPost, "/api/v1/collections/1/authors/2/generate", "", nil)
			assert.Equal(t, status, w.Code)
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestGenerate_BadPath(t *testing.T) {
	ts := newTestServer(t, nil)
	w, _ := ts.do(t, http.MethodPost, "/api/v1/collections/x/authors/2/generate", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ts.do(t, http.MethodPost, "/api/v1/collections/1/authors/y/generate", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = ts.do(t, http.MethodPost, "/api/v1/collections/1/authors/2/generate", `{"max_length":"ten"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetModel(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.gen.info = &generator.ModelInfo{
		Artifact:    &models.ModelArtifact{ArtifactID: 4, LastMessageID: 99, WeightData: make([]byte, 16), TrainedAt: time.Now()},
		Topology:    rnn.Topology{Kind: rnn.TopologyKind, VocabSize: 30, HiddenSize: 8, Window: 12},
		NewMessages: 2,
	}

	w, body := ts.do(t, http.MethodGet, "/api/v1/collections/1/authors/2/model", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, body["artifact_id"])
	assert.EqualValues(t, 16, body["weight_bytes"])
	assert.Equal(t, false, body["stale"])
	topology := body["topology"].(map[string]any)
	assert.Equal(t, rnn.TopologyKind, topology["kind"])
}

func TestIngestMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	msg := `{"source_message_id":1,"collection_id":5,"author_id":7,"content":"hello"}`

	w, body := ts.do(t, http.MethodPost, "/api/v1/messages", msg, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotZero(t, body["message_id"])

	w, body = ts.do(t, http.MethodPost, "/api/v1/messages", msg, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["duplicate"])

	w, _ = ts.do(t, http.MethodPost, "/api/v1/messages", `{"collection_id":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	corpus, err := ts.store.FetchCorpus(context.Background(), models.AuthorKey{CollectionID: 5, AuthorID: 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, corpus.Texts)
}

func TestChats(t *testing.T) {
	ts := newTestServer(t, nil)
	chat := &models.Chat{ExternalID: 42, Source: "telegram", Name: "general", IsGroup: true}
	require.NoError(t, ts.chats.CreateChat(context.Background(), chat))

	w, body := ts.do(t, http.MethodGet, "/api/v1/chats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["chats"], 1)

	path := fmt.Sprintf("/api/v1/chats/%d", chat.ID)
	w, _ = ts.do(t, http.MethodPut, path+"/monitoring", `{"active":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = ts.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["chat"].(map[string]any)["is_monitored"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/chats/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth(t *testing.T) {
	tokens, err := service.NewTokenService("test-secret", zap.NewNop())
	require.NoError(t, err)
	ts := newTestServer(t, tokens)
	ts.gen.result = &generator.Result{Text: "x"}
	path := "/api/v1/collections/1/authors/2/generate"

	w, _ := ts.do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(t, http.MethodPost, path, "", http.Header{"Authorization": {"Token abc"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := service.NewTokenService("other-secret", zap.NewNop())
	require.NoError(t, err)
	forged, _, err := other.Issue("mallory", "", time.Hour)
	require.NoError(t, err)
	w, _ = ts.do(t, http.MethodPost, path, "", http.Header{"Authorization": {"Bearer " + forged}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := tokens.Issue("alice", "generate", time.Hour)
	require.NoError(t, err)
	w, _ = ts.do(t, http.MethodPost, path, "", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
