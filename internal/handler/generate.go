package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/generator"
	"github.com/Trojaner/ImpostorBot/internal/middleware"
	"github.com/Trojaner/ImpostorBot/internal/models"
)

// Generator is the part of the orchestrator the HTTP API exposes.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
	Describe(ctx context.Context, key models.AuthorKey) (*generator.ModelInfo, error)
}

type GenerateHandler interface {
	Generate(c *gin.Context)
	GetModel(c *gin.Context)
}

type generateHandler struct {
	generator Generator
	logger    *zap.Logger
}

func NewGenerateHandler(gen Generator, logger *zap.Logger) GenerateHandler {
	return &generateHandler{generator: gen, logger: logger}
}

type GenerateRequest struct {
	SeedText    string   `json:"seed_text"`
	MinLength   int      `json:"min_length"`
	MaxLength   int      `json:"max_length"`
	Temperature *float64 `json:"temperature"`
}

// Generate handles POST /api/v1/collections/:collection_id/authors/:author_id/generate
func (h *generateHandler) Generate(c *gin.Context) {
	key, ok := h.authorKey(c)
	if !ok {
		return
	}

	var body GenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.generator.Generate(c.Request.Context(), generator.Request{
		CollectionID: key.CollectionID,
		AuthorID:     key.AuthorID,
		SeedText:     body.SeedText,
		MinLength:    body.MinLength,
		MaxLength:    body.MaxLength,
		Temperature:  body.Temperature,
	})
	if err != nil {
		abortWithError(c, h.logger, err, "Failed to generate text")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":         result.Text,
		"continuation": result.Continuation,
		"tokens":       result.Tokens,
		"artifact_id":  result.ArtifactID,
		"retrained":    result.Retrained,
		"request_id":   middleware.RequestID(c),
	})
}

// GetModel handles GET /api/v1/collections/:collection_id/authors/:author_id/model
func (h *generateHandler) GetModel(c *gin.Context) {
	key, ok := h.authorKey(c)
	if !ok {
		return
	}

	info, err := h.generator.Describe(c.Request.Context(), key)
	if err != nil {
		abortWithError(c, h.logger, err, "Failed to describe model")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"artifact_id":     info.Artifact.ArtifactID,
		"last_message_id": info.Artifact.LastMessageID,
		"trained_at":      info.Artifact.TrainedAt,
		"weight_bytes":    len(info.Artifact.WeightData),
		"topology":        info.Topology,
		"new_messages":    info.NewMessages,
		"stale":           info.Stale,
	})
}

func (h *generateHandler) authorKey(c *gin.Context) (models.AuthorKey, bool) {
	collectionID, err := strconv.ParseInt(c.Param("collection_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid collection ID"})
		return models.AuthorKey{}, false
	}
	authorID, err := strconv.ParseInt(c.Param("author_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid author ID"})
		return models.AuthorKey{}, false
	}
	return models.AuthorKey{CollectionID: collectionID, AuthorID: authorID}, true
}
