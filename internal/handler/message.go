package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/models"
)

// Recorder stores an incoming message.
type Recorder interface {
	RecordMessage(ctx context.Context, msg *models.Message) (bool, error)
}

type MessageHandler interface {
	IngestMessage(c *gin.Context)
}

type messageHandler struct {
	recorder Recorder
	logger   *zap.Logger
}

func NewMessageHandler(recorder Recorder, logger *zap.Logger) MessageHandler {
	return &messageHandler{recorder: recorder, logger: logger}
}

type IngestMessageRequest struct {
	SourceMessageID int64     `json:"source_message_id" binding:"required"`
	CollectionID    int64     `json:"collection_id" binding:"required"`
	AuthorID        int64     `json:"author_id" binding:"required"`
	AuthorName      string    `json:"author_name"`
	ChannelID       int64     `json:"channel_id"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
}

// IngestMessage handles POST /api/v1/messages
func (h *messageHandler) IngestMessage(c *gin.Context) {
	var req IngestMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChannelID == 0 {
		req.ChannelID = req.CollectionID
	}

	msg := &models.Message{
		SourceMessageID: req.SourceMessageID,
		CollectionID:    req.CollectionID,
		AuthorID:        req.AuthorID,
		AuthorName:      req.AuthorName,
		ChannelID:       req.ChannelID,
		Content:         req.Content,
		Timestamp:       req.Timestamp,
	}
	inserted, err := h.recorder.RecordMessage(c.Request.Context(), msg)
	if err != nil {
		abortWithError(c, h.logger, err, "Failed to save message")
		return
	}

	if !inserted {
		c.JSON(http.StatusOK, gin.H{"duplicate": true})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": msg.ID})
}
