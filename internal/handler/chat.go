package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Trojaner/ImpostorBot/internal/repository"
)

type ChatHandler interface {
	GetAllChats(c *gin.Context)
	GetChatByID(c *gin.Context)
	UpdateMonitoringStatus(c *gin.Context)
}

type chatHandler struct {
	chatRepo repository.ChatRepository
	logger   *zap.Logger
}

func NewChatHandler(chatRepo repository.ChatRepository, logger *zap.Logger) ChatHandler {
	return &chatHandler{chatRepo: chatRepo, logger: logger}
}

// GetAllChats handles GET /api/v1/chats
func (h *chatHandler) GetAllChats(c *gin.Context) {
	chats, err := h.chatRepo.GetAllChats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get chats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChatByID handles GET /api/v1/chats/:id
func (h *chatHandler) GetChatByID(c *gin.Context) {
	id, ok := h.chatID(c)
	if !ok {
		return
	}

	chat, err := h.chatRepo.GetChatByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get chat", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve chat"})
		return
	}
	if chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

type UpdateMonitoringRequest struct {
	Active bool `json:"active"`
}

// UpdateMonitoringStatus handles PUT /api/v1/chats/:id/monitoring
func (h *chatHandler) UpdateMonitoringStatus(c *gin.Context) {
	id, ok := h.chatID(c)
	if !ok {
		return
	}

	var req UpdateMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatRepo.UpdateMonitoringStatus(c.Request.Context(), id, req.Active); err != nil {
		h.logger.Error("Failed to update monitoring status", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update monitoring status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Monitoring status updated successfully"})
}

func (h *chatHandler) chatID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return 0, false
	}
	return id, true
}
