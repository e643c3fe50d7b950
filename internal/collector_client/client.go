package collector_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Message is one message as returned by the collector's /collect endpoint.
type Message struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	SenderID       int64     `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
	Type           string    `json:"type"` // "message", "post", "comment"
	Source         string    `json:"source"`
}

// Chat is one chat known to the collector.
type Chat struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
	Type    string `json:"type"` // "user", "chat", "channel", "group"
	Source  string `json:"source"`
}

// Client for interacting with the message collector service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Collector API client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// GetMessages fetches messages of chatID newer than lastCollectedMessageID.
func (c *Client) GetMessages(ctx context.Context, chatID int64, lastCollectedMessageID int64) ([]Message, error) {
	query := url.Values{}
	query.Set("chat_id", strconv.FormatInt(chatID, 10))
	query.Set("last_collected_message_id", strconv.FormatInt(lastCollectedMessageID, 10))

	var response struct {
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, "/collect?"+query.Encode(), &response); err != nil {
		return nil, fmt.Errorf("failed to collect messages: %w", err)
	}

	c.logger.Debug("Fetched messages from collector", zap.Int64("chat_id", chatID), zap.Int("count", len(response.Messages)))
	return response.Messages, nil
}

// GetChats fetches all available chats from the collector service.
func (c *Client) GetChats(ctx context.Context) ([]Chat, error) {
	var response struct {
		Chats []Chat `json:"chats"`
	}
	if err := c.get(ctx, "/chats", &response); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	c.logger.Debug("Fetched chats from collector", zap.Int("count", len(response.Chats)))
	return response.Chats, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to make request to collector", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to make request to collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Collector returned non-OK status", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("collector returned status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode collector response: %w", err)
	}
	return nil
}
