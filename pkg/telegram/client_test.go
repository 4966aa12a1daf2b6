package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"swap-notify/internal/watcher/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.TelegramConfig{
		BaseURL:   srv.URL,
		BotToken:  "123:abc",
		RateLimit: 600,
		Timeout:   2,
	}, zap.NewNop())
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiResponse{OK: true})
	})

	err := c.SendMessage(context.Background(), "@swaps", "hello")
	require.NoError(t, err)
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "@swaps", gotBody.ChatID)
	assert.Equal(t, "hello", gotBody.Text)
	assert.Equal(t, "Markdown", gotBody.ParseMode)
}

func TestSendMessageRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(apiResponse{
			OK:          false,
			ErrorCode:   429,
			Description: "Too Many Requests: retry after 3",
			Parameters:  &responseParameters{RetryAfter: 3},
		})
	})

	err := c.SendMessage(context.Background(), "@swaps", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Transient())
	assert.Equal(t, 3, apiErr.RetryAfter)
}

func TestSendMessagePermanentError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(apiResponse{
			OK:          false,
			ErrorCode:   403,
			Description: "Forbidden: bot was kicked from the channel",
		})
	})

	err := c.SendMessage(context.Background(), "@swaps", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Transient())
}

func TestSendPhoto(t *testing.T) {
	var gotBody sendPhotoRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiResponse{OK: true})
	})

	err := c.SendPhoto(context.Background(), "@swaps", "https://example.org/banner.png", "caption")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/banner.png", gotBody.Photo)
	assert.Equal(t, "caption", gotBody.Caption)
}
