package telegram

import (
	"context"
	"fmt"
	"time"

	"swap-notify/internal/watcher/config"
	"swap-notify/pkg/httpclient"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.telegram.org"

// Client Telegram Bot API 客户端，只封装本服务用到的两个方法
type Client struct {
	baseURL    string
	token      string
	httpClient *httpclient.HTTPClient
	logger     *zap.Logger
}

func NewClient(cfg config.TelegramConfig, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpCfg := httpclient.HTTPClientConfig{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		RateLimit: cfg.RateLimit,
	}
	httpClient := httpclient.NewHTTPClient(httpCfg, logger)

	return &Client{
		baseURL:    baseURL,
		token:      cfg.BotToken,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// SendMessage 向频道发送 Markdown 消息
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	body := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	}
	return c.call(ctx, "sendMessage", body)
}

// SendPhoto 发送图片加说明文字，用于带宣传图的通知
func (c *Client) SendPhoto(ctx context.Context, chatID, photoURL, caption string) error {
	body := sendPhotoRequest{
		ChatID:    chatID,
		Photo:     photoURL,
		Caption:   caption,
		ParseMode: "Markdown",
	}
	return c.call(ctx, "sendPhoto", body)
}

func (c *Client) call(ctx context.Context, method string, body interface{}) error {
	var resp apiResponse
	status, err := c.httpClient.PostJSON(ctx, c.endpoint(method), body, &resp)
	if err != nil {
		// 传输层错误（超时、断连）视为瞬时
		return fmt.Errorf("telegram %s: %w", method, err)
	}

	if !resp.OK {
		apiErr := &APIError{
			Code:        resp.ErrorCode,
			Description: resp.Description,
		}
		if apiErr.Code == 0 {
			apiErr.Code = status
		}
		if resp.Parameters != nil {
			apiErr.RetryAfter = resp.Parameters.RetryAfter
		}
		c.logger.Warn("❌ telegram api error",
			zap.String("method", method),
			zap.Int("code", apiErr.Code),
			zap.String("description", apiErr.Description))
		return apiErr
	}

	return nil
}
