package telegram

import "fmt"

// apiResponse Bot API 的标准响应壳
type apiResponse struct {
	OK          bool                `json:"ok"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendPhotoRequest struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// APIError Bot API 返回的业务错误。429/5xx 可以重试，
// 400/401/403 属于配置问题（频道号错误、token 被吊销），重试无意义。
type APIError struct {
	Code        int
	Description string
	RetryAfter  int // 秒，仅限流时有值
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Transient 是否为瞬时错误
func (e *APIError) Transient() bool {
	return e.Code == 429 || e.Code >= 500
}
