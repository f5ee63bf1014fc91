package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Telegram 通过 Bot API 推送告警。每条消息在独立 goroutine
// 中发送，响应非 2xx 或网络错误仅记 warn。
type Telegram struct {
	client *http.Client
	token  string
	chatID string
	logger *zap.Logger
}

// NewTelegram 创建 Telegram 通知器。client 为 nil 时使用 5s 超时的默认客户端。
func NewTelegram(client *http.Client, token, chatID string, logger *zap.Logger) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{client: client, token: token, chatID: chatID, logger: logger}
}

// Notify 异步发送，调用立即返回
func (t *Telegram) Notify(msg string) {
	go t.send(msg)
}

func (t *Telegram) send(msg string) {
	q := url.Values{}
	q.Set("chat_id", t.chatID)
	q.Set("parse_mode", "Markdown")
	q.Set("text", msg)
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage?%s", t.token, q.Encode())

	resp, err := t.client.Get(endpoint)
	if err != nil {
		t.logger.Warn("telegram send failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn("telegram send rejected", zap.Int("status", resp.StatusCode))
	}
}
