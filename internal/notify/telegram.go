package notify

import (
	"context"
	"fmt"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPI,
		client:  &http.Client{Timeout: defaultSendTimeout},
	}
}

// Send calls sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	err := postJSON(ctx, t.client, url, map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
