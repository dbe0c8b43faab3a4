package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers notifications to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for a webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultSendTimeout},
	}
}

// Send posts the title in bold followed by the message. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx, d.client, d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
