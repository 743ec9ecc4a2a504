package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier はイベントをJSONでHTTP POSTするSender。
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier はWebhookNotifierを生成する。
// httpClientには送信先IPを検証するクライアント（security.WebhookGuard.NewSafeClient）を渡す。
func NewWebhookNotifier(httpClient *http.Client, url string) *WebhookNotifier {
	client := resty.NewWithClient(httpClient).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "manabiya-notifier/1.0")
	return &WebhookNotifier{client: client, url: url}
}

// Send はイベントを送信する。2xx以外のレスポンスはエラーとして扱う。
func (n *WebhookNotifier) Send(ctx context.Context, event Event) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-Manabiya-Event", string(event.Kind)).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("Webhookの送信に失敗しました: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Webhookがエラーを返しました: status=%d", resp.StatusCode())
	}
	return nil
}
