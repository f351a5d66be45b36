package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"abbey/model"
)

// Webhook posts bake notifications as {"text": ...} to a chat-style
// incoming webhook.
type Webhook struct {
	URL        string
	Username   string
	HTTPClient *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:      url,
		Username: "abbey",
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *Webhook) Notify(ctx context.Context, message string) error {
	if w == nil || w.URL == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"text": message, "username": w.Username})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func Succeeded(rc model.RunContext, imageID string) string {
	return fmt.Sprintf("Finished baking AMI %s for %s %s %s.", imageID, rc.Environment, rc.Deployment, rc.Play)
}

func Failed(rc model.RunContext, err error) string {
	return fmt.Sprintf("An error occurred building AMI for %s %s %s.  The error was %v", rc.Environment, rc.Deployment, rc.Play, err)
}
