package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/soundhoard/soundhoard/internal/download"
)

type Notifier interface {
	Notify(content string) error
}

type DiscordNotifier struct {
	WebhookURL string
}

func (d *DiscordNotifier) Notify(content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := http.Post(d.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// CompletedMessage renders the notification for a finished download.
func CompletedMessage(dl *download.Download) string {
	return fmt.Sprintf("🎵 Acquired **%s - %s** → %s",
		dl.Track.Artist, dl.Track.Title, dl.ImportedPath)
}

// FailedMessage renders the notification for a permanently failed download.
func FailedMessage(dl *download.Download) string {
	reason := "unknown"
	if dl.LastError != nil {
		reason = fmt.Sprintf("%s: %s", dl.LastError.Kind, dl.LastError.Message)
	}

	return fmt.Sprintf("❌ Gave up on **%s - %s** after %s attempt (%s)",
		dl.Track.Artist, dl.Track.Title,
		humanize.Ordinal(dl.AttemptCount), reason)
}
