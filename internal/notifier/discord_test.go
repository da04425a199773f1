package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify(t *testing.T) {
	var received map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := &DiscordNotifier{WebhookURL: ts.URL}

	require.NoError(t, n.Notify("hello"))
	assert.Equal(t, "hello", received["content"])
}

func TestNotify_NoWebhook(t *testing.T) {
	n := &DiscordNotifier{}
	assert.Error(t, n.Notify("hello"))
}

func TestNotify_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	n := &DiscordNotifier{WebhookURL: ts.URL}
	assert.Error(t, n.Notify("hello"))
}

func TestMessages(t *testing.T) {
	dl := &download.Download{
		Track:        catalog.TrackRef{Artist: "Artist", Title: "Song"},
		ImportedPath: "/music/Artist/Album/Artist - Song.flac",
		AttemptCount: 3,
		LastError: &download.Failure{
			Kind:    download.KindNoResults,
			Message: "no results for \"Artist Song\"",
		},
	}

	completed := CompletedMessage(dl)
	assert.Contains(t, completed, "Artist - Song")
	assert.Contains(t, completed, dl.ImportedPath)

	failed := FailedMessage(dl)
	assert.Contains(t, failed, "3rd attempt")
	assert.Contains(t, failed, string(download.KindNoResults))
}
