package notifier

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/stretchr/testify/require"
)

func TestNotifyFansOutToAllSubscribers(t *testing.T) {
	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		received = append(received, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	n, err := New(map[string][]string{
		"access_granted": {srv.URL + "/a", srv.URL + "/b"},
	}, slog.Default())
	require.NoError(t, err)

	n.Notify(event.Event{
		UUID: "uuid-1", Name: "access_granted", Timestamp: time.Now(),
		Properties: event.Properties{UserID: "user_A", Fields: map[string]any{"feature": "message"}},
	})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"/a", "/b"}, received)
}

func TestNotifySkipsUnconfiguredName(t *testing.T) {
	n, err := New(map[string][]string{}, slog.Default())
	require.NoError(t, err)
	n.Notify(event.Event{UUID: "uuid-1", Name: "access_granted", Timestamp: time.Now()})
}
