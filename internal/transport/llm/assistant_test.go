package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// fakeAssistantAPI serves the minimal thread/message/run surface the
// assistant client touches. The run reports in_progress once before
// completing, so the poller actually waits.
type fakeAssistantAPI struct {
	retrieves    atomic.Int64
	instructions string
}

func (f *fakeAssistantAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			_, _ = w.Write([]byte(`{"id":"thread_1","object":"thread"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/messages":
			_, _ = w.Write([]byte(`{"id":"msg_1","object":"thread.message"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			var req struct {
				Instructions string `json:"instructions"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.instructions = req.Instructions
			_, _ = w.Write([]byte(`{"id":"run_1","object":"thread.run","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
			status := "completed"
			if f.retrieves.Add(1) == 1 {
				status = "in_progress"
			}
			_, _ = w.Write([]byte(`{"id":"run_1","object":"thread.run","status":"` + status + `"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"msg_2","role":"assistant",` +
				`"content":[{"type":"text","text":{"value":"{\"keyinfo\":[],\"connections\":[]}","annotations":[]}}]}]}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestAssistantClient(t *testing.T, api *fakeAssistantAPI) *AssistantClient {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	client, err := NewAssistantClient(AssistantConfig{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		AssistantID: "asst_1",
		Poller: PollerConfig{
			Sleep: func(ctx context.Context, d time.Duration) error { return nil },
		},
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewAssistantClient: %v", err)
	}
	return client
}

func TestAssistantComplete(t *testing.T) {
	api := &fakeAssistantAPI{}
	client := newTestAssistantClient(t, api)

	durationsBefore := testutil.CollectAndCount(metrics.CompletionRequestDuration)

	reply, err := client.Complete(context.Background(), "be terse", "user question")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(reply, "keyinfo") {
		t.Errorf("reply = %q, want assistant message text", reply)
	}
	if api.instructions != "be terse" {
		t.Errorf("run instructions = %q, want the system prompt", api.instructions)
	}
	if got := api.retrieves.Load(); got != 2 {
		t.Errorf("run retrieved %d times, want 2 (in_progress then completed)", got)
	}

	durationsAfter := testutil.CollectAndCount(metrics.CompletionRequestDuration)
	if durationsAfter <= durationsBefore {
		t.Error("completion duration not observed for the assistant driver")
	}
}
