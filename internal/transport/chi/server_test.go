package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	chatuc "github.com/kailas-cloud/ragdex/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/retrieve"
)

type fakeRetriever struct {
	result retrieve.Retrieved
	err    error
}

func (f *fakeRetriever) Search(ctx context.Context, query string) (retrieve.Retrieved, error) {
	return f.result, f.err
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.reply, f.err
}

type fakeAdmitter struct {
	allow bool
	seen  []string
}

func (f *fakeAdmitter) Admit(clientID string) bool {
	f.seen = append(f.seen, clientID)
	return f.allow
}

type readyChecker struct{ err error }

func (r readyChecker) Ready() error { return r.err }

const okReply = "```json\n{\"keyinfo\":[{\"id\":\"1\",\"keyword\":\"alpha\"}],\"connections\":[]}\n```"

func newTestServer(t *testing.T, completer chatuc.Completer, limiter Admitter) http.Handler {
	t.Helper()

	pipeline := chatuc.New(&fakeRetriever{}, completer, "system", zap.NewNop())
	health := healthuc.New(map[string]healthuc.IndexChecker{
		"content": readyChecker{},
		"image":   readyChecker{},
	}, nil)

	srv := NewServer(pipeline, health, limiter, zap.NewNop())
	r := chirouter.NewRouter()
	srv.Register(r)
	return r
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChat(t *testing.T) {
	h := newTestServer(t, &fakeCompleter{reply: okReply}, nil)

	w := postChat(t, h, `{"message":"who is alpha"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != okReply {
		t.Errorf("reply not preserved: %q", resp.Reply)
	}
	if len(resp.Data.KeyInfo) != 1 || resp.Data.KeyInfo[0].Keyword != "alpha" {
		t.Errorf("parsed data = %+v", resp.Data)
	}
}

func TestChatQueryAlias(t *testing.T) {
	h := newTestServer(t, &fakeCompleter{reply: okReply}, nil)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"message":"hi"}`))
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestChatValidation(t *testing.T) {
	h := newTestServer(t, &fakeCompleter{reply: okReply}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"blank message", `{"message":"   "}`},
		{"missing message", `{}`},
		{"invalid json", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postChat(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestChatRateLimited(t *testing.T) {
	limiter := &fakeAdmitter{allow: false}
	h := newTestServer(t, &fakeCompleter{reply: okReply}, limiter)

	w := postChat(t, h, `{"message":"hi"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Message != "too many requests" {
		t.Errorf("message = %q, want too many requests", resp.Message)
	}
	if len(limiter.seen) != 1 || limiter.seen[0] != "203.0.113.7" {
		t.Errorf("limiter saw clients %v, want RemoteAddr host", limiter.seen)
	}
}

func TestChatRateLimitPrecedesValidation(t *testing.T) {
	// A denied client gets 429 even for a request that would fail
	// validation; admission control runs before the body is read.
	limiter := &fakeAdmitter{allow: false}
	h := newTestServer(t, &fakeCompleter{reply: okReply}, limiter)

	w := postChat(t, h, `{"message":""}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for denied client regardless of body", w.Code)
	}
}

func TestChatInvalidRequestsCountAgainstWindow(t *testing.T) {
	limiter := &fakeAdmitter{allow: true}
	h := newTestServer(t, &fakeCompleter{reply: okReply}, limiter)

	for i := 0; i < 3; i++ {
		w := postChat(t, h, `{"message":""}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	}
	if len(limiter.seen) != 3 {
		t.Errorf("limiter recorded %d requests, want 3: blank requests must still count", len(limiter.seen))
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"completion service down", domain.NewCompletionServiceError(503, "overloaded"), http.StatusInternalServerError},
		{"poll timeout", domain.ErrPollTimeout, http.StatusInternalServerError},
		{"unexpected error", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeCompleter{err: tt.err}, nil)
			w := postChat(t, h, `{"message":"hi"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if strings.Contains(w.Body.String(), "disk on fire") {
				t.Error("internal error details leaked to the client")
			}
		})
	}
}

func TestChatMalformedReply(t *testing.T) {
	h := newTestServer(t, &fakeCompleter{reply: "sorry, cannot answer in JSON"}, nil)

	w := postChat(t, h, `{"message":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error != "malformed_reply" {
		t.Errorf("error code = %q, want malformed_reply", resp.Error)
	}
}

func TestClientIDForwardedFor(t *testing.T) {
	srv := NewServer(nil, nil, nil, zap.NewNop()).WithTrustedProxy(true)

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	if got := srv.clientID(req); got != "198.51.100.4" {
		t.Errorf("clientID = %q, want first forwarded hop", got)
	}

	srv.trustProxy = false
	if got := srv.clientID(req); got != "10.0.0.1" {
		t.Errorf("clientID = %q, want RemoteAddr host when proxy untrusted", got)
	}
}

func TestHealthCheck(t *testing.T) {
	h := newTestServer(t, &fakeCompleter{reply: okReply}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestHealthCheckDegraded(t *testing.T) {
	pipeline := chatuc.New(&fakeRetriever{}, &fakeCompleter{}, "system", zap.NewNop())
	health := healthuc.New(map[string]healthuc.IndexChecker{
		"content": readyChecker{err: domain.ErrNotInitialized},
	}, nil)
	srv := NewServer(pipeline, health, nil, zap.NewNop())
	r := chirouter.NewRouter()
	srv.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin header")
	}
}
