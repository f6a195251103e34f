package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/anonchat/internal/transport/telegram"
)

// --- モック定義 ---

// mockUpdateHandler は受け取った更新を記録する。
type mockUpdateHandler struct {
	mu        sync.Mutex
	updates   []telegram.Update
	deadlines []time.Time
	panics    bool
}

func (m *mockUpdateHandler) HandleUpdate(ctx context.Context, u telegram.Update) {
	if m.panics {
		panic("handler exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	if deadline, ok := ctx.Deadline(); ok {
		m.deadlines = append(m.deadlines, deadline)
	}
}

// mockHealthChecker はPingContextの結果を返す。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

func newTestRouter(updates telegram.UpdateHandler, checker HealthChecker, secret string) (http.Handler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewRouter(&RouterDeps{
		Logger:        logger,
		Updates:       updates,
		WebhookSecret: secret,
		HealthChecker: checker,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("anonchat_sessions_established_total 0\n"))
		}),
	}), &buf
}

func webhookRequest(path, secret, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	return req
}

// --- テスト ---

func TestRouter_Webhook_DispatchesUpdate(t *testing.T) {
	updates := &mockUpdateHandler{}
	router, _ := newTestRouter(updates, &mockHealthChecker{}, "s3cret")

	body := `{"update_id":7,"message":{"message_id":1,"from":{"id":42,"is_bot":false,"first_name":"A"},"chat":{"id":42,"type":"private"},"text":"hello"}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/s3cret", "s3cret", body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(updates.updates) != 1 {
		t.Fatalf("更新数 = %d, want 1", len(updates.updates))
	}
	u := updates.updates[0]
	if u.UpdateID != 7 || u.Message == nil || u.Message.Text != "hello" {
		t.Errorf("更新 = %+v", u)
	}
}

func TestRouter_Webhook_BoundsUpdateHandling(t *testing.T) {
	updates := &mockUpdateHandler{}
	router, _ := newTestRouter(updates, &mockHealthChecker{}, "s3cret")

	before := time.Now()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/s3cret", "s3cret", `{"update_id":1}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(updates.deadlines) != 1 {
		t.Fatalf("期限付きで処理された更新数 = %d, want 1", len(updates.deadlines))
	}
	if limit := before.Add(UpdateTimeout); updates.deadlines[0].After(limit.Add(time.Second)) {
		t.Errorf("処理の期限 = %v, want %v 以前", updates.deadlines[0], limit)
	}
}

func TestRouter_Webhook_WrongSecret(t *testing.T) {
	updates := &mockUpdateHandler{}
	router, _ := newTestRouter(updates, &mockHealthChecker{}, "s3cret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/guess", "guess", `{"update_id":1}`))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if len(updates.updates) != 0 {
		t.Error("シークレット不一致の更新が処理された")
	}
}

func TestRouter_Webhook_MalformedBody(t *testing.T) {
	updates := &mockUpdateHandler{}
	router, _ := newTestRouter(updates, &mockHealthChecker{}, "s3cret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/s3cret", "s3cret", `{not json`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["code"] != "INVALID_UPDATE" {
		t.Errorf("code = %q, want INVALID_UPDATE", body["code"])
	}
}

func TestRouter_Webhook_TooLarge(t *testing.T) {
	router, _ := newTestRouter(&mockUpdateHandler{}, &mockHealthChecker{}, "s3cret")

	big := `{"update_id":1,"message":{"text":"` + strings.Repeat("a", maxUpdateSize) + `"}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/s3cret", "s3cret", big))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestRouter_Webhook_PanicIsRecovered(t *testing.T) {
	router, logs := newTestRouter(&mockUpdateHandler{panics: true}, &mockHealthChecker{}, "s3cret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/s3cret", "s3cret", `{"update_id":1}`))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(logs.String(), "panic recovered") {
		t.Errorf("panicのログが出力されていない: %s", logs.String())
	}
}

func TestRouter_NoWebhookInPollingMode(t *testing.T) {
	router, _ := newTestRouter(nil, &mockHealthChecker{}, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, webhookRequest("/webhook/any", "", `{"update_id":1}`))

	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", w.Code)
	}
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"正常", nil, http.StatusOK, "ok"},
		{"DB到達不可", errors.New("connection refused"), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(nil, &mockHealthChecker{err: tt.pingErr}, "")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body healthResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("レスポンスのデコードに失敗: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", body.Status, tt.wantBody)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router, _ := newTestRouter(nil, &mockHealthChecker{}, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "anonchat_sessions_established_total") {
		t.Errorf("body = %s", w.Body.String())
	}
}
