package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newWebhookRouter(secret string, called *bool) http.Handler {
	r := chi.NewRouter()
	r.With(NewWebhookSecretMiddleware(secret)).Post("/webhook/{secret}", func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestWebhookSecretMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCalled bool
	}{
		{"パスとヘッダーが一致", "/webhook/s3cret", "s3cret", http.StatusOK, true},
		{"パスが不一致", "/webhook/wrong", "s3cret", http.StatusForbidden, false},
		{"ヘッダーなし", "/webhook/s3cret", "", http.StatusForbidden, false},
		{"ヘッダーが不一致", "/webhook/s3cret", "other", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := newWebhookRouter("s3cret", &called)

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(secretTokenHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestWebhookSecretMiddleware_EmptySecretRejectsAll(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
	}{
		{"任意のパス", "/webhook/anything", ""},
		{"空に相当するパスとヘッダー", "/webhook/-", "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := newWebhookRouter("", &called)

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(secretTokenHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusForbidden || called {
				t.Errorf("status = %d, called = %v, want 403, false", w.Code, called)
			}
		})
	}
}
