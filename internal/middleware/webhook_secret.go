package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// secretTokenHeader はBot APIがWebhook呼び出しに付与するシークレットのヘッダー名。
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// NewWebhookSecretMiddleware はWebhookリクエストのシークレットを検証するミドルウェアを返す。
// URLパスの{secret}とヘッダーの両方がsecretと一致しなければ403を返す。
// secretが空の場合はすべてのリクエストを拒否する。
func NewWebhookSecretMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				slog.Warn("webhook secret validation failed: secret not configured",
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteErrorResponse(w, http.StatusForbidden, "FORBIDDEN", "webhook is not configured")
				return
			}
			if !secretEqual(chi.URLParam(r, "secret"), secret) {
				slog.Warn("webhook secret validation failed: path mismatch",
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteErrorResponse(w, http.StatusForbidden, "FORBIDDEN", "invalid webhook secret")
				return
			}
			if !secretEqual(r.Header.Get(secretTokenHeader), secret) {
				slog.Warn("webhook secret validation failed: header mismatch",
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteErrorResponse(w, http.StatusForbidden, "FORBIDDEN", "invalid webhook secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
