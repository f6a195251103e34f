// Package handler はWebhook受信と運用エンドポイントのHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/anonchat/internal/middleware"
	"github.com/hitoshi/anonchat/internal/transport/telegram"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// Webhook
	Updates       telegram.UpdateHandler
	WebhookSecret string

	// 運用エンドポイント
	HealthChecker HealthChecker
	Metrics       http.Handler
}

// NewRouter はルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → (WebhookSecretMiddleware)
//
// Updatesがnilの場合（ロングポーリングモード）はWebhookのルートを登録しない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	if deps.Updates != nil {
		webhook := NewWebhookHandler(deps.Updates, deps.Logger)
		r.With(middleware.NewWebhookSecretMiddleware(deps.WebhookSecret)).
			Post("/webhook/{secret}", webhook.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
		if deps.Metrics != nil {
			r.Handle("/metrics", deps.Metrics)
		}
	})

	return r
}
