package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/anonchat/internal/middleware"
	"github.com/hitoshi/anonchat/internal/transport/telegram"
)

// maxUpdateSize はWebhookで受け付ける更新ボディの最大サイズ。
const maxUpdateSize = 1 << 20

// UpdateTimeout は1件の更新の処理に許す時間。サーバーの書き込みタイムアウトより短くする。
const UpdateTimeout = 10 * time.Second

// WebhookHandler はBot APIからのWebhook呼び出しを受け付ける。
type WebhookHandler struct {
	updates telegram.UpdateHandler
	logger  *slog.Logger
	timeout time.Duration
}

// NewWebhookHandler はWebhookHandlerの新しいインスタンスを生成する。
func NewWebhookHandler(updates telegram.UpdateHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{updates: updates, logger: logger, timeout: UpdateTimeout}
}

// ServeHTTP はPOST /webhook/{secret} を処理する。
// 更新の処理結果に関わらず200を返す。200以外を返すとBot APIが同じ更新を再送するため。
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize+1))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_UPDATE", "failed to read body")
		return
	}
	if len(body) > maxUpdateSize {
		middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, "UPDATE_TOO_LARGE", "update body too large")
		return
	}

	var u telegram.Update
	if err := json.Unmarshal(body, &u); err != nil {
		h.logger.Warn("不正な更新を受信しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, "INVALID_UPDATE", "malformed update")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	h.updates.HandleUpdate(ctx, u)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}
