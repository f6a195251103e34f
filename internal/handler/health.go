package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker はストアへの疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はGET /health を処理する。
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler はHealthHandlerの新しいインスタンスを生成する。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// ServeHTTP はストアに到達できれば200、できなければ503を返す。
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if h.checker != nil {
		if err := h.checker.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			resp = healthResponse{Status: "unavailable", Database: "unreachable"}
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
