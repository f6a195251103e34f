// Package monitor は期限切れのチャットリクエストと放置されたチャットを
// 定期的に掃除するセッション監視ジョブを提供する。
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/anonchat/internal/metrics"
	"github.com/hitoshi/anonchat/internal/model"
	"github.com/hitoshi/anonchat/internal/pairing"
	"github.com/hitoshi/anonchat/internal/relay"
)

// Coordinator は掃除対象の取り出しを行うペアリング状態の操作。
// 取り出しは判定と削除がロック内で一体に行われる。
type Coordinator interface {
	ExpirePending(cutoff time.Time) []model.PendingRequest
	ExpireIdle(cutoff time.Time) []model.Session
	Stats() pairing.Stats
}

// Notifier はユーザーへのテキスト通知を送信する。
type Notifier interface {
	NotifyText(ctx context.Context, targetID, text string)
}

// Config は監視ジョブの設定パラメータ。
type Config struct {
	// Interval は掃除の実行間隔（デフォルト: 60秒）。
	Interval time.Duration
	// PendingTimeout はリクエストの有効期間（デフォルト: 5分）。
	PendingTimeout time.Duration
	// IdleTimeout はチャットの無操作タイムアウト（デフォルト: 30分）。
	IdleTimeout time.Duration
}

// DefaultConfig はデフォルトの監視設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval:       60 * time.Second,
		PendingTimeout: 5 * time.Minute,
		IdleTimeout:    30 * time.Minute,
	}
}

// Result は1回の掃除で取り除いたレコード数。
type Result struct {
	ExpiredRequests int
	ClosedSessions  int
}

// Monitor はセッション監視ジョブ。
// 掃除は時間経過による唯一のキャンセル要因であり、厳密な期限ではない。
type Monitor struct {
	coordinator Coordinator
	notifier    Notifier
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	config      Config
	now         func() time.Time
}

// NewMonitor はMonitorの新しいインスタンスを生成する。
func NewMonitor(
	coordinator Coordinator,
	notifier Notifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Monitor {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Monitor{
		coordinator: coordinator,
		notifier:    notifier,
		metrics:     collector,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// Start は監視ジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Info("セッション監視ジョブを開始しました",
		slog.Duration("interval", m.config.Interval),
		slog.Duration("pending_timeout", m.config.PendingTimeout),
		slog.Duration("idle_timeout", m.config.IdleTimeout),
	)

	// 起動直後に1回実行
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("セッション監視ジョブを停止しました")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce は期限切れのリクエストと放置されたチャットを1回掃除する。
// 通知はCoordinatorのロック解放後に送信し、1件の失敗で残りの処理を止めない。
func (m *Monitor) RunOnce(ctx context.Context) Result {
	start := time.Now()
	now := m.now()

	expired := m.coordinator.ExpirePending(now.Add(-m.config.PendingTimeout))
	for _, req := range expired {
		m.notify(ctx, "request_expired", req.RequesterID, relay.MsgRequestExpired)
		m.notify(ctx, "request_withdrawn", req.OwnerID, relay.MsgRequestWithdrawn)
	}
	if len(expired) > 0 {
		m.metrics.RecordPendingExpired(len(expired))
	}

	idle := m.coordinator.ExpireIdle(now.Add(-m.config.IdleTimeout))
	for _, s := range idle {
		m.notify(ctx, "session_idle", s.MemberID, relay.MsgSessionIdleTimeout)
		m.notify(ctx, "session_idle", s.PartnerID, relay.MsgSessionIdleTimeout)
		m.metrics.RecordSessionClosed(metrics.CloseReasonIdleTimeout)
	}

	stats := m.coordinator.Stats()
	m.metrics.SetActive(stats.PendingRequests, stats.Sessions)

	result := Result{ExpiredRequests: len(expired), ClosedSessions: len(idle)}
	if result.ExpiredRequests > 0 || result.ClosedSessions > 0 {
		m.logger.Info("セッション監視ジョブが完了しました",
			slog.Int("expired_requests", result.ExpiredRequests),
			slog.Int("closed_sessions", result.ClosedSessions),
			slog.Int("active_pending", stats.PendingRequests),
			slog.Int("active_sessions", stats.Sessions),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return result
}

// notify は1件の通知を送信する。通知処理のpanicはここで回収する。
func (m *Monitor) notify(ctx context.Context, event, targetID, text string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("通知処理でpanicが発生しました",
				slog.String("event", event),
				slog.String("target_id", targetID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	m.notifier.NotifyText(ctx, targetID, text)
}
