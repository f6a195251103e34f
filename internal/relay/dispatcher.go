// Package relay はチャット中の相手へのメッセージ中継とシステム通知の送信を提供する。
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/anonchat/internal/metrics"
	"github.com/hitoshi/anonchat/internal/model"
)

// Transport はPayloadを相手にそのまま届ける外部トランスポート。
type Transport interface {
	Send(ctx context.Context, targetID string, p model.Payload) error
}

// SessionDirectory はチャット相手の参照と最終活動時刻の更新を行う。
// *pairing.Coordinatorが実装する。
type SessionDirectory interface {
	PartnerOf(userID string) (string, bool)
	Touch(userID string)
}

// defaultRelayTimeout は中継1件あたりの送信タイムアウト。
const defaultRelayTimeout = 10 * time.Second

// Dispatcher は送信者のチャット相手へPayloadを中継する。
type Dispatcher struct {
	sessions  SessionDirectory
	transport Transport
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	timeout   time.Duration
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewDispatcher(sessions SessionDirectory, transport Transport, collector metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Dispatcher{
		sessions:  sessions,
		transport: transport,
		metrics:   collector,
		logger:    logger,
		timeout:   defaultRelayTimeout,
	}
}

// Relay はsenderIDのチャット相手にPayloadを転送し、相手のIDを返す。
// チャット中でなければErrCodeNotInSession、配信に失敗した場合は
// ErrCodeTransportFailedのPairingErrorを返す。配信失敗でセッションは終了しない。
func (d *Dispatcher) Relay(ctx context.Context, senderID string, p model.Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	partnerID, ok := d.sessions.PartnerOf(senderID)
	if !ok {
		return "", model.NewNotInSessionError()
	}
	d.sessions.Touch(senderID)

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.transport.Send(sendCtx, partnerID, p)
	d.metrics.RecordRelayLatency(time.Since(start))
	d.metrics.RecordRelay(string(p.Kind), err == nil)

	if err != nil {
		d.logger.Warn("メッセージの中継に失敗しました",
			slog.String("sender_id", senderID),
			slog.String("kind", string(p.Kind)),
			slog.String("error", err.Error()),
		)
		return partnerID, model.NewTransportError(err)
	}
	return partnerID, nil
}
