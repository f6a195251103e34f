package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/anonchat/internal/model"
)

// defaultNoticeTimeout は通知1件あたりの送信タイムアウト。
const defaultNoticeTimeout = 10 * time.Second

// NoticeSender はシステム通知を送信する外部トランスポート。
type NoticeSender interface {
	SendNotice(ctx context.Context, targetID string, n model.Notice) error
}

// Notifier はシステム通知を送信する。送信の失敗はログに記録するのみで呼び出し元には返さない。
// 状態遷移は通知の成否に関わらず確定しているため。
type Notifier struct {
	sender  NoticeSender
	logger  *slog.Logger
	timeout time.Duration
}

// NewNotifier はNotifierの新しいインスタンスを生成する。
func NewNotifier(sender NoticeSender, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		logger:  logger,
		timeout: defaultNoticeTimeout,
	}
}

// Notify はtargetIDに通知を送信する。
func (n *Notifier) Notify(ctx context.Context, targetID string, notice model.Notice) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.sender.SendNotice(ctx, targetID, notice); err != nil {
		n.logger.Warn("通知の送信に失敗しました",
			slog.String("target_id", targetID),
			slog.String("error", err.Error()),
		)
	}
}

// NotifyText はボタンなしのテキスト通知を送信する。
func (n *Notifier) NotifyText(ctx context.Context, targetID, text string) {
	n.Notify(ctx, targetID, model.Notice{Text: text})
}
