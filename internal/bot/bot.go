// Package bot は受信した更新をコマンド、ボタン操作、中継メッセージに振り分ける。
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/hitoshi/anonchat/internal/metrics"
	"github.com/hitoshi/anonchat/internal/middleware"
	"github.com/hitoshi/anonchat/internal/model"
	"github.com/hitoshi/anonchat/internal/relay"
	"github.com/hitoshi/anonchat/internal/transport/telegram"
)

// ボタンのコールバックデータ。
// 承認・拒否ボタンには「accept_chat:<リクエストID>」の形式で対象のリクエストIDを付ける。
const (
	CallbackAccept = "accept_chat"
	CallbackReject = "reject_chat"
	CallbackEnd    = "end_chat"
)

// callbackData はリクエストIDを付けたコールバックデータを返す。
func callbackData(action, requestID string) string {
	return action + ":" + requestID
}

// anonymousName は表示名が取得できない場合の名前。
const anonymousName = "匿名ユーザー"

// Registry はユーザー登録と招待トークンの解決を行う。
type Registry interface {
	Register(ctx context.Context, identity, username string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
	InviteLink(token string) string
}

// Pairing はチャットリクエストとセッションの状態遷移を行う。
type Pairing interface {
	Request(requesterID, ownerID string) (model.PendingRequest, error)
	AcceptRequest(ownerID, requestID string) (string, error)
	RejectRequest(ownerID, requestID string) (string, error)
	Disconnect(userID string) (string, error)
}

// Relayer はチャット相手へのメッセージ中継を行う。
type Relayer interface {
	Relay(ctx context.Context, senderID string, p model.Payload) (string, error)
}

// Notifier はシステム通知を送信する。
type Notifier interface {
	Notify(ctx context.Context, targetID string, n model.Notice)
	NotifyText(ctx context.Context, targetID, text string)
}

// CallbackResponder はボタン操作への応答と通知の書き換えを行う。
type CallbackResponder interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
	EditNotice(ctx context.Context, chatID string, messageID int64, n model.Notice) error
}

// Limiter はユーザーごとのイベント数を制限する。
type Limiter interface {
	Check(userID string) middleware.Decision
}

// NameSanitizer は表示名を通知に埋め込める形に変換する。
type NameSanitizer interface {
	Sanitize(name, fallback string) string
}

// Deps はBotが利用するコンポーネント。
type Deps struct {
	Registry  Registry
	Pairing   Pairing
	Relay     Relayer
	Notifier  Notifier
	Callbacks CallbackResponder
	Limiter   Limiter
	Sanitizer NameSanitizer
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// Bot は受信した更新を処理する。
// 1件の更新の処理中に発生したエラーやpanicは他の更新の処理に影響しない。
type Bot struct {
	registry  Registry
	pairing   Pairing
	relay     Relayer
	notifier  Notifier
	callbacks CallbackResponder
	limiter   Limiter
	sanitizer NameSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// New はBotの新しいインスタンスを生成する。
func New(d Deps) *Bot {
	if d.Metrics == nil {
		d.Metrics = metrics.NopCollector{}
	}
	return &Bot{
		registry:  d.Registry,
		pairing:   d.Pairing,
		relay:     d.Relay,
		notifier:  d.Notifier,
		callbacks: d.Callbacks,
		limiter:   d.Limiter,
		sanitizer: d.Sanitizer,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// HandleUpdate は1件の更新を処理する。telegram.UpdateHandlerを実装する。
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	senderID := u.SenderID()
	if senderID == "" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("更新の処理中にpanicが発生しました",
				slog.Int64("update_id", u.UpdateID),
				slog.String("user_id", senderID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if b.limiter != nil {
		switch b.limiter.Check(senderID) {
		case middleware.Deny:
			b.answerCallback(ctx, u.CallbackQuery)
			return
		case middleware.DenyAndNotify:
			b.metrics.RecordRateLimited()
			b.answerCallback(ctx, u.CallbackQuery)
			b.notifier.NotifyText(ctx, senderID, relay.MsgSlowDown)
			return
		}
	}

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, senderID, u.CallbackQuery)
	case u.Message != nil:
		if u.Message.Chat.Type != "" && u.Message.Chat.Type != "private" {
			return
		}
		b.handleMessage(ctx, senderID, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, senderID string, msg *telegram.Message) {
	command, arg := parseCommand(msg.Text)
	switch command {
	case "/start":
		if arg == "" {
			b.handleStart(ctx, senderID, msg.From)
		} else {
			b.handleInvite(ctx, senderID, msg.From, arg)
		}
	case "/link":
		b.handleLink(ctx, senderID, msg.From)
	case "/end":
		b.handleEnd(ctx, senderID)
	default:
		b.handleRelay(ctx, senderID, msg)
	}
}

// handleStart はユーザーを登録して招待リンクを返す。
func (b *Bot) handleStart(ctx context.Context, senderID string, from *telegram.User) {
	token, err := b.registry.Register(ctx, senderID, usernameOf(from))
	if err != nil {
		b.replyError(ctx, senderID, "start", err)
		return
	}
	b.notifier.NotifyText(ctx, senderID, fmt.Sprintf(relay.MsgWelcome, b.registry.InviteLink(token)))
}

// handleLink は招待リンクを再送する。
func (b *Bot) handleLink(ctx context.Context, senderID string, from *telegram.User) {
	token, err := b.registry.Register(ctx, senderID, usernameOf(from))
	if err != nil {
		b.replyError(ctx, senderID, "link", err)
		return
	}
	b.notifier.NotifyText(ctx, senderID, fmt.Sprintf(relay.MsgInviteLink, b.registry.InviteLink(token)))
}

// handleInvite は招待リンク経由で開始したユーザーからリンク所有者へリクエストを送る。
// ストアへのアクセスはペアリング状態の操作より前に済ませる。
func (b *Bot) handleInvite(ctx context.Context, senderID string, from *telegram.User, token string) {
	if _, err := b.registry.Register(ctx, senderID, usernameOf(from)); err != nil {
		b.replyError(ctx, senderID, "invite", err)
		return
	}
	ownerID, err := b.registry.Resolve(ctx, token)
	if err != nil {
		b.replyError(ctx, senderID, "invite", err)
		return
	}

	req, err := b.pairing.Request(senderID, ownerID)
	if err != nil {
		b.metrics.RecordPairingRequest(outcomeOf(err))
		b.replyError(ctx, senderID, "request", err)
		return
	}
	b.metrics.RecordPairingRequest("ok")

	name := b.sanitizer.Sanitize(from.DisplayName(), anonymousName)
	b.notifier.Notify(ctx, ownerID, model.Notice{
		Text: fmt.Sprintf(relay.MsgRequestReceived, name),
		Buttons: []model.Button{
			{Text: relay.ButtonAccept, Data: callbackData(CallbackAccept, req.ID)},
			{Text: relay.ButtonReject, Data: callbackData(CallbackReject, req.ID)},
		},
	})
	b.notifier.NotifyText(ctx, senderID, relay.MsgRequestSent)
}

// handleEnd はチャットを終了し、双方に通知する。
func (b *Bot) handleEnd(ctx context.Context, senderID string) {
	partnerID, err := b.pairing.Disconnect(senderID)
	if err != nil {
		b.replyError(ctx, senderID, "end", err)
		return
	}
	b.metrics.RecordSessionClosed(metrics.CloseReasonDisconnect)
	b.notifier.NotifyText(ctx, senderID, relay.MsgSessionEnded)
	b.notifier.NotifyText(ctx, partnerID, relay.MsgPartnerLeft)
}

// handleRelay はメッセージをチャット相手に中継する。
func (b *Bot) handleRelay(ctx context.Context, senderID string, msg *telegram.Message) {
	p, ok := msg.Payload()
	if !ok {
		b.notifier.NotifyText(ctx, senderID, relay.MsgUnsupportedMessage)
		return
	}

	_, err := b.relay.Relay(ctx, senderID, p)
	switch {
	case err == nil:
	case model.IsCode(err, model.ErrCodeNotInSession):
		b.notifier.NotifyText(ctx, senderID, relay.MsgStartSessionFirst)
	case model.IsCode(err, model.ErrCodeTransportFailed):
		b.notifier.NotifyText(ctx, senderID, relay.MsgDeliveryFailed)
	default:
		b.replyError(ctx, senderID, "relay", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, senderID string, cb *telegram.CallbackQuery) {
	b.answerCallback(ctx, cb)

	action, requestID, _ := strings.Cut(cb.Data, ":")
	switch action {
	case CallbackAccept:
		requesterID, err := b.pairing.AcceptRequest(senderID, requestID)
		if err != nil {
			b.replyCallbackError(ctx, senderID, cb, "accept", err)
			return
		}
		b.metrics.RecordSessionEstablished()
		endButton := []model.Button{{Text: relay.ButtonEnd, Data: CallbackEnd}}
		b.resolveRequestNotice(ctx, senderID, cb, model.Notice{Text: relay.MsgSessionStarted, Buttons: endButton})
		b.notifier.Notify(ctx, requesterID, model.Notice{Text: relay.MsgSessionStarted, Buttons: endButton})

	case CallbackReject:
		requesterID, err := b.pairing.RejectRequest(senderID, requestID)
		if err != nil {
			b.replyCallbackError(ctx, senderID, cb, "reject", err)
			return
		}
		b.resolveRequestNotice(ctx, senderID, cb, model.Notice{Text: relay.MsgRequestDeclined})
		b.notifier.NotifyText(ctx, requesterID, relay.MsgRequestRejected)

	case CallbackEnd:
		b.handleEnd(ctx, senderID)

	default:
		b.logger.Debug("未知のコールバックを無視しました",
			slog.String("user_id", senderID),
			slog.String("data", cb.Data),
		)
	}
}

// resolveRequestNotice はリクエスト通知のボタンを結果の表示に置き換える。
// 書き換えられない場合は新しい通知として送る。
func (b *Bot) resolveRequestNotice(ctx context.Context, ownerID string, cb *telegram.CallbackQuery, n model.Notice) {
	if cb.Message != nil {
		err := b.callbacks.EditNotice(ctx, ownerID, cb.Message.MessageID, n)
		if err == nil {
			return
		}
		b.logger.Warn("リクエスト通知の書き換えに失敗しました",
			slog.String("user_id", ownerID),
			slog.String("error", err.Error()),
		)
	}
	b.notifier.Notify(ctx, ownerID, n)
}

// replyCallbackError は承認・拒否の失敗を通知する。
// 対象のリクエストが既に無効な場合は、押されたボタンを取り除いた通知に置き換える。
func (b *Bot) replyCallbackError(ctx context.Context, ownerID string, cb *telegram.CallbackQuery, op string, err error) {
	if model.IsCode(err, model.ErrCodeNoPendingRequest) {
		b.logger.Info("無効なリクエストへの応答を無視しました",
			slog.String("op", op),
			slog.String("user_id", ownerID),
		)
		b.resolveRequestNotice(ctx, ownerID, cb, model.Notice{Text: relay.MsgRequestStale})
		return
	}
	b.replyError(ctx, ownerID, op, err)
}

func (b *Bot) answerCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb == nil {
		return
	}
	if err := b.callbacks.AnswerCallback(ctx, cb.ID, ""); err != nil {
		b.logger.Warn("コールバックへの応答に失敗しました",
			slog.String("callback_id", cb.ID),
			slog.String("error", err.Error()),
		)
	}
}

// replyError はエラーをユーザー向けの通知に変換して送信する。
// PairingError以外のエラーは内部エラーとしてログに記録し、混雑メッセージを返す。
func (b *Bot) replyError(ctx context.Context, userID, op string, err error) {
	var pErr *model.PairingError
	if !errors.As(err, &pErr) {
		b.logger.Error("更新の処理に失敗しました",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		b.notifier.NotifyText(ctx, userID, relay.MsgSystemBusy)
		return
	}

	if pErr.Category == model.CategoryStorageUnavailable {
		b.logger.Error("ストアに到達できません",
			slog.String("op", op),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		b.notifier.NotifyText(ctx, userID, relay.MsgSystemBusy)
		return
	}

	b.logger.Info("操作を拒否しました",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("code", pErr.Code),
	)
	b.notifier.NotifyText(ctx, userID, html.EscapeString(pErr.Message)+"\n"+html.EscapeString(pErr.Action))
}

// parseCommand はテキストを「/command」と引数に分割する。コマンドでなければ空文字列を返す。
// グループ向けの「/start@botname」形式も受け付ける。
func parseCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	command, _, _ := strings.Cut(fields[0], "@")
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(command), arg
}

func usernameOf(u *telegram.User) string {
	if u == nil {
		return ""
	}
	return u.Username
}

// outcomeOf はメトリクス用のリクエスト結果ラベルを返す。
func outcomeOf(err error) string {
	var pErr *model.PairingError
	if errors.As(err, &pErr) {
		return strings.ToLower(pErr.Code)
	}
	return "error"
}
