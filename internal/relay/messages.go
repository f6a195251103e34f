package relay

// ユーザーに送信するシステム通知の文面。
// 通知はHTML形式で送信されるため、埋め込む値は事前にエスケープすること。
const (
	MsgWelcome            = "匿名チャットへようこそ。\nこのリンクを共有すると、相手はあなたの名前を知らずにチャットをリクエストできます:\n%s"
	MsgInviteLink         = "あなたの招待リンク:\n%s"
	MsgRequestSent        = "チャットリクエストを送信しました。相手の応答をお待ちください。"
	MsgRequestReceived    = "<b>%s</b> さんが匿名チャットを希望しています。"
	MsgSessionStarted     = "チャットが始まりました。メッセージはそのまま相手に転送されます。終了するには /end を送信してください。"
	MsgRequestRejected    = "チャットリクエストは拒否されました。"
	MsgRequestDeclined    = "リクエストを拒否しました。"
	MsgRequestExpired     = "チャットリクエストの有効期限が切れました。"
	MsgRequestWithdrawn   = "チャットリクエストは有効期限切れで取り消されました。"
	MsgRequestStale       = "このリクエストは既に無効です。"
	MsgSessionEnded       = "チャットを終了しました。"
	MsgPartnerLeft        = "相手がチャットを終了しました。"
	MsgSessionIdleTimeout = "一定時間やり取りがなかったため、チャットを終了しました。"
	MsgStartSessionFirst  = "まだチャット中ではありません。招待リンクからチャットを開始してください。"
	MsgDeliveryFailed     = "メッセージを届けられませんでした。もう一度送信してください。"
	MsgUnsupportedMessage = "この種類のメッセージは転送できません。"
	MsgSlowDown           = "送信が速すぎます。少し待ってから再度お試しください。"
	MsgSystemBusy         = "システムが混み合っています。しばらく待ってから再度お試しください。"
)

// ボタンのラベル。
const (
	ButtonAccept = "承認"
	ButtonReject = "拒否"
	ButtonEnd    = "チャットを終了"
)
