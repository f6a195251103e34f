// Package telegram はTelegram Bot APIを使ったトランスポートを提供する。
// メッセージ種別ごとの送信、通知、Webhook/ロングポーリングによる受信を含む。
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/anonchat/internal/model"
)

const (
	// DefaultAPIURL はBot APIのデフォルトエンドポイント。
	DefaultAPIURL = "https://api.telegram.org"
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 4 << 20
)

// APIError はBot APIがok=falseを返した場合のエラー。
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int // 429の場合の待機秒数
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// apiResponse はBot APIの共通レスポンス形式。
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Client はBot APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // <api>/bot<token>
}

// NewClient はClientの新しいインスタンスを生成する。
// apiURLが空の場合はDefaultAPIURLを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, apiURL, token string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(apiURL, "/") + "/bot" + token,
	}
}

// Send はPayloadを種別に応じたメソッドでそのまま転送する。
func (c *Client) Send(ctx context.Context, chatID string, p model.Payload) error {
	params := map[string]any{"chat_id": chatIDParam(chatID)}

	var method string
	switch p.Kind {
	case model.PayloadText:
		method = "sendMessage"
		params["text"] = p.Text
	case model.PayloadPhoto:
		method = "sendPhoto"
		params["photo"] = p.FileID
	case model.PayloadVideo:
		method = "sendVideo"
		params["video"] = p.FileID
	case model.PayloadDocument:
		method = "sendDocument"
		params["document"] = p.FileID
	case model.PayloadAudio:
		method = "sendAudio"
		params["audio"] = p.FileID
	case model.PayloadVoice:
		method = "sendVoice"
		params["voice"] = p.FileID
	case model.PayloadSticker:
		method = "sendSticker"
		params["sticker"] = p.FileID
	case model.PayloadAnimation:
		method = "sendAnimation"
		params["animation"] = p.FileID
	case model.PayloadVideoNote:
		method = "sendVideoNote"
		params["video_note"] = p.FileID
	default:
		return fmt.Errorf("unsupported payload kind: %q", p.Kind)
	}
	if p.Caption != "" && p.Kind.SupportsCaption() {
		params["caption"] = p.Caption
	}

	return c.call(ctx, method, params, nil)
}

// SendNotice はシステム通知をHTML形式で送信する。ボタンがあればインラインキーボードを添付する。
func (c *Client) SendNotice(ctx context.Context, chatID string, n model.Notice) error {
	params := map[string]any{
		"chat_id":    chatIDParam(chatID),
		"text":       n.Text,
		"parse_mode": "HTML",
	}
	if kb := keyboardFrom(n.Buttons); kb != nil {
		params["reply_markup"] = kb
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// EditNotice は送信済み通知の本文を書き換え、ボタンを置き換える。
func (c *Client) EditNotice(ctx context.Context, chatID string, messageID int64, n model.Notice) error {
	params := map[string]any{
		"chat_id":    chatIDParam(chatID),
		"message_id": messageID,
		"text":       n.Text,
		"parse_mode": "HTML",
	}
	if kb := keyboardFrom(n.Buttons); kb != nil {
		params["reply_markup"] = kb
	}
	return c.call(ctx, "editMessageText", params, nil)
}

// AnswerCallback はボタン押下に応答してクライアントのローディング表示を止める。
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// GetUpdates はロングポーリングで更新を取得する。
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SetWebhook はWebhookのURLとシークレットトークンを登録する。
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		params["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", params, nil)
}

// DeleteWebhook はWebhookを解除する。ロングポーリング開始前に呼び出す。
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// call はBot APIメソッドをJSONで呼び出し、resultをoutにデコードする。
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Bot APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", redact(err.Error(), c.endpoint)),
		)
		return fmt.Errorf("telegram %s: %s", method, redact(err.Error(), c.endpoint))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Error("Bot APIのレスポンスのパースに失敗しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました (status %d): %w", resp.StatusCode, err)
	}

	if !result.OK {
		apiErr := &APIError{
			Method:      method,
			Code:        result.ErrorCode,
			Description: result.Description,
		}
		if result.Parameters != nil {
			apiErr.RetryAfter = result.Parameters.RetryAfter
		}
		c.logger.Warn("Bot APIがエラーを返しました",
			slog.String("method", method),
			slog.Int("error_code", apiErr.Code),
			slog.String("description", apiErr.Description),
		)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(result.Result, out); err != nil {
			return fmt.Errorf("resultのパースに失敗しました: %w", err)
		}
	}
	return nil
}

// chatIDParam は数値のチャットIDを数値として、それ以外は文字列として渡す。
func chatIDParam(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}

// redact はエラーメッセージに含まれるボットトークン入りのURLを伏せる。
func redact(msg, endpoint string) string {
	return strings.ReplaceAll(msg, endpoint, "<bot-endpoint>")
}
