package telegram

import (
	"strconv"

	"github.com/hitoshi/anonchat/internal/model"
)

// Update はBot APIから受信するイベント。
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// User はメッセージ送信者。
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat はメッセージが属するチャット。
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// File はメディアファイルの参照。
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
}

// PhotoSize は写真の1サイズ分の参照。
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size,omitempty"`
}

// Message は受信メッセージ。
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Video     *File       `json:"video,omitempty"`
	Document  *File       `json:"document,omitempty"`
	Audio     *File       `json:"audio,omitempty"`
	Voice     *File       `json:"voice,omitempty"`
	Sticker   *File       `json:"sticker,omitempty"`
	Animation *File       `json:"animation,omitempty"`
	VideoNote *File       `json:"video_note,omitempty"`
}

// CallbackQuery はインラインボタンの押下イベント。
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// SenderID は更新の送信者IDを文字列で返す。送信者がない場合は空文字列。
func (u Update) SenderID() string {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return strconv.FormatInt(u.Message.From.ID, 10)
	case u.CallbackQuery != nil:
		return strconv.FormatInt(u.CallbackQuery.From.ID, 10)
	default:
		return ""
	}
}

// DisplayName は通知に表示する名前を返す。usernameがなければfirst_nameを使う。
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// Payload はメッセージを中継用のPayloadに変換する。
// 中継できない種別（位置情報、連絡先など）の場合はfalseを返す。
// animationはdocumentも同時に持つため先に判定する。
func (m *Message) Payload() (model.Payload, bool) {
	switch {
	case m.Text != "":
		return model.TextPayload(m.Text), true
	case len(m.Photo) > 0:
		// 最後の要素が最大サイズ
		return model.MediaPayload(model.PayloadPhoto, m.Photo[len(m.Photo)-1].FileID, m.Caption), true
	case m.Animation != nil:
		return model.MediaPayload(model.PayloadAnimation, m.Animation.FileID, m.Caption), true
	case m.Video != nil:
		return model.MediaPayload(model.PayloadVideo, m.Video.FileID, m.Caption), true
	case m.VideoNote != nil:
		return model.MediaPayload(model.PayloadVideoNote, m.VideoNote.FileID, ""), true
	case m.Document != nil:
		return model.MediaPayload(model.PayloadDocument, m.Document.FileID, m.Caption), true
	case m.Audio != nil:
		return model.MediaPayload(model.PayloadAudio, m.Audio.FileID, m.Caption), true
	case m.Voice != nil:
		return model.MediaPayload(model.PayloadVoice, m.Voice.FileID, m.Caption), true
	case m.Sticker != nil:
		return model.MediaPayload(model.PayloadSticker, m.Sticker.FileID, ""), true
	default:
		return model.Payload{}, false
	}
}

// inlineKeyboardButton はBot APIのInlineKeyboardButton。
type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// inlineKeyboardMarkup はBot APIのInlineKeyboardMarkup。
type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

// keyboardFrom はボタン列を1行のインラインキーボードに変換する。
func keyboardFrom(buttons []model.Button) *inlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]inlineKeyboardButton, len(buttons))
	for i, b := range buttons {
		row[i] = inlineKeyboardButton{Text: b.Text, CallbackData: b.Data}
	}
	return &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{row}}
}
