package model

import "fmt"

// PayloadKind は中継するメッセージの種別を表す。
type PayloadKind string

const (
	PayloadText      PayloadKind = "text"
	PayloadPhoto     PayloadKind = "photo"
	PayloadVideo     PayloadKind = "video"
	PayloadDocument  PayloadKind = "document"
	PayloadAudio     PayloadKind = "audio"
	PayloadVoice     PayloadKind = "voice"
	PayloadSticker   PayloadKind = "sticker"
	PayloadAnimation PayloadKind = "animation"
	PayloadVideoNote PayloadKind = "video_note"
)

// Payload は送信者から相手へそのまま転送されるメッセージ本体。
// テキストの場合はText、メディアの場合はFileIDとCaptionを使用する。
type Payload struct {
	Kind    PayloadKind
	Text    string
	FileID  string
	Caption string
}

// IsMedia はメディア種別かを返す。未知の種別はfalse。
func (k PayloadKind) IsMedia() bool {
	switch k {
	case PayloadPhoto, PayloadVideo, PayloadDocument, PayloadAudio,
		PayloadVoice, PayloadSticker, PayloadAnimation, PayloadVideoNote:
		return true
	}
	return false
}

// SupportsCaption はキャプションを付与できる種別かを返す。
func (k PayloadKind) SupportsCaption() bool {
	switch k {
	case PayloadPhoto, PayloadVideo, PayloadDocument, PayloadAudio,
		PayloadVoice, PayloadAnimation:
		return true
	}
	return false
}

// TextPayload はテキストメッセージのPayloadを生成する。
func TextPayload(text string) Payload {
	return Payload{Kind: PayloadText, Text: text}
}

// MediaPayload はメディアメッセージのPayloadを生成する。
func MediaPayload(kind PayloadKind, fileID, caption string) Payload {
	return Payload{Kind: kind, FileID: fileID, Caption: caption}
}

// Validate はPayloadが転送可能かを検証する。
func (p Payload) Validate() error {
	switch {
	case p.Kind == PayloadText:
		if p.Text == "" {
			return NewInvalidPayloadError("empty text")
		}
		return nil
	case p.Kind.IsMedia():
		if p.FileID == "" {
			return NewInvalidPayloadError(fmt.Sprintf("%s without file id", p.Kind))
		}
		if p.Caption != "" && !p.Kind.SupportsCaption() {
			return NewInvalidPayloadError(fmt.Sprintf("%s does not accept a caption", p.Kind))
		}
		return nil
	default:
		return NewInvalidPayloadError(fmt.Sprintf("unsupported kind %q", p.Kind))
	}
}
