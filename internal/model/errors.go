// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// エラーカテゴリ。ペアリング処理で発生するエラーはすべていずれかに分類される。
const (
	CategoryValidation         = "validation"
	CategoryStateConflict      = "state_conflict"
	CategoryNotFound           = "not_found"
	CategoryTransport          = "transport"
	CategoryStorageUnavailable = "storage_unavailable"
)

// PairingError はペアリング・中継処理の統一エラーフォーマットを表す。
// ユーザーに通知する原因カテゴリと対処方法を含む。
type PairingError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, state_conflict, not_found, transport, storage_unavailable
	Action   string // ユーザー向け対処方法
	cause    error
}

// Error はerrorインターフェースを実装する。
func (e *PairingError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *PairingError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	ErrCodeSelfPairing        = "SELF_PAIRING"
	ErrCodeDuplicateRequest   = "DUPLICATE_REQUEST"
	ErrCodeOwnerBusy          = "OWNER_BUSY"
	ErrCodeAlreadyInSession   = "ALREADY_IN_SESSION"
	ErrCodeNoPendingRequest   = "NO_PENDING_REQUEST"
	ErrCodeNotInSession       = "NOT_IN_SESSION"
	ErrCodeTokenNotFound      = "TOKEN_NOT_FOUND"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeTransportFailed    = "TRANSPORT_FAILED"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// IsCode はerrがPairingErrorであり、指定コードを持つかを判定する。
func IsCode(err error, code string) bool {
	var pErr *PairingError
	if errors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// CategoryOf はerrのカテゴリを返す。PairingErrorでない場合は空文字列を返す。
func CategoryOf(err error) string {
	var pErr *PairingError
	if errors.As(err, &pErr) {
		return pErr.Category
	}
	return ""
}

// NewSelfPairingError は自分自身へのリクエストエラーを生成する。
func NewSelfPairingError() *PairingError {
	return &PairingError{
		Code:     ErrCodeSelfPairing,
		Message:  "自分自身とはチャットできません。",
		Category: CategoryValidation,
		Action:   "他のユーザーの招待リンクを使用してください。",
	}
}

// NewDuplicateRequestError は送信済みリクエストが存在する場合のエラーを生成する。
func NewDuplicateRequestError() *PairingError {
	return &PairingError{
		Code:     ErrCodeDuplicateRequest,
		Message:  "既にチャットリクエストを送信済みです。",
		Category: CategoryValidation,
		Action:   "相手の応答を待つか、しばらくしてから再度お試しください。",
	}
}

// NewOwnerBusyError は相手が別のリクエストを処理中の場合のエラーを生成する。
func NewOwnerBusyError() *PairingError {
	return &PairingError{
		Code:     ErrCodeOwnerBusy,
		Message:  "相手は現在別のリクエストに応答中です。",
		Category: CategoryValidation,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAlreadyInSessionError はどちらかが既にチャット中の場合のエラーを生成する。
func NewAlreadyInSessionError() *PairingError {
	return &PairingError{
		Code:     ErrCodeAlreadyInSession,
		Message:  "既にチャット中のためリクエストできません。",
		Category: CategoryStateConflict,
		Action:   "現在のチャットを終了してから再度お試しください。",
	}
}

// NewNoPendingRequestError は応答対象のリクエストが存在しない場合のエラーを生成する。
func NewNoPendingRequestError() *PairingError {
	return &PairingError{
		Code:     ErrCodeNoPendingRequest,
		Message:  "応答できるチャットリクエストがありません。",
		Category: CategoryNotFound,
		Action:   "リクエストの有効期限が切れた可能性があります。",
	}
}

// NewNotInSessionError はチャット中でない場合のエラーを生成する。
func NewNotInSessionError() *PairingError {
	return &PairingError{
		Code:     ErrCodeNotInSession,
		Message:  "現在チャット中ではありません。",
		Category: CategoryNotFound,
		Action:   "招待リンクからチャットを開始してください。",
	}
}

// NewTokenNotFoundError は招待トークンが見つからない場合のエラーを生成する。
func NewTokenNotFoundError(token string) *PairingError {
	return &PairingError{
		Code:     ErrCodeTokenNotFound,
		Message:  fmt.Sprintf("招待リンクが無効です: %s", token),
		Category: CategoryNotFound,
		Action:   "リンクが正しいか確認してください。",
	}
}

// NewInvalidPayloadError は中継できないメッセージ種別の場合のエラーを生成する。
func NewInvalidPayloadError(reason string) *PairingError {
	return &PairingError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("このメッセージは転送できません: %s", reason),
		Category: CategoryValidation,
		Action:   "テキスト、画像、動画、ファイル、音声、スタンプのいずれかを送信してください。",
	}
}

// NewTransportError はメッセージ配信失敗エラーを生成する。
// セッションは維持されるため、ユーザーは再送できる。
func NewTransportError(cause error) *PairingError {
	return &PairingError{
		Code:     ErrCodeTransportFailed,
		Message:  "メッセージの送信に失敗しました。",
		Category: CategoryTransport,
		Action:   "もう一度送信してください。",
		cause:    cause,
	}
}

// NewStorageUnavailableError は永続化ストアに到達できない場合のエラーを生成する。
func NewStorageUnavailableError(cause error) *PairingError {
	return &PairingError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "システムが混み合っています。",
		Category: CategoryStorageUnavailable,
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}
