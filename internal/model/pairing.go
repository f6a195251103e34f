package model

import "time"

// PendingRequest は相手の承認待ちのチャットリクエストを表す。
// OwnerIDは招待トークンの持ち主。
type PendingRequest struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session は成立したチャットの片側エントリを表す。
// 1つのチャットはMemberIDとPartnerIDを入れ替えた2つのエントリで構成される。
type Session struct {
	ID            string    `json:"id"`
	MemberID      string    `json:"member_id"`
	PartnerID     string    `json:"partner_id"`
	EstablishedAt time.Time `json:"established_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// PairingSnapshot は再起動をまたいで保持するペアリング状態のスナップショット。
type PairingSnapshot struct {
	Pending  []PendingRequest `json:"pending"`
	Sessions []Session        `json:"sessions"`
	SavedAt  time.Time        `json:"saved_at"`
}

// UserState はユーザーのペアリング状態を表す。
type UserState string

const (
	// UserStateIdle はリクエストもチャットもない状態。
	UserStateIdle UserState = "idle"
	// UserStatePendingRequester はリクエスト送信済みで承認待ちの状態。
	UserStatePendingRequester UserState = "pending_requester"
	// UserStatePendingOwner はリクエストを受信して応答待ちの状態。
	UserStatePendingOwner UserState = "pending_owner"
	// UserStatePaired はチャット中の状態。
	UserStatePaired UserState = "paired"
)

// Button は通知に添付する操作ボタン。
type Button struct {
	Text string
	Data string
}

// Notice はシステムからユーザーへの通知メッセージ。
// Buttonsは1行に並べて表示される。
type Notice struct {
	Text    string
	Buttons []Button
}
