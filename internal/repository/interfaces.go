// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/anonchat/internal/model"
)

// ErrTokenConflict は生成したトークンが既存ユーザーと衝突した場合に返される。
var ErrTokenConflict = errors.New("token already in use")

// UserRepository はユーザーと招待トークンの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByToken は招待トークンでユーザーを検索する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.User, error)

	// Create はユーザーを作成する。
	// 同じIDのユーザーが既に存在する場合は何もせずfalseを返す。
	// トークンが他のユーザーと衝突した場合はErrTokenConflictを返す。
	Create(ctx context.Context, user *model.User) (bool, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// PairingSnapshotRepository はペアリング状態スナップショットの永続化インターフェース。
type PairingSnapshotRepository interface {
	// Save はスナップショットを保存する。既存のスナップショットは上書きされる。
	Save(ctx context.Context, snapshot *model.PairingSnapshot) error

	// Load は保存済みのスナップショットを取得する。存在しない場合はnilを返す。
	Load(ctx context.Context) (*model.PairingSnapshot, error)

	// Clear は保存済みのスナップショットを削除する。
	Clear(ctx context.Context) error
}
