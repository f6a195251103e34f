// Package model はドメインモデルを定義する。
package model

import "time"

// User はボット利用ユーザーを表す。
// IDはトランスポートが付与する不透明な識別子で、Tokenは初回登録時に1度だけ生成される。
type User struct {
	ID        string
	Username  string
	Token     string
	CreatedAt time.Time
}
