package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/anonchat/internal/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteUserRepo は組み込みSQLiteを使用したユーザーリポジトリ。
// 単一インスタンス運用時のデフォルトストア。
type SQLiteUserRepo struct {
	db *sql.DB
}

// NewSQLiteUserRepo はSQLiteUserRepoを生成する。
func NewSQLiteUserRepo(db *sql.DB) *SQLiteUserRepo {
	return &SQLiteUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT id, username, token, created_at FROM users WHERE id = ?`, id)
}

// FindByToken は招待トークンでユーザーを検索する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByToken(ctx context.Context, token string) (*model.User, error) {
	return r.findOne(ctx, `SELECT id, username, token, created_at FROM users WHERE token = ?`, token)
}

func (r *SQLiteUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	user := &model.User{}
	var createdAt int64
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Token, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)

	return user, nil
}

// Create はユーザーを作成する。IDが既に存在する場合はfalseを返す。
func (r *SQLiteUserRepo) Create(ctx context.Context, user *model.User) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, token, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		user.ID, user.Username, user.Token, toMillis(user.CreatedAt),
	)
	if err != nil {
		if isTokenUniqueViolation(err) {
			return false, ErrTokenConflict
		}
		return false, fmt.Errorf("failed to insert user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *SQLiteUserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isTokenUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "users.token")
}

// compile-time interface check
var _ UserRepository = (*SQLiteUserRepo)(nil)
