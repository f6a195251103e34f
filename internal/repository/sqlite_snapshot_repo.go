package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/anonchat/internal/model"
)

// SQLiteSnapshotRepo はSQLiteを使用したスナップショットリポジトリ。
type SQLiteSnapshotRepo struct {
	db *sql.DB
}

// NewSQLiteSnapshotRepo はSQLiteSnapshotRepoを生成する。
func NewSQLiteSnapshotRepo(db *sql.DB) *SQLiteSnapshotRepo {
	return &SQLiteSnapshotRepo{db: db}
}

// Save はスナップショットを保存する。
func (r *SQLiteSnapshotRepo) Save(ctx context.Context, snapshot *model.PairingSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pairing_snapshots (id, data, saved_at)
		 VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		string(data), toMillis(snapshot.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load は保存済みのスナップショットを取得する。存在しない場合はnilを返す。
func (r *SQLiteSnapshotRepo) Load(ctx context.Context) (*model.PairingSnapshot, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM pairing_snapshots WHERE id = 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	snapshot := &model.PairingSnapshot{}
	if err := json.Unmarshal([]byte(data), snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// Clear は保存済みのスナップショットを削除する。
func (r *SQLiteSnapshotRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pairing_snapshots WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PairingSnapshotRepository = (*SQLiteSnapshotRepo)(nil)
