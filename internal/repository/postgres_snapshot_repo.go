package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/anonchat/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したスナップショットリポジトリ。
// スナップショットはJSONBとして1行だけ保持する。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// Save はスナップショットを保存する。
func (r *PostgresSnapshotRepo) Save(ctx context.Context, snapshot *model.PairingSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pairing_snapshots (id, data, saved_at)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`,
		data, snapshot.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load は保存済みのスナップショットを取得する。存在しない場合はnilを返す。
func (r *PostgresSnapshotRepo) Load(ctx context.Context) (*model.PairingSnapshot, error) {
	var data []byte
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
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// Clear は保存済みのスナップショットを削除する。
func (r *PostgresSnapshotRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pairing_snapshots WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PairingSnapshotRepository = (*PostgresSnapshotRepo)(nil)
