package repository

import (
	"database/sql"
	"fmt"
)

// Repositories はドライバに対応するリポジトリ一式。
type Repositories struct {
	Users     UserRepository
	Snapshots PairingSnapshotRepository
}

// New はドライバ名に応じたリポジトリ一式を生成する。
func New(db *sql.DB, driver string) (*Repositories, error) {
	switch driver {
	case "postgres":
		return &Repositories{
			Users:     NewPostgresUserRepo(db),
			Snapshots: NewPostgresSnapshotRepo(db),
		}, nil
	case "sqlite":
		return &Repositories{
			Users:     NewSQLiteUserRepo(db),
			Snapshots: NewSQLiteSnapshotRepo(db),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}
