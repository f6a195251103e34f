package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/anonchat/internal/database"
	"github.com/hitoshi/anonchat/internal/model"
)

// setupSQLite はマイグレーション適用済みの一時SQLiteデータベースを返す。
func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db, database.DriverSQLite); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return db
}

func TestSQLiteUserRepo_CreateAndFind(t *testing.T) {
	repo := NewSQLiteUserRepo(setupSQLite(t))
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	created, err := repo.Create(ctx, &model.User{
		ID: "1001", Username: "alice", Token: "ab3x9k2p7q", CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("Create() がエラーを返した: %v", err)
	}
	if !created {
		t.Fatal("Create() = false, want true")
	}

	byID, err := repo.FindByID(ctx, "1001")
	if err != nil {
		t.Fatalf("FindByID() がエラーを返した: %v", err)
	}
	if byID == nil || byID.Token != "ab3x9k2p7q" || byID.Username != "alice" {
		t.Fatalf("FindByID() = %+v", byID)
	}
	if !byID.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt = %v, want %v", byID.CreatedAt, createdAt)
	}

	byToken, err := repo.FindByToken(ctx, "ab3x9k2p7q")
	if err != nil {
		t.Fatalf("FindByToken() がエラーを返した: %v", err)
	}
	if byToken == nil || byToken.ID != "1001" {
		t.Fatalf("FindByToken() = %+v, want ID 1001", byToken)
	}
}

func TestSQLiteUserRepo_FindMissing_ReturnsNil(t *testing.T) {
	repo := NewSQLiteUserRepo(setupSQLite(t))

	u, err := repo.FindByID(context.Background(), "missing")
	if err != nil || u != nil {
		t.Errorf("FindByID() = %+v, %v, want nil, nil", u, err)
	}
	u, err = repo.FindByToken(context.Background(), "zzzzzzzzzz")
	if err != nil || u != nil {
		t.Errorf("FindByToken() = %+v, %v, want nil, nil", u, err)
	}
}

func TestSQLiteUserRepo_Create_ExistingIDIsNoop(t *testing.T) {
	repo := NewSQLiteUserRepo(setupSQLite(t))
	ctx := context.Background()

	if _, err := repo.Create(ctx, &model.User{ID: "1001", Token: "aaaaaaaaaa", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create() がエラーを返した: %v", err)
	}
	created, err := repo.Create(ctx, &model.User{ID: "1001", Token: "bbbbbbbbbb", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("2回目のCreate() がエラーを返した: %v", err)
	}
	if created {
		t.Error("既存IDでCreate() = true, want false")
	}

	u, _ := repo.FindByID(ctx, "1001")
	if u.Token != "aaaaaaaaaa" {
		t.Errorf("トークンが上書きされた: %s", u.Token)
	}
}

func TestSQLiteUserRepo_Create_TokenConflict(t *testing.T) {
	repo := NewSQLiteUserRepo(setupSQLite(t))
	ctx := context.Background()

	if _, err := repo.Create(ctx, &model.User{ID: "1001", Token: "aaaaaaaaaa", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create() がエラーを返した: %v", err)
	}
	_, err := repo.Create(ctx, &model.User{ID: "1002", Token: "aaaaaaaaaa", CreatedAt: time.Now()})
	if !errors.Is(err, ErrTokenConflict) {
		t.Errorf("err = %v, want ErrTokenConflict", err)
	}
}

func TestSQLiteSnapshotRepo_SaveLoadClear(t *testing.T) {
	repo := NewSQLiteSnapshotRepo(setupSQLite(t))
	ctx := context.Background()

	snap, err := repo.Load(ctx)
	if err != nil || snap != nil {
		t.Fatalf("空の状態でLoad() = %+v, %v, want nil, nil", snap, err)
	}

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	want := &model.PairingSnapshot{
		Pending: []model.PendingRequest{{ID: "p1", RequesterID: "1", OwnerID: "2", CreatedAt: now}},
		Sessions: []model.Session{
			{ID: "s1", MemberID: "3", PartnerID: "4", EstablishedAt: now, LastActivity: now},
			{ID: "s1", MemberID: "4", PartnerID: "3", EstablishedAt: now, LastActivity: now},
		},
		SavedAt: now,
	}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save() がエラーを返した: %v", err)
	}
	// 上書き保存
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("2回目のSave() がエラーを返した: %v", err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}
	if len(got.Pending) != 1 || len(got.Sessions) != 2 || !got.SavedAt.Equal(now) {
		t.Errorf("Load() = %+v", got)
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear() がエラーを返した: %v", err)
	}
	if snap, _ := repo.Load(ctx); snap != nil {
		t.Error("Clear後にスナップショットが残っている")
	}
}
