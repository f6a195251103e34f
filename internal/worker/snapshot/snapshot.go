// Package snapshot はペアリング状態を定期的にストアへ保存し、
// 再起動時に復元するジョブを提供する。
// スナップショットがなくても動作に支障はなく、進行中のリクエストとチャットが失われるだけである。
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/anonchat/internal/model"
	"github.com/hitoshi/anonchat/internal/repository"
)

// Source はスナップショットの取得と復元を行うペアリング状態。
// *pairing.Coordinatorが実装する。
type Source interface {
	Snapshot() model.PairingSnapshot
	Restore(snap model.PairingSnapshot) int
}

// Job はペアリング状態のスナップショットジョブ。
type Job struct {
	source   Source
	repo     repository.PairingSnapshotRepository
	logger   *slog.Logger
	Interval time.Duration // 保存間隔（デフォルト: 1分）
}

// NewJob は新しいJobを生成する。
func NewJob(source Source, repo repository.PairingSnapshotRepository, logger *slog.Logger) *Job {
	return &Job{
		source:   source,
		repo:     repo,
		logger:   logger,
		Interval: time.Minute,
	}
}

// Restore は保存済みのスナップショットから状態を復元する。
// スナップショットがない場合は何もしない。
func (j *Job) Restore(ctx context.Context) error {
	snap, err := j.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("スナップショットの読み込みに失敗: %w", err)
	}
	if snap == nil {
		j.logger.Info("復元するスナップショットはありません")
		return nil
	}

	dropped := j.source.Restore(*snap)
	j.logger.Info("ペアリング状態を復元しました",
		slog.Int("pending_requests", len(snap.Pending)),
		slog.Int("session_entries", len(snap.Sessions)),
		slog.Int("dropped", dropped),
		slog.Time("saved_at", snap.SavedAt),
	)
	return nil
}

// Start はスナップショットをティッカーで定期保存する。
// コンテキストがキャンセルされると最後に1回保存してから終了する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("スナップショットジョブを開始しました",
		slog.Duration("interval", j.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			// 呼び出し元のコンテキストは終了済みのため、最終保存には別のタイムアウトを使う
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := j.Run(saveCtx); err != nil {
				j.logger.Error("終了時のスナップショット保存に失敗しました",
					slog.String("error", err.Error()),
				)
			}
			cancel()
			j.logger.Info("スナップショットジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("スナップショットの保存に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run は現在の状態を1回保存する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	snap := j.source.Snapshot()
	if err := j.repo.Save(ctx, &snap); err != nil {
		return fmt.Errorf("スナップショットの保存に失敗: %w", err)
	}

	j.logger.Debug("スナップショットを保存しました",
		slog.Int("pending_requests", len(snap.Pending)),
		slog.Int("session_entries", len(snap.Sessions)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
