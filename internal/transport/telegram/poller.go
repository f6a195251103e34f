package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const (
	// initialBackoff はgetUpdates失敗時の初回待機時間。
	initialBackoff = time.Second
	// maxBackoff はgetUpdates失敗時の最大待機時間。
	maxBackoff = 30 * time.Second
	// defaultWorkers はPollerのワーカー数のデフォルト値。
	defaultWorkers = 8
)

// UpdateHandler は受信した更新を処理するインターフェース。
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update)
}

// UpdateSource はロングポーリングで更新を取得するインターフェース。
// テスト時にモックに差し替え可能。
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// PollerConfig はPollerの設定パラメータ。
type PollerConfig struct {
	// Timeout はgetUpdatesのロングポーリング待機時間。
	Timeout time.Duration
	// Workers は更新を処理するワーカー数。
	Workers int
}

// Poller はロングポーリングで更新を取得し、ワーカーに振り分ける。
// 同じ送信者の更新は常に同じワーカーに渡されるため、ユーザー単位の順序が保たれる。
type Poller struct {
	source UpdateSource
	logger *slog.Logger
	config PollerConfig
	sleep  func(ctx context.Context, d time.Duration) bool
}

// NewPoller はPollerの新しいインスタンスを生成する。
func NewPoller(source UpdateSource, logger *slog.Logger, config PollerConfig) *Poller {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	return &Poller{
		source: source,
		logger: logger,
		config: config,
		sleep:  sleepCtx,
	}
}

// Start はコンテキストがキャンセルされるまで更新の取得と処理を続ける。
// 戻る前に処理中の更新の完了を待つ。
func (p *Poller) Start(ctx context.Context, h UpdateHandler) {
	queues := make([]chan Update, p.config.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan Update, 16)
		wg.Add(1)
		go func(q <-chan Update) {
			defer wg.Done()
			for u := range q {
				h.HandleUpdate(ctx, u)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	p.logger.Info("ロングポーリングを開始しました",
		slog.Duration("timeout", p.config.Timeout),
		slog.Int("workers", p.config.Workers),
	)

	var offset int64
	failures := 0
	for {
		if ctx.Err() != nil {
			p.logger.Info("ロングポーリングを停止しました")
			return
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.config.Timeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			failures++
			delay := backoffFor(failures, err)
			p.logger.Warn("更新の取得に失敗しました",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", failures),
				slog.Duration("retry_in", delay),
			)
			p.sleep(ctx, delay)
			continue
		}
		failures = 0

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			q := queues[shard(u.SenderID(), len(queues))]
			select {
			case q <- u:
			case <-ctx.Done():
			}
		}
	}
}

// backoffFor は連続失敗回数から待機時間を計算する。
// Bot APIがretry_afterを返した場合はそれを優先する。
func backoffFor(failures int, err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	delay := initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// shard は送信者IDからワーカー番号を決める。
func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
