package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/anonchat/internal/bot"
	"github.com/hitoshi/anonchat/internal/config"
	"github.com/hitoshi/anonchat/internal/database"
	"github.com/hitoshi/anonchat/internal/handler"
	"github.com/hitoshi/anonchat/internal/logger"
	"github.com/hitoshi/anonchat/internal/metrics"
	"github.com/hitoshi/anonchat/internal/middleware"
	"github.com/hitoshi/anonchat/internal/pairing"
	"github.com/hitoshi/anonchat/internal/registry"
	"github.com/hitoshi/anonchat/internal/relay"
	"github.com/hitoshi/anonchat/internal/repository"
	"github.com/hitoshi/anonchat/internal/security"
	"github.com/hitoshi/anonchat/internal/transport/telegram"
	"github.com/hitoshi/anonchat/internal/worker/monitor"
	"github.com/hitoshi/anonchat/internal/worker/snapshot"
)

// Mode は更新の受信方式。
type Mode string

const (
	// ModeWebhook はTelegramからのWebhookで更新を受信する。
	ModeWebhook Mode = "webhook"
	// ModePolling はgetUpdatesのロングポーリングで更新を受信する。
	ModePolling Mode = "polling"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの待機時間。
const shutdownTimeout = 30 * time.Second

// writeTimeout はHTTPレスポンスの書き込み期限。Webhookの更新処理はhandler.UpdateTimeout内に収まる。
const writeTimeout = 15 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.SetupDefault(w, level), nil
}

// App は依存関係をワイヤリング済みのアプリケーション。
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *sql.DB
	coordinator *pairing.Coordinator
	telegram    *telegram.Client
	bot         *bot.Bot
	limiter     *middleware.RateLimiter
	monitor     *monitor.Monitor
	snapshots   *snapshot.Job
	metrics     *prometheus.Registry
}

// Build はDB接続を開き、マイグレーションを適用し、全依存関係をワイヤリングする。
// 外部APIへの通信は行わない。
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	guard := security.NewOutboundGuard()
	if err := guard.ValidateURL(cfg.TelegramAPIURL); err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_API_URL: %w", err)
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(db, cfg.DatabaseDriver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info("database connection established",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	// 2. リポジトリの初期化
	repos, err := repository.New(db, cfg.DatabaseDriver)
	if err != nil {
		db.Close()
		return nil, err
	}

	// 3. メトリクス
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	// 4. ドメインサービスの初期化
	reg := registry.NewService(repos.Users, log, registry.Config{
		BotUsername: cfg.BotUsername,
	})
	coordinator := pairing.NewCoordinator(pairing.Config{
		RetryCooldown: cfg.PairingRetryCooldown,
	})

	// 5. Telegramクライアント
	// ロングポーリングの待機時間を超えてもタイムアウトしないよう余裕を持たせる
	httpClient := guard.NewSafeClient(cfg.TelegramTimeout + cfg.PollTimeout)
	client := telegram.NewClient(httpClient, log, cfg.TelegramAPIURL, cfg.BotToken)

	notifier := relay.NewNotifier(client, log)
	dispatcher := relay.NewDispatcher(coordinator, client, collector, log)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0),
		Burst:           cfg.RateLimitBurst,
		CleanupInterval: 5 * time.Minute,
	})

	b := bot.New(bot.Deps{
		Registry:  reg,
		Pairing:   coordinator,
		Relay:     dispatcher,
		Notifier:  notifier,
		Callbacks: client,
		Limiter:   limiter,
		Sanitizer: security.NewNameSanitizer(),
		Metrics:   collector,
		Logger:    log,
	})

	// 6. バックグラウンドジョブ
	mon := monitor.NewMonitor(coordinator, notifier, collector, log, monitor.Config{
		Interval:       cfg.SweepInterval,
		PendingTimeout: cfg.PendingTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	})

	var snapshots *snapshot.Job
	if cfg.SnapshotEnabled {
		snapshots = snapshot.NewJob(coordinator, repos.Snapshots, log)
		snapshots.Interval = cfg.SnapshotInterval
	}

	return &App{
		cfg:         cfg,
		logger:      log,
		db:          db,
		coordinator: coordinator,
		telegram:    client,
		bot:         b,
		limiter:     limiter,
		monitor:     mon,
		snapshots:   snapshots,
		metrics:     promRegistry,
	}, nil
}

// Handler はHTTPルーターを返す。
// Webhookモードの場合のみ/webhook/{secret}を登録する。
func (a *App) Handler(mode Mode) http.Handler {
	deps := &handler.RouterDeps{
		Logger:        a.logger,
		WebhookSecret: a.cfg.WebhookSecret,
		HealthChecker: a.db,
		Metrics:       metrics.Handler(a.metrics),
	}
	if mode == ModeWebhook {
		deps.Updates = a.bot
	}
	return handler.NewRouter(deps)
}

// Close はレート制限のクリーンアップを停止し、DB接続を閉じる。
func (a *App) Close() error {
	a.limiter.Stop()
	return a.db.Close()
}

// Run はコンテキストがキャンセルされるまでアプリケーションを実行する。
// 起動時にスナップショットから状態を復元し、終了時にバックグラウンドジョブの完了を待つ。
func (a *App) Run(ctx context.Context, mode Mode) error {
	if mode == ModeWebhook {
		if a.cfg.BaseURL == "" {
			return errors.New("BASE_URL is required for webhook mode")
		}
		if err := security.NewOutboundGuard().ValidateURL(a.cfg.BaseURL); err != nil {
			return fmt.Errorf("invalid BASE_URL: %w", err)
		}
	}

	if a.snapshots != nil {
		if err := a.snapshots.Restore(ctx); err != nil {
			// 復元できなくても空の状態で起動を続ける
			a.logger.Warn("failed to restore pairing snapshot", slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.monitor.Start(ctx)
	}()
	if a.snapshots != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.snapshots.Start(ctx)
		}()
	}

	switch mode {
	case ModeWebhook:
		if err := a.telegram.SetWebhook(ctx, a.cfg.WebhookURL(), a.cfg.WebhookSecret); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		a.logger.Info("webhook registered", slog.String("base_url", a.cfg.BaseURL))
	case ModePolling:
		if err := a.telegram.DeleteWebhook(ctx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		poller := telegram.NewPoller(a.telegram, a.logger, telegram.PollerConfig{
			Timeout: a.cfg.PollTimeout,
			Workers: a.cfg.PollWorkers,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Start(ctx, a.bot)
		}()
	default:
		cancel()
		wg.Wait()
		return fmt.Errorf("unknown mode: %q", mode)
	}

	err := a.serveHTTP(ctx, mode)
	cancel()
	wg.Wait()
	return err
}

// serveHTTP はHTTPサーバーを起動し、コンテキストのキャンセルでグレースフルシャットダウンする。
func (a *App) serveHTTP(ctx context.Context, mode Mode) error {
	server := &http.Server{
		Addr:         ":" + a.cfg.ServerPort,
		Handler:      a.Handler(mode),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting",
			slog.String("addr", server.Addr),
			slog.String("mode", string(mode)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(db, cfg.DatabaseDriver); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
