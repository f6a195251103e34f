package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand はanonchatのコマンドツリーを構築する。
// サブコマンドを省略した場合、BASE_URLが設定されていればWebhookモード、
// 未設定であればポーリングモードで起動する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "anonchat",
		Short:         "Anonymous one-to-one chat relay bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), w, "")
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Receive updates via webhook and serve HTTP endpoints",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBot(cmd.Context(), w, ModeWebhook)
			},
		},
		&cobra.Command{
			Use:   "poll",
			Short: "Receive updates via long polling",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBot(cmd.Context(), w, ModePolling)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := Init(w)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				return runMigrate(cmd.Context(), cfg, log)
			},
		},
		&cobra.Command{
			Use:   "healthcheck",
			Short: "Probe the local /health endpoint (for container health checks)",
			RunE: func(cmd *cobra.Command, args []string) error {
				// 軽量サブコマンドのため、フル初期化をスキップする
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return runHealthcheck(cmd.Context(), port)
			},
		},
	)

	return root
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	root.SetOut(w)
	return root.ExecuteContext(ctx)
}

// runBot は設定を読み込んでアプリケーションを構築し、コンテキストがキャンセルされるまで実行する。
// modeが空の場合はBASE_URLの有無で受信方式を決める。
func runBot(ctx context.Context, w io.Writer, mode Mode) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if mode == "" {
		mode = ModePolling
		if cfg.BaseURL != "" {
			mode = ModeWebhook
		}
	}

	log.Info("starting application",
		slog.String("mode", string(mode)),
		slog.String("port", cfg.ServerPort),
		slog.String("bot_username", cfg.BotUsername),
	)

	a, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Run(ctx, mode); err != nil {
		return err
	}
	log.Info("application stopped gracefully")
	return nil
}
