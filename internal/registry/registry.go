// Package registry はユーザーと招待トークンの対応を管理するトークンレジストリを提供する。
// ストアへのI/Oはペアリング状態のロックの外で行われる。
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/anonchat/internal/model"
	"github.com/hitoshi/anonchat/internal/repository"
)

const (
	// TokenLength は招待トークンの長さ。
	TokenLength = 10
	// tokenAlphabet は招待トークンに使用する文字。英小文字と数字。
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// maxGenerateAttempts はトークン衝突時の最大再生成回数。
	maxGenerateAttempts = 5
)

// Config はレジストリの設定。
type Config struct {
	// BotUsername は招待リンクのエントリポイントとなるボットのユーザー名。
	BotUsername string
	// LinkBaseURL は招待リンクのベースURL。空の場合は https://t.me を使用する。
	LinkBaseURL string
	// TokenGenerator は招待トークンの生成関数。nilの場合はGenerateTokenを使用する。
	TokenGenerator func() (string, error)
}

// Service はトークンレジストリ。
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	config Config

	now      func() time.Time
	generate func() (string, error)
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, logger *slog.Logger, config Config) *Service {
	if config.LinkBaseURL == "" {
		config.LinkBaseURL = "https://t.me"
	}
	generate := config.TokenGenerator
	if generate == nil {
		generate = GenerateToken
	}
	return &Service{
		users:    users,
		logger:   logger,
		config:   config,
		now:      time.Now,
		generate: generate,
	}
}

// Register はユーザーを登録し、招待トークンを返す。
// 既に登録済みの場合は既存のトークンを返す（冪等）。
// トークンは永続化が完了してから返される。
func (s *Service) Register(ctx context.Context, identity, username string) (string, error) {
	existing, err := s.users.FindByID(ctx, identity)
	if err != nil {
		return "", model.NewStorageUnavailableError(err)
	}
	if existing != nil {
		return existing.Token, nil
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		token, err := s.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}

		created, err := s.users.Create(ctx, &model.User{
			ID:        identity,
			Username:  username,
			Token:     token,
			CreatedAt: s.now(),
		})
		if errors.Is(err, repository.ErrTokenConflict) {
			s.logger.Warn("invite token collision, regenerating",
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return "", model.NewStorageUnavailableError(err)
		}
		if created {
			s.logger.Info("user registered",
				slog.String("user_id", identity),
			)
			return token, nil
		}

		// 同一ユーザーの並行登録に負けた場合は勝者のトークンを返す
		winner, err := s.users.FindByID(ctx, identity)
		if err != nil {
			return "", model.NewStorageUnavailableError(err)
		}
		if winner == nil {
			return "", model.NewStorageUnavailableError(fmt.Errorf("user %s vanished after concurrent insert", identity))
		}
		return winner.Token, nil
	}

	return "", model.NewStorageUnavailableError(
		fmt.Errorf("could not allocate a unique token after %d attempts", maxGenerateAttempts))
}

// Resolve は招待トークンからユーザーIDを返す。
// 形式不正または未登録のトークンはNotFoundとして扱う。
func (s *Service) Resolve(ctx context.Context, token string) (string, error) {
	if !ValidToken(token) {
		return "", model.NewTokenNotFoundError(token)
	}

	user, err := s.users.FindByToken(ctx, token)
	if err != nil {
		return "", model.NewStorageUnavailableError(err)
	}
	if user == nil {
		return "", model.NewTokenNotFoundError(token)
	}
	return user.ID, nil
}

// InviteLink はトークンを埋め込んだディープリンクを返す。
// 形式: <base>/<bot>?start=<token>
func (s *Service) InviteLink(token string) string {
	q := url.Values{}
	q.Set("start", token)
	return fmt.Sprintf("%s/%s?%s", s.config.LinkBaseURL, s.config.BotUsername, q.Encode())
}

// GenerateToken は英小文字と数字からなる長さTokenLengthのランダムトークンを生成する。
// 剰余による偏りを避けるため、alphabetの倍数を超えるバイトは捨てる。
func GenerateToken() (string, error) {
	const n = len(tokenAlphabet)
	limit := 256 - (256 % n)

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%n])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidToken はトークンの形式が正しいかを判定する。
func ValidToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
