// Package binder はセッションと永続ユーザーのバインディングを提供する。
package binder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authman/internal/model"
	"github.com/hitoshi/authman/internal/repository"
)

// Service はセッションバインダー。
// セッションIDを永続ユーザーIDに解決し、未バインドの場合は新規ユーザーを作成する。
type Service struct {
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewService はバインダーサービスを生成する。
func NewService(userRepo repository.UserRepository, logger *slog.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		logger:   logger,
	}
}

// ResolveOrCreateUser はセッションIDをユーザーIDに解決する。
// バインディングが存在しない場合は新規ユーザーを作成してバインドする。
// 同一セッションIDでの同時呼び出しは一意制約により単一の勝者に収束し、
// すべての呼び出しが同じユーザーIDを受け取る。
func (s *Service) ResolveOrCreateUser(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session ID must not be empty")
	}

	newUser := &model.User{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}

	userID, created, err := s.userRepo.BindSession(ctx, sessionID, newUser)
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}

	if created {
		s.logger.Info("session bound to new user",
			slog.String("session_id", sessionID),
			slog.String("user_id", userID),
		)
	}

	return userID, nil
}
