// Package merge はプロバイダーアイデンティティによるユーザーマージを提供する。
package merge

import (
	"context"
	"log/slog"

	"github.com/hitoshi/authman/internal/metrics"
	"github.com/hitoshi/authman/internal/model"
	"github.com/hitoshi/authman/internal/repository"
)

// Service はマージエンジン。
// 認証されたプロバイダーアイデンティティを現在のユーザーに紐付け、
// 同じアイデンティティを持つ他のユーザーを現在のユーザーに統合する。
type Service struct {
	userRepo  repository.UserRepository
	linkRepo  repository.ProviderLinkRepository
	reassign  repository.ReassignFunc
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はマージエンジンを生成する。
// reassignはマージトランザクション内で呼び出される所有権付け替えフック。
func NewService(
	userRepo repository.UserRepository,
	linkRepo repository.ProviderLinkRepository,
	reassign repository.ReassignFunc,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo:  userRepo,
		linkRepo:  linkRepo,
		reassign:  reassign,
		collector: collector,
		logger:    logger,
	}
}

// Reconcile は認証済みアイデンティティを現在のユーザーに照合し、生存ユーザーIDを返す。
// 現在のユーザーが常に生存者となる。同じ (provider, providerUserID) を持つ
// 他のユーザーが存在する場合、それらは敗者として単一トランザクションで統合される。
// 他のユーザーが存在しない場合はリンクのUPSERTのみを行う。
// 同一ユーザーでの再認証は冪等で、リンクの表示データだけが更新される。
func (s *Service) Reconcile(ctx context.Context, currentUserID string, identity *model.ProviderIdentity) (string, error) {
	loserIDs, err := s.linkRepo.ListUserIDs(ctx, identity.Provider, identity.ProviderUserID, currentUserID)
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}

	link := &model.ProviderLink{
		UserID:         currentUserID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		Data:           identity.Data,
	}

	if len(loserIDs) == 0 {
		if err := s.linkRepo.Upsert(ctx, link); err != nil {
			return "", model.NewStoreUnavailableError(err)
		}
		return currentUserID, nil
	}

	if err := s.userRepo.MergeUsers(ctx, link, loserIDs, s.reassign); err != nil {
		s.logger.Error("merge aborted",
			slog.String("provider", identity.Provider),
			slog.String("survivor_user_id", currentUserID),
			slog.Int("loser_count", len(loserIDs)),
			slog.String("error", err.Error()),
		)
		return "", model.NewMergeAbortedError(err)
	}

	s.collector.RecordMerge(identity.Provider, len(loserIDs))
	s.logger.Info("users merged",
		slog.String("provider", identity.Provider),
		slog.String("survivor_user_id", currentUserID),
		slog.Int("loser_count", len(loserIDs)),
	)

	return currentUserID, nil
}
