package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/authman/internal/model"
)

// PostgresProviderLinkRepo はPostgreSQLを使用したプロバイダーリンクリポジトリ。
type PostgresProviderLinkRepo struct {
	db *sql.DB
}

// NewPostgresProviderLinkRepo はPostgresProviderLinkRepoを生成する。
func NewPostgresProviderLinkRepo(db *sql.DB) *PostgresProviderLinkRepo {
	return &PostgresProviderLinkRepo{db: db}
}

// ListUserIDs は (provider, providerUserID) に紐付くユーザーIDの一覧を返す。
// excludeUserIDに一致するユーザーは除外する。
func (r *PostgresProviderLinkRepo) ListUserIDs(ctx context.Context, provider, providerUserID, excludeUserID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id
		 FROM users_providers
		 WHERE provider = $1 AND provider_user_id = $2 AND user_id != $3`,
		provider, providerUserID, excludeUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked user IDs: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user ID: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked user IDs: %w", err)
	}

	return userIDs, nil
}

// Upsert はプロバイダーリンクを冪等にUPSERTする。
// (user_id, provider, provider_user_id) が既存の場合はdataのみ更新する。
func (r *PostgresProviderLinkRepo) Upsert(ctx context.Context, link *model.ProviderLink) error {
	data, err := json.Marshal(link.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal link data: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users_providers (user_id, provider, provider_user_id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, provider, provider_user_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		link.UserID, link.Provider, link.ProviderUserID, data, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider link: %w", err)
	}

	return nil
}

// compile-time interface check
var _ ProviderLinkRepository = (*PostgresProviderLinkRepo)(nil)
