package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// BindSession はセッションにユーザーを原子的にバインドする。
// 既存バインディングの参照が大半のため、まずSELECTで解決を試みる。
// 未バインドの場合のみユーザー作成とバインディング作成を同一トランザクションで行い、
// session_idの一意制約で同時リクエストと衝突した場合はロールバックして
// 既存バインディングを返す。新規ユーザー行が孤立することはない。
func (r *PostgresUserRepo) BindSession(ctx context.Context, sessionID string, newUser *model.User) (string, bool, error) {
	var existingUserID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM users_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&existingUserID)
	if err == nil {
		return existingUserID, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("failed to look up session binding: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES ($1, $2)`,
		newUser.ID, newUser.CreatedAt,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert user: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO users_sessions (session_id, user_id, data, created_at, updated_at)
		 VALUES ($1, $2, '{}', $3, $3)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, newUser.ID, newUser.CreatedAt,
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert session binding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// 同時リクエストに敗れた。新規ユーザーごとロールバックし、勝者のバインディングを読む。
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			return "", false, fmt.Errorf("failed to rollback transaction: %w", err)
		}

		var userID string
		err := r.db.QueryRowContext(ctx,
			`SELECT user_id FROM users_sessions WHERE session_id = $1`,
			sessionID,
		).Scan(&userID)
		if err != nil {
			return "", false, fmt.Errorf("failed to find winning session binding: %w", err)
		}
		return userID, false, nil
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return newUser.ID, true, nil
}

// MergeUsers はマージの全手順を単一トランザクションで実行する。
// 手順と順序は固定:
//  1. reassignフックの呼び出し（業務データの付け替えが先行する）
//  2. 敗者ユーザーの全セッションを勝者に付け替え
//  3. 敗者のプロバイダーリンクを勝者にコピー（重複は先勝ちでスキップ）
//  4. 敗者ユーザー行を削除
//  5. 認証されたリンクをUPSERT
//
// いずれかが失敗した場合は全体をロールバックする。
// 途中状態（削除済みユーザーを指すバインディング等）が観測されることはない。
func (r *PostgresUserRepo) MergeUsers(ctx context.Context, link *model.ProviderLink, loserIDs []string, reassign ReassignFunc) error {
	data, err := json.Marshal(link.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal link data: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if reassign != nil {
		if err := reassign(ctx, loserIDs, link.UserID); err != nil {
			return fmt.Errorf("reassign hook failed: %w", err)
		}
	}

	now := time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE users_sessions
		 SET user_id = $1, updated_at = $2
		 WHERE user_id = ANY($3)`,
		link.UserID, now, pq.Array(loserIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to repoint session bindings: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users_providers (user_id, provider, provider_user_id, data, created_at, updated_at)
		 SELECT $1, provider, provider_user_id, data, created_at, $2
		 FROM users_providers
		 WHERE user_id = ANY($3)
		 ON CONFLICT (user_id, provider, provider_user_id) DO NOTHING`,
		link.UserID, now, pq.Array(loserIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to copy provider links: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM users WHERE id = ANY($1)`,
		pq.Array(loserIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to delete merged users: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users_providers (user_id, provider, provider_user_id, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, provider, provider_user_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		link.UserID, link.Provider, link.ProviderUserID, data, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge transaction: %w", err)
	}

	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
