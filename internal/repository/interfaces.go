// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authman/internal/model"
)

// ReassignFunc は業務データの所有権付け替えフック。
// マージトランザクションのクリティカルセクション内で同期的に呼び出される。
// oldUserIDsを参照する業務レコードをnewUserIDに付け替える責務を持ち、
// リトライに対して冪等でなければならない。
type ReassignFunc func(ctx context.Context, oldUserIDs []string, newUserID string) error

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// BindSession はセッションにユーザーを原子的にバインドする。
	// バインディングが未作成の場合はnewUserとバインディングを同一トランザクションで作成し、
	// (newUser.ID, true) を返す。同時リクエストに敗れた場合はトランザクションを
	// ロールバックし、既存バインディングのユーザーIDと false を返す。
	// 一意制約による衝突処理であり、read-then-writeの競合は発生しない。
	BindSession(ctx context.Context, sessionID string, newUser *model.User) (userID string, created bool, err error)

	// MergeUsers はマージの全手順を単一トランザクションで実行する。
	// 手順: reassignフック → セッションの付け替え → プロバイダーリンクのコピー
	// → 敗者ユーザーの削除 → 認証されたリンクのUPSERT。
	// いずれかの手順が失敗した場合は全体をロールバックし、マージ前の状態を保つ。
	MergeUsers(ctx context.Context, link *model.ProviderLink, loserIDs []string, reassign ReassignFunc) error
}

// SessionRepository はセッションバインディングと一時状態の永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// UpdateData はセッションの一時状態（callbackUrl、oauthResult、oauthError）を更新する。
	UpdateData(ctx context.Context, sessionID string, data model.SessionData) error

	// DeleteByID は指定IDのセッションを削除する。
	// バインド先のユーザーとプロバイダーリンクは削除しない。
	DeleteByID(ctx context.Context, id string) error
}

// ProviderLinkRepository はプロバイダーリンクの永続化インターフェース。
type ProviderLinkRepository interface {
	// ListUserIDs は (provider, providerUserID) に紐付くユーザーIDの一覧を返す。
	// excludeUserIDに一致するユーザーは除外する。
	// 通常は高々1件だが、過去の不整合を許容するため複数件を返しうる。
	ListUserIDs(ctx context.Context, provider, providerUserID, excludeUserID string) ([]string, error)

	// Upsert はプロバイダーリンクを冪等にUPSERTする。
	// (user_id, provider, provider_user_id) が既存の場合はdataのみ更新する。
	Upsert(ctx context.Context, link *model.ProviderLink) error
}
