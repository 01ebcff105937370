// Package model はドメインモデルを定義する。
package model

import "time"

// User は永続的なユーザーIDのアンカーを表す。
// 固有の属性は持たず、セッションとプロバイダーリンクの参照先としてのみ存在する。
// マージで敗者側となった場合のみ削除される。
type User struct {
	ID        string
	CreatedAt time.Time
}

// Session は訪問者のブラウザセッションを表す。
// UserIDへのバインディングのみが永続的な意味を持ち、
// DataはOAuthラウンドトリップの間だけ使われる一時状態を保持する。
type Session struct {
	ID        string
	UserID    string
	Data      SessionData
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionData はセッションの一時状態を表す。
// users_sessionsテーブルのdata列（jsonb）に格納される。
type SessionData struct {
	// CallbackURL はログイン完了後のリダイレクト先。
	// /oauth/authenticate/:provider 呼び出し時のRefererヘッダーから記録される。
	CallbackURL string `json:"callback_url,omitempty"`

	// PendingProvider は進行中のOAuthハンドシェイクのプロバイダー名。
	// 認証開始時に記録され、コールバック処理で消費される。
	PendingProvider string `json:"pending_provider,omitempty"`

	// OAuth は直近のOAuth認証の結果。認証成功時のみ設定される。
	OAuth *ProviderIdentity `json:"oauth,omitempty"`

	// Error は直近のOAuth認証のエラー。認証失敗時のみ設定される。
	Error string `json:"error,omitempty"`
}

// ProfileData はプロバイダープロファイルから射影した表示用データを表す。
// プロバイダーごとのアダプタが name、url 等のキーを設定する。
type ProfileData map[string]string

// ProviderIdentity は正規化済みのプロバイダー認証結果を表す。
// (Provider, ProviderUserID) の組が外部アカウントを一意に識別する。
type ProviderIdentity struct {
	Provider       string      `json:"provider"`
	ProviderUserID string      `json:"id"`
	Data           ProfileData `json:"data,omitempty"`
}

// ProviderLink はユーザーと外部プロバイダーアカウントの紐付けを表す。
// (UserID, Provider, ProviderUserID) が一意（UPSERT対象）。
// (Provider, ProviderUserID) が複数のユーザーに紐付いた状態はマージで解消される。
type ProviderLink struct {
	UserID         string
	Provider       string
	ProviderUserID string
	Data           ProfileData
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
