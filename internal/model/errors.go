// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, store, merge, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となった内部エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となった内部エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeProviderAuthFailed = "PROVIDER_AUTH_FAILED"
	ErrCodeMissingProviderID  = "MISSING_PROVIDER_ID"
	ErrCodeMergeAborted       = "MERGE_ABORTED"
	ErrCodeUnknownProvider    = "UNKNOWN_PROVIDER"
)

// NewStoreUnavailableError は永続化層の障害エラーを生成する。
// コネクション断や想定外の制約違反など、ストア操作の失敗全般に使用する。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアへのアクセスに失敗しました。",
		Category: "store",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewProviderAuthFailedError はOAuth認証またはプロファイル取得の失敗エラーを生成する。
// セッションの一時エラーとして記録され、ユーザーに表示される。
func NewProviderAuthFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderAuthFailed,
		Message:  fmt.Sprintf("プロバイダー認証に失敗しました: %s", reason),
		Category: "auth",
		Action:   "再度ログインをお試しください。",
	}
}

// NewMissingProviderIDError はプロファイルからIDを抽出できなかった場合のエラーを生成する。
// ユーザー向けにはPROVIDER_AUTH_FAILEDと同様に扱われる。
func NewMissingProviderIDError(provider, idField string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingProviderID,
		Message:  fmt.Sprintf("プロバイダー %s のプロファイルにIDフィールド %s がありません。", provider, idField),
		Category: "auth",
		Action:   "再度ログインをお試しください。",
	}
}

// NewMergeAbortedError はマージトランザクションの失敗エラーを生成する。
// トランザクションはロールバック済みで、マージ前の状態は保たれている。
func NewMergeAbortedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeMergeAborted,
		Message:  "ユーザーの統合処理に失敗しました。",
		Category: "merge",
		Action:   "再度ログインをお試しください。変更は適用されていません。",
		Err:      err,
	}
}

// NewUnknownProviderError は未設定のプロバイダーが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("プロバイダー %s は設定されていません。", provider),
		Category: "auth",
		Action:   "対応しているプロバイダーを指定してください。",
	}
}
