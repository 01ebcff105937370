// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// sessionIDContextKey はリクエストコンテキストにセッションIDを格納するためのキー。
var sessionIDContextKey = contextKey("session_id")

// UserResolver はセッションIDからユーザーIDを解決するインターフェース。
// binder.Serviceの部分集合として定義する。
type UserResolver interface {
	ResolveOrCreateUser(ctx context.Context, sessionID string) (string, error)
}

// SessionCookieConfig はセッションCookieの属性設定。
type SessionCookieConfig struct {
	Secret string // Cookie値のHMAC署名に使用するシークレット
	Domain string // Cookieのドメイン。空の場合はホスト限定
	Secure bool   // HTTPSのみで送信するか
	MaxAge int    // Cookieの有効期間（秒）
}

// SignSessionID はセッションIDにHMAC-SHA256署名を付与したCookie値を返す。
// 形式は "<sessionID>.<signature hex>"。
func SignSessionID(sessionID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionID))
	return sessionID + "." + hex.EncodeToString(mac.Sum(nil))
}

// VerifySessionCookie は署名付きCookie値を検証し、セッションIDを取り出す。
// 署名が一致しない、または形式が不正な場合はfalseを返す。
func VerifySessionCookie(value, secret string) (string, bool) {
	i := strings.LastIndex(value, ".")
	if i <= 0 {
		return "", false
	}
	sessionID := value[:i]
	if !hmac.Equal([]byte(value), []byte(SignSessionID(sessionID, secret))) {
		return "", false
	}
	return sessionID, true
}

// NewSessionMiddleware はすべてのリクエストをユーザーにバインドするミドルウェアを返す。
// CookieにセッションIDが無い場合、または署名検証に失敗した場合は新規に発行し、
// バインダーで永続ユーザーに解決する。
// 未認証のリクエストを拒否せず、匿名ユーザーとして通過させる。
// 解決したユーザーIDとセッションIDをリクエストコンテキストに注入する。
func NewSessionMiddleware(resolver UserResolver, cfg SessionCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieの署名を検証してセッションIDを取得。
			//    無効な場合は改ざんとみなし、新規セッションとして扱う
			sessionID := ""
			if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
				if id, ok := VerifySessionCookie(cookie.Value, cfg.Secret); ok {
					sessionID = id
				}
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    SignSessionID(sessionID, cfg.Secret),
					Path:     "/",
					Domain:   cfg.Domain,
					MaxAge:   cfg.MaxAge,
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			// 2. セッションをユーザーに解決（未バインドなら新規ユーザーを作成）
			userID, err := resolver.ResolveOrCreateUser(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to resolve session user",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. ユーザーIDとセッションIDをコンテキストに注入
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSessionID はコンテキストにセッションIDを注入する。
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
