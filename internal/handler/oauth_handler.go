// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authman/internal/callback"
	"github.com/hitoshi/authman/internal/middleware"
	"github.com/hitoshi/authman/internal/model"
	"github.com/hitoshi/authman/internal/oauthflow"
	"github.com/hitoshi/authman/internal/provider"
	"github.com/hitoshi/authman/internal/repository"
	"github.com/hitoshi/authman/internal/security"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
)

// AuthURLBuilder は認可URLを生成するインターフェース。
// oauthflow.Flowの部分集合として定義する。
type AuthURLBuilder interface {
	AuthCodeURL(providerName, state string) (string, error)
}

// CallbackProcessor はコールバックを処理するインターフェース。
// callback.Orchestratorの部分集合として定義する。
type CallbackProcessor interface {
	Process(ctx context.Context, req *callback.Request) (string, error)
}

// OAuthHandlerConfig はOAuthハンドラーの設定。
type OAuthHandlerConfig struct {
	BaseURL      string // 外部公開URL（リダイレクトのフォールバック先）
	BasePath     string // マウントパス（既定は /oauth）
	CookieDomain string
	CookieSecure bool
}

// OAuthHandler はOAuth認証関連のHTTPハンドラー。
type OAuthHandler struct {
	registry    *provider.Registry
	flow        AuthURLBuilder
	processor   CallbackProcessor
	sessionRepo repository.SessionRepository
	config      OAuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(
	registry *provider.Registry,
	flow AuthURLBuilder,
	processor CallbackProcessor,
	sessionRepo repository.SessionRepository,
	config OAuthHandlerConfig,
) *OAuthHandler {
	return &OAuthHandler{
		registry:    registry,
		flow:        flow,
		processor:   processor,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// providerPayload はランディングペイロードのプロバイダー情報。
type providerPayload struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Icon  string `json:"icon"`
}

// indexPayload はGET /oauthのレスポンス。
type indexPayload struct {
	Providers  []providerPayload       `json:"providers"`
	Disconnect string                  `json:"disconnect"`
	User       *userPayload            `json:"user"`
	OAuth      *model.ProviderIdentity `json:"oauth,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// userPayload はランディングペイロードのユーザー情報。
type userPayload struct {
	ID string `json:"id"`
}

// serverURL はマウントパスを含む外部公開URLを返す。
func (h *OAuthHandler) serverURL() string {
	return h.config.BaseURL + h.config.BasePath
}

// Index は有効なプロバイダー一覧と現在のユーザー、直近の認証結果を返す。
// GET /oauth
func (h *OAuthHandler) Index(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	payload := indexPayload{
		Providers:  []providerPayload{},
		Disconnect: h.serverURL() + "/disconnect",
		User:       &userPayload{ID: userID},
	}
	for _, adapter := range h.registry.List() {
		payload.Providers = append(payload.Providers, providerPayload{
			Name:  adapter.Name,
			Title: adapter.Title,
			URL:   h.serverURL() + "/authenticate/" + adapter.Name,
			Icon:  h.serverURL() + "/icons/" + adapter.Name + ".svg",
		})
	}

	// 直近のOAuthラウンドトリップの結果を一時状態から取り出す
	session, err := h.sessionRepo.FindByID(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError(err))
		return
	}
	if session != nil {
		payload.OAuth = session.Data.OAuth
		payload.Error = session.Data.Error
	}

	writeJSON(w, http.StatusOK, payload)
}

// Authenticate はOAuthフローを開始する。
// Refererヘッダーをコールバック後のリダイレクト先としてセッションに記録する。
// GET /oauth/authenticate/{provider}
func (h *OAuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if _, _, err := h.registry.Get(providerName); err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownProviderError(providerName))
		return
	}

	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	// Refererを記録（不正なURLの場合はベースURLにフォールバック）
	callbackURL := r.Header.Get("Referer")
	if security.ValidateCallbackURL(callbackURL) != nil {
		callbackURL = h.config.BaseURL
	}

	session, err := h.sessionRepo.FindByID(r.Context(), sessionID)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError(err))
		return
	}

	var data model.SessionData
	if session != nil {
		data = session.Data
	}
	data.CallbackURL = callbackURL
	data.PendingProvider = providerName
	if err := h.sessionRepo.UpdateData(r.Context(), sessionID, data); err != nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError(err))
		return
	}

	state, err := oauthflow.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	authURL, err := h.flow.AuthCodeURL(providerName, state)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、記録されたリダイレクト先へ戻す。
// GET /oauth/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	storedState := ""
	if cookie, err := r.Cookie(oauthStateCookie); err == nil {
		storedState = cookie.Value
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	q := r.URL.Query()
	req := &callback.Request{
		SessionID:     sessionID,
		UserID:        userID,
		Code:          q.Get("code"),
		State:         q.Get("state"),
		StoredState:   storedState,
		ProviderError: q.Get("error"),
	}

	redirectURL, err := h.processor.Process(r.Context(), req)
	if err != nil {
		slog.Error("oauth callback processing failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			middleware.WriteErrorResponse(w, middleware.StatusCodeForError(apiErr), apiErr)
			return
		}
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError(err))
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// Disconnect はセッションバインディングを破棄する。
// バインド先のユーザーとプロバイダーリンクは残り、次のリクエストで
// 新しい匿名ユーザーが作成される。
// GET /oauth/disconnect
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	if err := h.sessionRepo.DeleteByID(r.Context(), sessionID); err != nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError(err))
		return
	}

	// セッションCookieを破棄
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
