package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authman/internal/middleware"
	"github.com/hitoshi/authman/internal/provider"
	"github.com/hitoshi/authman/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver          middleware.UserResolver
	SessionCookie     middleware.SessionCookieConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// OAuth
	Registry    *provider.Registry
	Flow        AuthURLBuilder
	Processor   CallbackProcessor
	SessionRepo repository.SessionRepository
	OAuthConfig OAuthHandlerConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Session（OAuthルートのみ）
//
// /health と /metrics はセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	oauthHandler := NewOAuthHandler(deps.Registry, deps.Flow, deps.Processor, deps.SessionRepo, deps.OAuthConfig)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 運用ルート（セッション解決なし） ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- OAuthルート ---
	// すべてのリクエストがセッションミドルウェアでユーザーにバインドされる
	r.Route(deps.OAuthConfig.BasePath, func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Resolver, deps.SessionCookie))

		r.Get("/", oauthHandler.Index)
		r.With(deps.RateLimiter.AuthMiddleware()).Get("/authenticate/{provider}", oauthHandler.Authenticate)
		r.Get("/callback", oauthHandler.Callback)
		r.Get("/disconnect", oauthHandler.Disconnect)
	})

	return r
}
