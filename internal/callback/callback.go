// Package callback はOAuthコールバックの処理パイプラインを提供する。
package callback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authman/internal/metrics"
	"github.com/hitoshi/authman/internal/model"
	"github.com/hitoshi/authman/internal/provider"
	"github.com/hitoshi/authman/internal/repository"
)

// CodeExchanger は認可コードをトークンに交換するインターフェース。
// oauthflow.Flowの部分集合として定義する。
type CodeExchanger interface {
	Exchange(ctx context.Context, providerName, code string) (*oauth2.Token, error)
}

// ProfileFetcher はプロバイダーのプロフィールを取得するインターフェース。
type ProfileFetcher interface {
	Fetch(ctx context.Context, adapter *provider.Adapter, accessToken string) (map[string]any, error)
}

// Reconciler は認証済みアイデンティティをユーザーに照合するインターフェース。
// merge.Serviceの部分集合として定義する。
type Reconciler interface {
	Reconcile(ctx context.Context, currentUserID string, identity *model.ProviderIdentity) (string, error)
}

// Request はコールバック処理への入力。
// プロバイダー名はコールバックURLに含まれないため、
// 認証開始時にセッションへ記録された値（PendingProvider）から解決される。
type Request struct {
	SessionID     string // 現在のセッションID
	UserID        string // セッションにバインドされたユーザーID
	Code          string // 認可コード
	State         string // コールバックのstateパラメータ
	StoredState   string // stateクッキーに保存されたstate
	ProviderError string // プロバイダーから返されたエラー（error クエリパラメータ）
}

// action はパイプライン各段階の判定結果の種別。
type action int

const (
	actionContinue action = iota // 次の段階へ進む
	actionFail                   // 失敗を記録してリダイレクトで終了する
	actionAbort                  // サーバーエラーとして呼び出し元へ返す（リダイレクトしない）
)

// stepResult はパイプライン段階のタグ付き結果。
type stepResult struct {
	action  action
	failure *model.APIError // actionFailの場合のみ設定される
}

func stepContinue() stepResult {
	return stepResult{action: actionContinue}
}

func stepFail(apiErr *model.APIError) stepResult {
	return stepResult{action: actionFail, failure: apiErr}
}

func stepAbort(apiErr *model.APIError) stepResult {
	return stepResult{action: actionAbort, failure: apiErr}
}

// flowState はパイプラインを流れる中間状態。
type flowState struct {
	req      *Request
	provider string
	token    *oauth2.Token
	profile  map[string]any
	identity *model.ProviderIdentity
}

// Orchestrator はOAuthコールバックを段階的に処理する。
// 各段階はタグ付き結果（続行／失敗）を返し、失敗時は
// エラーをセッションに記録した上で元のページへリダイレクトする。
type Orchestrator struct {
	registry    *provider.Registry
	exchanger   CodeExchanger
	profiles    ProfileFetcher
	reconciler  Reconciler
	sessionRepo repository.SessionRepository
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	baseURL     string
}

// NewOrchestrator はOrchestratorを生成する。
// baseURLはセッションにリダイレクト先が記録されていない場合のフォールバック。
func NewOrchestrator(
	registry *provider.Registry,
	exchanger CodeExchanger,
	profiles ProfileFetcher,
	reconciler Reconciler,
	sessionRepo repository.SessionRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	baseURL string,
) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		exchanger:   exchanger,
		profiles:    profiles,
		reconciler:  reconciler,
		sessionRepo: sessionRepo,
		collector:   collector,
		logger:      logger,
		baseURL:     baseURL,
	}
}

// Process はコールバックを処理し、ブラウザのリダイレクト先URLを返す。
// 成功時は認証結果を、失敗時はエラーをセッションの一時状態に記録する。
// どちらの場合もセッションに記録されたリダイレクト先（無ければbaseURL）へ戻す。
// 戻り値のエラーはセッション状態の更新失敗など処理続行不能な場合のみ。
func (o *Orchestrator) Process(ctx context.Context, req *Request) (string, error) {
	start := time.Now()
	defer func() {
		o.collector.RecordCallbackLatency(time.Since(start))
	}()

	session, err := o.sessionRepo.FindByID(ctx, req.SessionID)
	if err != nil {
		return "", model.NewStoreUnavailableError(err)
	}

	redirectURL := o.baseURL
	var sessionData model.SessionData
	if session != nil {
		sessionData = session.Data
		if session.Data.CallbackURL != "" {
			redirectURL = session.Data.CallbackURL
		}
	}

	st := &flowState{req: req, provider: sessionData.PendingProvider}
	steps := []func(ctx context.Context, st *flowState) stepResult{
		o.checkProviderError,
		o.checkPendingProvider,
		o.verifyState,
		o.exchangeCode,
		o.fetchProfile,
		o.normalizeProfile,
		o.reconcileIdentity,
	}

	for _, step := range steps {
		res := step(ctx, st)
		switch res.action {
		case actionFail:
			o.recordFailure(ctx, req, st.provider, sessionData, res.failure)
			return redirectURL, nil
		case actionAbort:
			// マージ/ストア障害はセッション状態に触れず、リトライ可能なまま
			// サーバーエラーとして返す
			o.logger.Error("oauth callback aborted",
				slog.String("provider", st.provider),
				slog.String("session_id", req.SessionID),
				slog.String("code", res.failure.Code),
				slog.String("error", res.failure.Error()),
			)
			return "", res.failure
		}
	}

	// 成功: 認証結果を一時状態に記録し、過去のエラーをクリアする
	sessionData.OAuth = st.identity
	sessionData.Error = ""
	sessionData.CallbackURL = ""
	sessionData.PendingProvider = ""
	if err := o.sessionRepo.UpdateData(ctx, req.SessionID, sessionData); err != nil {
		return "", model.NewStoreUnavailableError(err)
	}

	o.collector.RecordLogin(st.provider)
	o.logger.Info("oauth login completed",
		slog.String("provider", st.provider),
		slog.String("user_id", req.UserID),
	)

	return redirectURL, nil
}

// checkProviderError はプロバイダーから返されたエラーパラメータを検査する。
func (o *Orchestrator) checkProviderError(ctx context.Context, st *flowState) stepResult {
	if st.req.ProviderError != "" {
		return stepFail(model.NewProviderAuthFailedError(st.req.ProviderError))
	}
	return stepContinue()
}

// checkPendingProvider は進行中のハンドシェイクがあることを確認する。
func (o *Orchestrator) checkPendingProvider(ctx context.Context, st *flowState) stepResult {
	if st.provider == "" {
		return stepFail(model.NewProviderAuthFailedError("no oauth handshake in progress"))
	}
	return stepContinue()
}

// verifyState はstateパラメータとクッキーに保存された値を照合する。
func (o *Orchestrator) verifyState(ctx context.Context, st *flowState) stepResult {
	if st.req.State == "" || st.req.State != st.req.StoredState {
		return stepFail(model.NewProviderAuthFailedError("state mismatch"))
	}
	return stepContinue()
}

// exchangeCode は認可コードをアクセストークンに交換する。
func (o *Orchestrator) exchangeCode(ctx context.Context, st *flowState) stepResult {
	token, err := o.exchanger.Exchange(ctx, st.provider, st.req.Code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return stepFail(apiErr)
		}
		return stepFail(model.NewProviderAuthFailedError(err.Error()))
	}
	st.token = token
	return stepContinue()
}

// fetchProfile はアクセストークンでプロバイダーのプロフィールを取得する。
func (o *Orchestrator) fetchProfile(ctx context.Context, st *flowState) stepResult {
	adapter, _, err := o.registry.Get(st.provider)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return stepFail(apiErr)
		}
		return stepFail(model.NewProviderAuthFailedError(err.Error()))
	}

	profile, err := o.profiles.Fetch(ctx, adapter, st.token.AccessToken)
	if err != nil {
		return stepFail(model.NewProviderAuthFailedError(err.Error()))
	}
	st.profile = profile
	return stepContinue()
}

// normalizeProfile はプロフィールをプロバイダーアイデンティティに正規化する。
func (o *Orchestrator) normalizeProfile(ctx context.Context, st *flowState) stepResult {
	adapter, _, err := o.registry.Get(st.provider)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return stepFail(apiErr)
		}
		return stepFail(model.NewProviderAuthFailedError(err.Error()))
	}

	identity, err := adapter.Normalize(st.profile)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return stepFail(apiErr)
		}
		return stepFail(model.NewMissingProviderIDError(st.provider, ""))
	}
	st.identity = identity
	return stepContinue()
}

// reconcileIdentity はアイデンティティを現在のユーザーに照合しマージする。
// マージとストアの失敗はトランザクションがロールバック済みのため、
// セッションに記録せずサーバーエラーとして中断する。
func (o *Orchestrator) reconcileIdentity(ctx context.Context, st *flowState) stepResult {
	_, err := o.reconciler.Reconcile(ctx, st.req.UserID, st.identity)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return stepAbort(apiErr)
		}
		return stepAbort(model.NewMergeAbortedError(err))
	}
	return stepContinue()
}

// recordFailure は失敗をセッションの一時状態とメトリクス、ログに記録する。
func (o *Orchestrator) recordFailure(ctx context.Context, req *Request, providerName string, sessionData model.SessionData, apiErr *model.APIError) {
	o.collector.RecordAuthFailure(apiErr.Code)
	o.logger.Warn("oauth callback failed",
		slog.String("provider", providerName),
		slog.String("session_id", req.SessionID),
		slog.String("code", apiErr.Code),
		slog.String("error", apiErr.Error()),
	)

	sessionData.OAuth = nil
	sessionData.Error = apiErr.Code
	sessionData.CallbackURL = ""
	sessionData.PendingProvider = ""
	if err := o.sessionRepo.UpdateData(ctx, req.SessionID, sessionData); err != nil {
		o.logger.Error("failed to record oauth error in session",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
	}
}
