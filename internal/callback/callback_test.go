package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authman/internal/model"
	"github.com/hitoshi/authman/internal/provider"
)

// mockExchanger はCodeExchangerのモック実装。
type mockExchanger struct {
	exchangeFunc func(ctx context.Context, providerName, code string) (*oauth2.Token, error)
}

func (m *mockExchanger) Exchange(ctx context.Context, providerName, code string) (*oauth2.Token, error) {
	return m.exchangeFunc(ctx, providerName, code)
}

// mockProfileFetcher はProfileFetcherのモック実装。
type mockProfileFetcher struct {
	fetchFunc func(ctx context.Context, adapter *provider.Adapter, accessToken string) (map[string]any, error)
}

func (m *mockProfileFetcher) Fetch(ctx context.Context, adapter *provider.Adapter, accessToken string) (map[string]any, error) {
	return m.fetchFunc(ctx, adapter, accessToken)
}

// mockReconciler はReconcilerのモック実装。
type mockReconciler struct {
	reconcileFunc func(ctx context.Context, currentUserID string, identity *model.ProviderIdentity) (string, error)
}

func (m *mockReconciler) Reconcile(ctx context.Context, currentUserID string, identity *model.ProviderIdentity) (string, error) {
	return m.reconcileFunc(ctx, currentUserID, identity)
}

// mockSessionRepository はSessionRepositoryのモック実装。
type mockSessionRepository struct {
	findByIDFunc   func(ctx context.Context, id string) (*model.Session, error)
	updateDataFunc func(ctx context.Context, sessionID string, data model.SessionData) error
	deleteByIDFunc func(ctx context.Context, id string) error
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.findByIDFunc(ctx, id)
}

func (m *mockSessionRepository) UpdateData(ctx context.Context, sessionID string, data model.SessionData) error {
	return m.updateDataFunc(ctx, sessionID, data)
}

func (m *mockSessionRepository) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFunc(ctx, id)
}

// mockCollector はMetricsCollectorのモック実装。
type mockCollector struct {
	logins       []string
	authFailures []string
	latencies    int
}

func (m *mockCollector) RecordLogin(provider string)                  { m.logins = append(m.logins, provider) }
func (m *mockCollector) RecordMerge(provider string, loserCount int)  {}
func (m *mockCollector) RecordAuthFailure(reason string)              { m.authFailures = append(m.authFailures, reason) }
func (m *mockCollector) RecordCallbackLatency(duration time.Duration) { m.latencies++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testRegistry() *provider.Registry {
	return provider.NewRegistry(map[string]provider.Credentials{
		"github": {Key: "key", Secret: "secret"},
	})
}

// testDeps はデフォルトで成功するモック一式を返す。
func testDeps() (*mockExchanger, *mockProfileFetcher, *mockReconciler, *mockSessionRepository, *mockCollector) {
	exchanger := &mockExchanger{
		exchangeFunc: func(ctx context.Context, providerName, code string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "access-token"}, nil
		},
	}
	profiles := &mockProfileFetcher{
		fetchFunc: func(ctx context.Context, adapter *provider.Adapter, accessToken string) (map[string]any, error) {
			return map[string]any{
				"id":       json.Number("12345"),
				"name":     "Hitoshi",
				"html_url": "https://github.com/hitoshi",
			}, nil
		},
	}
	reconciler := &mockReconciler{
		reconcileFunc: func(ctx context.Context, currentUserID string, identity *model.ProviderIdentity) (string, error) {
			return currentUserID, nil
		},
	}
	sessionRepo := &mockSessionRepository{
		findByIDFunc: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{
				ID:     id,
				UserID: "user-a",
				Data: model.SessionData{
					CallbackURL:     "https://app.example.com/page",
					PendingProvider: "github",
				},
			}, nil
		},
		updateDataFunc: func(ctx context.Context, sessionID string, data model.SessionData) error {
			return nil
		},
	}
	return exchanger, profiles, reconciler, sessionRepo, &mockCollector{}
}

func validRequest() *Request {
	return &Request{
		SessionID:   "session-1",
		UserID:      "user-a",
		Code:        "auth-code",
		State:       "state-token",
		StoredState: "state-token",
	}
}

// TestProcess_Success は正常系で認証結果がセッションに記録され、
// 記録済みのリダイレクト先へ戻ることを検証する。
func TestProcess_Success(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()

	var savedData model.SessionData
	sessionRepo.updateDataFunc = func(ctx context.Context, sessionID string, data model.SessionData) error {
		savedData = data
		return nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	redirectURL, err := o.Process(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirectURL != "https://app.example.com/page" {
		t.Errorf("expected recorded callback URL, got %s", redirectURL)
	}

	if savedData.OAuth == nil {
		t.Fatal("expected oauth result to be recorded in session")
	}
	if savedData.OAuth.Provider != "github" || savedData.OAuth.ProviderUserID != "12345" {
		t.Errorf("unexpected recorded identity: %+v", savedData.OAuth)
	}
	if savedData.Error != "" {
		t.Errorf("expected error to be cleared, got %q", savedData.Error)
	}
	if savedData.CallbackURL != "" {
		t.Error("expected callback URL to be consumed")
	}

	if len(collector.logins) != 1 || collector.logins[0] != "github" {
		t.Errorf("expected login recorded for github, got %v", collector.logins)
	}
	if collector.latencies != 1 {
		t.Errorf("expected latency recorded, got %d", collector.latencies)
	}
}

// TestProcess_NoCallbackURL_FallsBackToBaseURL はセッションにリダイレクト先が
// 無い場合にベースURLへ戻ることを検証する。
func TestProcess_NoCallbackURL_FallsBackToBaseURL(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()
	sessionRepo.findByIDFunc = func(ctx context.Context, id string) (*model.Session, error) {
		return &model.Session{ID: id, UserID: "user-a", Data: model.SessionData{PendingProvider: "github"}}, nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	redirectURL, err := o.Process(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirectURL != "https://app.example.com" {
		t.Errorf("expected base URL fallback, got %s", redirectURL)
	}
}

// TestProcess_ProviderError はプロバイダーがエラーを返した場合、
// エラーが記録されリダイレクトで終了することを検証する。
func TestProcess_ProviderError(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()
	exchanger.exchangeFunc = func(ctx context.Context, providerName, code string) (*oauth2.Token, error) {
		t.Fatal("exchange must not be called when provider returned an error")
		return nil, nil
	}

	var savedData model.SessionData
	sessionRepo.updateDataFunc = func(ctx context.Context, sessionID string, data model.SessionData) error {
		savedData = data
		return nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	req := validRequest()
	req.ProviderError = "access_denied"

	redirectURL, err := o.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirectURL != "https://app.example.com/page" {
		t.Errorf("expected redirect to recorded URL, got %s", redirectURL)
	}

	if savedData.Error != "PROVIDER_AUTH_FAILED" {
		t.Errorf("expected PROVIDER_AUTH_FAILED recorded, got %q", savedData.Error)
	}
	if savedData.OAuth != nil {
		t.Error("expected no oauth result on failure")
	}
	if len(collector.authFailures) != 1 || collector.authFailures[0] != "PROVIDER_AUTH_FAILED" {
		t.Errorf("expected auth failure recorded, got %v", collector.authFailures)
	}
	if len(collector.logins) != 0 {
		t.Error("expected no login recorded on failure")
	}
}

// TestProcess_StateMismatch はstateの不一致が認証失敗になることを検証する。
func TestProcess_StateMismatch(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()

	var savedData model.SessionData
	sessionRepo.updateDataFunc = func(ctx context.Context, sessionID string, data model.SessionData) error {
		savedData = data
		return nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	req := validRequest()
	req.StoredState = "different-state"

	if _, err := o.Process(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if savedData.Error != "PROVIDER_AUTH_FAILED" {
		t.Errorf("expected PROVIDER_AUTH_FAILED, got %q", savedData.Error)
	}
}

// TestProcess_ExchangeFailure はコード交換の失敗が認証失敗として
// 記録されることを検証する。
func TestProcess_ExchangeFailure(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()
	exchanger.exchangeFunc = func(ctx context.Context, providerName, code string) (*oauth2.Token, error) {
		return nil, errors.New("invalid_grant")
	}

	var savedData model.SessionData
	sessionRepo.updateDataFunc = func(ctx context.Context, sessionID string, data model.SessionData) error {
		savedData = data
		return nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	if _, err := o.Process(context.Background(), validRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if savedData.Error != "PROVIDER_AUTH_FAILED" {
		t.Errorf("expected PROVIDER_AUTH_FAILED, got %q", savedData.Error)
	}
}

// TestProcess_MissingProviderID は識別子欠落がMISSING_PROVIDER_IDとして
// 記録されることを検証する。
func TestProcess_MissingProviderID(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()
	profiles.fetchFunc = func(ctx context.Context, adapter *provider.Adapter, accessToken string) (map[string]any, error) {
		return map[string]any{"name": "Hitoshi"}, nil
	}

	var savedData model.SessionData
	sessionRepo.updateDataFunc = func(ctx context.Context, sessionID string, data model.SessionData) error {
		savedData = data
		return nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	if _, err := o.Process(context.Background(), validRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if savedData.Error != "MISSING_PROVIDER_ID" {
		t.Errorf("expected MISSING_PROVIDER_ID, got %q", savedData.Error)
	}
	if len(collector.authFailures) != 1 || collector.authFailures[0] != "MISSING_PROVIDER_ID" {
		t.Errorf("expected MISSING_PROVIDER_ID failure recorded, got %v", collector.authFailures)
	}
}

// TestProcess_MergeAborted はマージ失敗がセッション状態に触れず
// サーバーエラーとして返ることを検証する。
func TestProcess_MergeAborted(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()
	reconciler.reconcileFunc = func(ctx context.Context, currentUserID string, identity *model.ProviderIdentity) (string, error) {
		return "", model.NewMergeAbortedError(errors.New("reassign hook failed"))
	}

	updated := false
	sessionRepo.updateDataFunc = func(ctx context.Context, sessionID string, data model.SessionData) error {
		updated = true
		return nil
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	_, err := o.Process(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "MERGE_ABORTED" {
		t.Errorf("expected MERGE_ABORTED error, got %v", err)
	}
	// マージ前の状態をリトライ可能なまま保つため、セッションは更新されない
	if updated {
		t.Error("session data should not be updated on merge abort")
	}
}

// TestProcess_SessionLookupFailure はセッション取得の失敗で
// STORE_UNAVAILABLEエラーが返ることを検証する。
func TestProcess_SessionLookupFailure(t *testing.T) {
	exchanger, profiles, reconciler, sessionRepo, collector := testDeps()
	sessionRepo.findByIDFunc = func(ctx context.Context, id string) (*model.Session, error) {
		return nil, errors.New("connection refused")
	}

	o := NewOrchestrator(testRegistry(), exchanger, profiles, reconciler, sessionRepo, collector, testLogger(), "https://app.example.com")

	_, err := o.Process(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "STORE_UNAVAILABLE" {
		t.Errorf("expected STORE_UNAVAILABLE, got %s", apiErr.Code)
	}
}
