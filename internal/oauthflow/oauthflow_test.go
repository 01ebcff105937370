package oauthflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authman/internal/provider"
)

func newTestRegistry() *provider.Registry {
	return provider.NewRegistry(map[string]provider.Credentials{
		"github": {Key: "client-id", Secret: "client-secret"},
	})
}

// TestAuthCodeURL は認可URLにクライアントID、リダイレクトURL、stateが
// 含まれることを検証する。
func TestAuthCodeURL(t *testing.T) {
	flow := NewFlow(newTestRegistry(), "https://app.example.com/oauth/callback", http.DefaultClient)

	authURL, err := flow.AuthCodeURL("github", "state-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("failed to parse auth URL: %v", err)
	}

	if !strings.HasPrefix(authURL, "https://github.com/login/oauth/authorize") {
		t.Errorf("expected github authorize endpoint, got %s", authURL)
	}

	q := parsed.Query()
	if q.Get("client_id") != "client-id" {
		t.Errorf("expected client_id, got %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://app.example.com/oauth/callback" {
		t.Errorf("expected redirect_uri, got %q", q.Get("redirect_uri"))
	}
	if q.Get("state") != "state-token" {
		t.Errorf("expected state, got %q", q.Get("state"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("expected response_type=code, got %q", q.Get("response_type"))
	}
}

// TestAuthCodeURL_UnknownProvider は無効化プロバイダーでエラーが返ることを検証する。
func TestAuthCodeURL_UnknownProvider(t *testing.T) {
	flow := NewFlow(newTestRegistry(), "https://app.example.com/oauth/callback", http.DefaultClient)

	_, err := flow.AuthCodeURL("linkedin", "state")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

// TestExchange は認可コードがアクセストークンに交換されることを検証する。
func TestExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.FormValue("code") != "auth-code" {
			t.Errorf("expected code auth-code, got %q", r.FormValue("code"))
		}
		if r.FormValue("grant_type") != "authorization_code" {
			t.Errorf("expected grant_type authorization_code, got %q", r.FormValue("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "access-token-123", "token_type": "bearer"}`))
	}))
	defer server.Close()

	registry := newTestRegistry()
	adapter, _, err := registry.Get("github")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// トークンエンドポイントをテストサーバーに向ける
	adapter.Endpoint = oauth2.Endpoint{
		AuthURL:  adapter.Endpoint.AuthURL,
		TokenURL: server.URL,
	}

	flow := NewFlow(registry, "https://app.example.com/oauth/callback", server.Client())

	token, err := flow.Exchange(context.Background(), "github", "auth-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.AccessToken != "access-token-123" {
		t.Errorf("expected access-token-123, got %s", token.AccessToken)
	}
}

// TestExchange_TokenEndpointError はトークンエンドポイントの失敗が
// エラーとして返ることを検証する。
func TestExchange_TokenEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	registry := newTestRegistry()
	adapter, _, err := registry.Get("github")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adapter.Endpoint = oauth2.Endpoint{
		AuthURL:  adapter.Endpoint.AuthURL,
		TokenURL: server.URL,
	}

	flow := NewFlow(registry, "https://app.example.com/oauth/callback", server.Client())

	_, err = flow.Exchange(context.Background(), "github", "bad-code")
	if err == nil {
		t.Fatal("expected error for failed exchange")
	}
}

// TestGenerateState はstateが64文字の16進文字列で毎回異なることを検証する。
func TestGenerateState(t *testing.T) {
	first, err := GenerateState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("expected 64 characters, got %d", len(first))
	}

	second, err := GenerateState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Error("expected unique state values")
	}
}
