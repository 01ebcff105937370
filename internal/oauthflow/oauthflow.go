// Package oauthflow はOAuth 2.0認可コードフローのハンドシェイクを提供する。
package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authman/internal/provider"
)

// Flow はプロバイダーに対する認可URL生成とコード交換を提供する。
type Flow struct {
	registry    *provider.Registry
	redirectURL string
	httpClient  *http.Client
}

// NewFlow はFlowを生成する。
// redirectURLはすべてのプロバイダーで共有されるコールバックURL。
// httpClientはトークン交換リクエストに使用される。
func NewFlow(registry *provider.Registry, redirectURL string, httpClient *http.Client) *Flow {
	return &Flow{
		registry:    registry,
		redirectURL: redirectURL,
		httpClient:  httpClient,
	}
}

// oauthConfig はプロバイダーのoauth2.Configを構築する。
func (f *Flow) oauthConfig(adapter *provider.Adapter, creds provider.Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.Key,
		ClientSecret: creds.Secret,
		Endpoint:     adapter.Endpoint,
		RedirectURL:  f.redirectURL,
		Scopes:       adapter.Scopes,
	}
}

// AuthCodeURL は指定プロバイダーの認可URLを生成する。
// 未対応プロバイダーの場合はUNKNOWN_PROVIDERエラーを返す。
func (f *Flow) AuthCodeURL(providerName, state string) (string, error) {
	adapter, creds, err := f.registry.Get(providerName)
	if err != nil {
		return "", err
	}
	return f.oauthConfig(adapter, creds).AuthCodeURL(state), nil
}

// Exchange は認可コードをアクセストークンに交換する。
func (f *Flow) Exchange(ctx context.Context, providerName, code string) (*oauth2.Token, error) {
	adapter, creds, err := f.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	token, err := f.oauthConfig(adapter, creds).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	return token, nil
}

// GenerateState はCSRF防止用のランダムなstateパラメータを生成する。
// 32バイトの乱数を16進エンコードした64文字の文字列を返す。
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
