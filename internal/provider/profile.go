package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxProfileBodySize はプロフィールレスポンスの最大サイズ（1MB）。
const maxProfileBodySize = 1 << 20

// ProfileClient はアクセストークンでプロバイダーのプロフィールを取得する。
type ProfileClient struct {
	httpClient *http.Client
}

// NewProfileClient はProfileClientを生成する。
// httpClientにはSSRF防止付きのクライアントを渡すこと。
func NewProfileClient(httpClient *http.Client) *ProfileClient {
	return &ProfileClient{httpClient: httpClient}
}

// Fetch はアダプターのプロフィールエンドポイントからユーザープロフィールを取得する。
// 識別子が数値で返るプロバイダーがあるため、数値はjson.Numberとしてデコードする。
func (c *ProfileClient) Fetch(ctx context.Context, adapter *Adapter, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, adapter.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var profile map[string]any
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	return profile, nil
}
