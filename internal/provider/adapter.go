// Package provider はOAuthプロバイダーのアダプター集合を提供する。
// 対応プロバイダーは固定セット（twitter/facebook/google/github）であり、
// 資格情報が設定されたものだけが有効化される。
package provider

import (
	"encoding/json"
	"strconv"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/oauth2"

	"github.com/hitoshi/authman/internal/model"
)

// sanitizePolicy はプロフィール投影値のサニタイズポリシー。
// 投影値は外部ペイロード由来でフロントエンドに表示されるため、タグを一切許可しない。
var sanitizePolicy = bluemonday.StrictPolicy()

// Adapter は単一プロバイダーの設定と正規化処理を保持する。
type Adapter struct {
	Name       string          // プロバイダー識別子（小文字）
	Title      string          // 表示名
	Endpoint   oauth2.Endpoint // 認可・トークンエンドポイント
	Scopes     []string        // 要求スコープ
	ProfileURL string          // プロフィール取得エンドポイント

	// idField はプロフィールペイロード内の安定識別子のフィールド名。
	idField string
	// envelope が設定されている場合、プロフィールはそのキーの下にネストされている。
	envelope string
	// project はプロフィールから保存用の表示データを抽出する。
	project func(profile map[string]any) model.ProfileData
}

// Normalize は生のプロフィールペイロードをプロバイダーアイデンティティに変換する。
// 安定識別子が欠落または空の場合はMISSING_PROVIDER_IDエラーを返す。
// 投影された表示データはサニタイズ済み。
func (a *Adapter) Normalize(raw map[string]any) (*model.ProviderIdentity, error) {
	profile := raw
	if a.envelope != "" {
		nested, ok := raw[a.envelope].(map[string]any)
		if !ok {
			return nil, model.NewMissingProviderIDError(a.Name, a.idField)
		}
		profile = nested
	}

	id := stringifyID(profile[a.idField])
	if id == "" {
		return nil, model.NewMissingProviderIDError(a.Name, a.idField)
	}

	data := a.project(profile)
	sanitized := make(model.ProfileData, len(data))
	for k, v := range data {
		if v == "" {
			continue
		}
		sanitized[k] = sanitizePolicy.Sanitize(v)
	}

	return &model.ProviderIdentity{
		Provider:       a.Name,
		ProviderUserID: id,
		Data:           sanitized,
	}, nil
}

// stringifyID はJSONデコード後の識別子値を文字列に変換する。
// プロバイダーによって識別子は文字列または数値で返される。
func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// stringField はプロフィールから文字列フィールドを取得する。欠落時は空文字列。
func stringField(profile map[string]any, key string) string {
	s, _ := profile[key].(string)
	return s
}
