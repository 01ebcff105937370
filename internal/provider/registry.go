package provider

import (
	"github.com/hitoshi/authman/internal/model"
)

// Credentials はプロバイダーのOAuthクライアント資格情報。
type Credentials struct {
	Key    string // クライアントID
	Secret string // クライアントシークレット
}

// Registry は有効化されたプロバイダーアダプターの集合を管理する。
type Registry struct {
	adapters map[string]*Adapter
	order    []string
	creds    map[string]Credentials
}

// NewRegistry は資格情報が設定されたプロバイダーだけを有効化したRegistryを生成する。
// キーとシークレットの両方が設定されている場合にのみ有効とみなす。
func NewRegistry(creds map[string]Credentials) *Registry {
	all := []*Adapter{
		newTwitterAdapter(),
		newFacebookAdapter(),
		newGoogleAdapter(),
		newGitHubAdapter(),
	}

	r := &Registry{
		adapters: make(map[string]*Adapter),
		creds:    make(map[string]Credentials),
	}
	for _, a := range all {
		c, ok := creds[a.Name]
		if !ok || c.Key == "" || c.Secret == "" {
			continue
		}
		r.adapters[a.Name] = a
		r.creds[a.Name] = c
		r.order = append(r.order, a.Name)
	}

	return r
}

// Get は指定された名前のアダプターと資格情報を返す。
// 未対応または無効化されているプロバイダーの場合はUNKNOWN_PROVIDERエラーを返す。
func (r *Registry) Get(name string) (*Adapter, Credentials, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, Credentials{}, model.NewUnknownProviderError(name)
	}
	return a, r.creds[name], nil
}

// List は有効化されたアダプターを定義順で返す。
func (r *Registry) List() []*Adapter {
	list := make([]*Adapter, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.adapters[name])
	}
	return list
}
