package oauth

import (
	"sort"

	"github.com/hitoshi/authgate/internal/model"
)

// Registry は名前からプロバイダーを解決する。起動後は読み取り専用。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry はRegistryを生成する。同名のプロバイダーは後のものが優先される。
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get は名前に対応するプロバイダーを返す。未登録の場合はUNKNOWN_PROVIDERを返す。
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, model.NewUnknownProviderError(name)
	}
	return p, nil
}

// Names は登録済みのプロバイダー名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
