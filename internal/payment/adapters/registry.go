package adapters

import (
	"fmt"
	"slices"
	"strings"

	"github.com/smallbiznis/campaigncredit/internal/payment/domain"
)

// Registry resolves the configured PAYMENT_GATEWAY name to an adapter factory.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

// NewRegistry indexes factories by provider name. Nil factories and empty
// names are skipped; a later factory for the same name wins.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := providerKey(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	return r
}

// Providers lists the registered names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	var f domain.AdapterFactory
	if r != nil {
		f = r.factories[providerKey(provider)]
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, provider)
	}
	return f.NewAdapter(cfg)
}

func providerKey(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
