// Package providers resolves mobility provider ids to display names.
// Providers are keyed strictly by their MDS provider UUID.
package providers

// Provider identifies a mobility service operator.
type Provider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnknownProvider is returned for ids not present in the registry.
const UnknownProvider = "Unknown Provider"

// Registry is an immutable id -> provider lookup.
type Registry struct {
	byID map[string]Provider
}

// NewRegistry builds a registry from the configured provider list.
func NewRegistry(list []Provider) *Registry {
	byID := make(map[string]Provider, len(list))
	for _, provider := range list {
		byID[provider.ID] = provider
	}
	return &Registry{byID: byID}
}

// Name returns the display name for a provider id, or UnknownProvider.
func (r *Registry) Name(id string) string {
	if provider, ok := r.byID[id]; ok {
		return provider.Name
	}
	return UnknownProvider
}

// Lookup returns the provider for an id.
func (r *Registry) Lookup(id string) (Provider, bool) {
	provider, ok := r.byID[id]
	return provider, ok
}

// All returns the registered providers.
func (r *Registry) All() []Provider {
	all := make([]Provider, 0, len(r.byID))
	for _, provider := range r.byID {
		all = append(all, provider)
	}
	return all
}
