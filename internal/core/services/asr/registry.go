package asr

import (
	asrDomain "brokle/internal/core/domain/asr"
)

// ProviderEntry binds one (provider, variant) key to its capability
// implementation in the explicit registry constructor (§9: "model it as an
// explicit dependency passed to the scheduler, not as an ambient singleton").
type ProviderEntry struct {
	Provider   string
	Variant    string
	Capability asrDomain.ProviderCapability
}

type providerRegistry struct {
	byKey     map[string]asrDomain.ProviderCapability
	providers []string
}

// NewProviderRegistry builds a read-only registry from the given entries.
// The registry is constructed once at startup and handed to every
// collaborator that needs it (scheduler, pre-check gate); there is no
// package-level mutable registry state.
func NewProviderRegistry(entries ...ProviderEntry) asrDomain.ProviderRegistry {
	byKey := make(map[string]asrDomain.ProviderCapability, len(entries))
	seen := make(map[string]struct{}, len(entries))
	var providers []string

	for _, e := range entries {
		byKey[registryKey(e.Provider, e.Variant)] = e.Capability
		if _, ok := seen[e.Provider]; !ok {
			seen[e.Provider] = struct{}{}
			providers = append(providers, e.Provider)
		}
	}

	return &providerRegistry{byKey: byKey, providers: providers}
}

func registryKey(provider, variant string) string {
	return provider + "/" + variant
}

func (r *providerRegistry) Providers() []string {
	return r.providers
}

func (r *providerRegistry) Get(provider, variant string) (asrDomain.ProviderCapability, bool) {
	c, ok := r.byKey[registryKey(provider, variant)]
	return c, ok
}
