package federation

import (
	"context"
	"net/url"
	"sort"
)

// ExternalIdentity is the verified profile returned by an identity provider.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	AvatarURL     string
}

// IdentityProvider verifies a federated login callback.
type IdentityProvider interface {
	// Name returns the provider identifier used in callback routes.
	Name() string
	// VerifyCallback validates the callback parameters (code, state) and
	// returns the verified identity.
	VerifyCallback(ctx context.Context, params url.Values) (*ExternalIdentity, error)
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]IdentityProvider
}

// NewRegistry creates a registry with the given providers.
func NewRegistry(providers ...IdentityProvider) *Registry {
	r := &Registry{providers: make(map[string]IdentityProvider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p IdentityProvider) {
	if p == nil {
		return
	}
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (IdentityProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound.Clone().WithMetadata(map[string]any{"provider": name})
	}
	return p, nil
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
