// Package providers turns repository auth configuration into go-git
// transport credentials, one provider per auth type.
package providers

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/loraci/internal/config"
)

// AuthProvider builds credentials for a single auth type.
type AuthProvider interface {
	Type() config.AuthType
	// CreateAuth returns nil, nil when no credentials are needed.
	CreateAuth(authCfg *config.AuthConfig) (transport.AuthMethod, error)
	ValidateConfig(authCfg *config.AuthConfig) error
	Name() string
}

// ProviderResult wraps the created credentials with the provider that made them.
type ProviderResult struct {
	Auth     transport.AuthMethod
	Provider string
	Type     config.AuthType
}

// AuthProviderRegistry manages the collection of available auth providers.
type AuthProviderRegistry struct {
	providers map[config.AuthType]AuthProvider
}

// NewAuthProviderRegistry creates a new registry with the standard providers.
func NewAuthProviderRegistry() *AuthProviderRegistry {
	registry := &AuthProviderRegistry{providers: make(map[config.AuthType]AuthProvider)}
	registry.Register(NewNoneProvider())
	registry.Register(NewSSHProvider())
	registry.Register(NewTokenProvider())
	registry.Register(NewBasicProvider())
	return registry
}

// Register adds a provider, replacing any existing one for the same type.
func (r *AuthProviderRegistry) Register(provider AuthProvider) {
	r.providers[provider.Type()] = provider
}

// GetProvider returns the provider for the given auth type.
func (r *AuthProviderRegistry) GetProvider(authType config.AuthType) (AuthProvider, bool) {
	provider, exists := r.providers[authType]
	return provider, exists
}

// CreateAuth validates the config and builds credentials with the matching provider.
func (r *AuthProviderRegistry) CreateAuth(authCfg *config.AuthConfig) (*ProviderResult, error) {
	if authCfg == nil || authCfg.Type == "" {
		authCfg = &config.AuthConfig{Type: config.AuthTypeNone}
	}

	provider, exists := r.GetProvider(authCfg.Type)
	if !exists {
		return nil, &AuthError{Type: authCfg.Type, Message: "unsupported authentication type"}
	}
	if err := provider.ValidateConfig(authCfg); err != nil {
		return nil, &AuthError{Type: authCfg.Type, Message: "configuration validation failed", Cause: err}
	}
	auth, err := provider.CreateAuth(authCfg)
	if err != nil {
		return nil, &AuthError{Type: authCfg.Type, Message: "failed to create authentication", Cause: err}
	}
	return &ProviderResult{Auth: auth, Provider: provider.Name(), Type: provider.Type()}, nil
}

// AuthError represents an authentication-related error. Auth errors are
// never retried.
type AuthError struct {
	Type    config.AuthType
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Type, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Cause }
