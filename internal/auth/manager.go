// Package auth resolves clone credentials from configuration.
package auth

import (
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/loraci/internal/auth/providers"
	"git.home.luguber.info/inful/loraci/internal/config"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// Resolver picks credentials for a repository URL.
type Resolver struct {
	registry *providers.AuthProviderRegistry
}

// NewResolver returns a Resolver backed by the ssh, token, basic and none providers.
func NewResolver() *Resolver {
	return &Resolver{registry: providers.NewAuthProviderRegistry()}
}

// ForURL returns credentials for cloning url; nil means anonymous. SSH keys
// only apply to SSH URLs and token or basic credentials only to HTTP(S)
// URLs, so a mismatch is reported instead of failing later in the transport.
func (r *Resolver) ForURL(url string, authCfg *config.AuthConfig) (transport.AuthMethod, error) {
	res, err := r.registry.CreateAuth(authCfg)
	if err != nil {
		return nil, err
	}
	if res.Auth == nil {
		return nil, nil
	}

	ssh := config.IsSSHURL(url)
	if (res.Type == config.AuthTypeSSH) != ssh {
		return nil, &providers.AuthError{
			Type:    res.Type,
			Message: transportMismatch(ssh),
		}
	}
	slog.Debug("Resolved clone credentials",
		logfields.URL(url),
		slog.String("provider", res.Provider))
	return res.Auth, nil
}

func transportMismatch(sshURL bool) string {
	if sshURL {
		return "repository URL uses ssh but auth type is not ssh"
	}
	return "ssh auth requires an ssh repository URL"
}

var defaultResolver = NewResolver()

// ForURL resolves credentials with the package-level Resolver.
func ForURL(url string, authCfg *config.AuthConfig) (transport.AuthMethod, error) {
	return defaultResolver.ForURL(url, authCfg)
}
