package providers

import (
	"errors"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/loraci/internal/config"
)

// TokenProvider sends an access token as HTTP basic auth password.
type TokenProvider struct{}

func NewTokenProvider() *TokenProvider { return &TokenProvider{} }

func (p *TokenProvider) Type() config.AuthType { return config.AuthTypeToken }

func (p *TokenProvider) Name() string { return "TokenProvider" }

// CreateAuth uses "token" as username unless one is configured; most forges
// ignore the username for token auth.
func (p *TokenProvider) CreateAuth(authCfg *config.AuthConfig) (transport.AuthMethod, error) {
	if err := p.ValidateConfig(authCfg); err != nil {
		return nil, err
	}
	user := authCfg.Username
	if user == "" {
		user = "token"
	}
	return &http.BasicAuth{Username: user, Password: authCfg.Token}, nil
}

func (p *TokenProvider) ValidateConfig(authCfg *config.AuthConfig) error {
	if authCfg.Token == "" {
		return errors.New("token authentication requires a token")
	}
	return nil
}

// BasicProvider handles username/password authentication.
type BasicProvider struct{}

func NewBasicProvider() *BasicProvider { return &BasicProvider{} }

func (p *BasicProvider) Type() config.AuthType { return config.AuthTypeBasic }

func (p *BasicProvider) Name() string { return "BasicProvider" }

func (p *BasicProvider) CreateAuth(authCfg *config.AuthConfig) (transport.AuthMethod, error) {
	if err := p.ValidateConfig(authCfg); err != nil {
		return nil, err
	}
	return &http.BasicAuth{Username: authCfg.Username, Password: authCfg.Password}, nil
}

func (p *BasicProvider) ValidateConfig(authCfg *config.AuthConfig) error {
	if authCfg.Username == "" || authCfg.Password == "" {
		return errors.New("basic authentication requires username and password")
	}
	return nil
}

// NoneProvider is used for local paths and public remotes.
type NoneProvider struct{}

func NewNoneProvider() *NoneProvider { return &NoneProvider{} }

func (p *NoneProvider) Type() config.AuthType { return config.AuthTypeNone }

func (p *NoneProvider) Name() string { return "NoneProvider" }

func (p *NoneProvider) CreateAuth(*config.AuthConfig) (transport.AuthMethod, error) { return nil, nil } //nolint:nilnil

func (p *NoneProvider) ValidateConfig(*config.AuthConfig) error { return nil }
