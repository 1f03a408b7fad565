package providers

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/loraci/internal/config"
)

const defaultSSHUser = "git"

// SSHProvider loads a private key file for SSH remotes.
type SSHProvider struct{}

func NewSSHProvider() *SSHProvider { return &SSHProvider{} }

func (p *SSHProvider) Type() config.AuthType { return config.AuthTypeSSH }

func (p *SSHProvider) Name() string { return "SSHProvider" }

func (p *SSHProvider) keyPath(authCfg *config.AuthConfig) string {
	if authCfg.KeyPath == "" {
		return config.ExpandHome(config.DefaultSSHKey)
	}
	return config.ExpandHome(authCfg.KeyPath)
}

// CreateAuth loads the key, decrypting it with the configured passphrase.
func (p *SSHProvider) CreateAuth(authCfg *config.AuthConfig) (transport.AuthMethod, error) {
	user := authCfg.Username
	if user == "" {
		user = defaultSSHUser
	}
	keyPath := p.keyPath(authCfg)
	publicKeys, err := ssh.NewPublicKeysFromFile(user, keyPath, authCfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
	}
	return publicKeys, nil
}

func (p *SSHProvider) ValidateConfig(authCfg *config.AuthConfig) error {
	keyPath := p.keyPath(authCfg)
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		return fmt.Errorf("SSH key file does not exist: %s", keyPath)
	}
	return nil
}
