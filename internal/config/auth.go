package config

import "strings"

// AuthType enumerates supported authentication methods (stringly for YAML compatibility)
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeToken AuthType = "token"
	AuthTypeBasic AuthType = "basic"
)

// IsValid reports whether the auth type is one of the known methods.
func (a AuthType) IsValid() bool {
	switch a {
	case AuthTypeNone, AuthTypeSSH, AuthTypeToken, AuthTypeBasic:
		return true
	}
	return false
}

// NormalizeAuthType case-folds user input; unknown values yield "".
func NormalizeAuthType(raw string) AuthType {
	a := AuthType(strings.ToLower(strings.TrimSpace(raw)))
	if a.IsValid() {
		return a
	}
	return ""
}

// AuthConfig represents authentication configuration for the clone.
type AuthConfig struct {
	Type       AuthType `yaml:"type"` // ssh|token|basic|none
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
	Token      string   `yaml:"token,omitempty"`
	KeyPath    string   `yaml:"key_path,omitempty"`
	Passphrase string   `yaml:"passphrase,omitempty"`
}

// IsZero reports whether no auth method specified.
func (a *AuthConfig) IsZero() bool { return a == nil || a.Type == "" || a.Type == AuthTypeNone }

// IsSSHURL reports whether a clone URL uses the SSH transport
// (scp-like user@host:path or ssh:// scheme).
func IsSSHURL(url string) bool {
	if strings.HasPrefix(url, "ssh://") {
		return true
	}
	if strings.Contains(url, "://") {
		return false
	}
	at := strings.Index(url, "@")
	colon := strings.Index(url, ":")
	return at > 0 && colon > at
}
