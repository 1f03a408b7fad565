package trigger

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // legacy GitHub signature header
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strings"
)

// Forge identifies the service that sent a webhook.
type Forge string

const (
	ForgeGitHub  Forge = "github"
	ForgeGitLab  Forge = "gitlab"
	ForgeForgejo Forge = "forgejo" // also Gitea
	ForgeUnknown Forge = "unknown"
)

// ErrNotPushEvent is returned for webhook deliveries that are not pushes.
var ErrNotPushEvent = errors.New("not a push event")

const zeroSHA = "0000000000000000000000000000000000000000"

// PushEvent is the forge-neutral subset of a push webhook.
type PushEvent struct {
	Ref        string `json:"ref"`
	Before     string `json:"before,omitempty"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository string `json:"repository"`
	CloneURL   string `json:"clone_url,omitempty"`
	SSHURL     string `json:"ssh_url,omitempty"`
	Pusher     string `json:"pusher,omitempty"`
}

// IsBranchPush reports whether the push created or moved a branch head.
func (e *PushEvent) IsBranchPush() bool {
	return !e.Deleted && strings.HasPrefix(e.Ref, BranchRefPrefix)
}

// MatchesRepository reports whether the push came from the repository at
// url. The clone and SSH URLs of the event are compared first; without
// them the forge's owner/name path must end the configured URL's path. An
// event that names no repository at all is accepted.
func (e *PushEvent) MatchesRepository(url string) bool {
	want := repoKey(url)
	if e.CloneURL != "" || e.SSHURL != "" {
		for _, u := range []string{e.CloneURL, e.SSHURL} {
			if u != "" && repoKey(u) == want {
				return true
			}
		}
		return false
	}
	if e.Repository != "" {
		name := strings.ToLower(strings.TrimSuffix(strings.Trim(e.Repository, "/"), ".git"))
		return want == name || strings.HasSuffix(want, "/"+name)
	}
	return true
}

// repoKey reduces a clone URL to lower-case host/path without scheme,
// user, port or .git suffix, so that the HTTPS and SSH forms of one
// repository compare equal. Local paths are returned cleaned.
func repoKey(url string) string {
	host, path := "", url
	if _, rest, ok := strings.Cut(url, "://"); ok {
		host, path, _ = strings.Cut(rest, "/")
		if _, h, ok := strings.Cut(host, "@"); ok {
			host = h
		}
		host, _, _ = strings.Cut(host, ":")
	} else if at := strings.Index(url, "@"); at > 0 {
		if h, p, ok := strings.Cut(url[at+1:], ":"); ok {
			host, path = h, p
		}
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	if host == "" {
		return strings.ToLower(path)
	}
	return strings.ToLower(host + "/" + path)
}

type pushPayload struct {
	Ref         string `json:"ref"`
	Before      string `json:"before"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	Deleted     bool   `json:"deleted"`
	Repository  struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
		// GitLab repository block
		GitHTTPURL string `json:"git_http_url"`
		GitSSHURL  string `json:"git_ssh_url"`
	} `json:"repository"`
	Project struct {
		PathWithNamespace string `json:"path_with_namespace"`
		GitHTTPURL        string `json:"git_http_url"`
		GitSSHURL         string `json:"git_ssh_url"`
	} `json:"project"`
	Pusher struct {
		Name     string `json:"name"`
		Login    string `json:"login"`
		Username string `json:"username"`
	} `json:"pusher"`
	UserUsername string `json:"user_username"`
}

// ParsePushEvent decodes a GitHub, Gitea/Forgejo or GitLab push payload.
func ParsePushEvent(payload []byte) (*PushEvent, error) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("push payload has no ref")
	}

	ev := &PushEvent{
		Ref:        p.Ref,
		Before:     p.Before,
		After:      firstNonEmpty(p.CheckoutSHA, p.After),
		Deleted:    p.Deleted || p.After == zeroSHA,
		Repository: firstNonEmpty(p.Repository.FullName, p.Project.PathWithNamespace),
		CloneURL:   firstNonEmpty(p.Repository.CloneURL, p.Project.GitHTTPURL, p.Repository.GitHTTPURL),
		SSHURL:     firstNonEmpty(p.Repository.SSHURL, p.Project.GitSSHURL, p.Repository.GitSSHURL),
		Pusher:     firstNonEmpty(p.Pusher.Login, p.Pusher.Username, p.Pusher.Name, p.UserUsername),
	}
	if ev.Deleted && ev.After == zeroSHA {
		ev.After = ""
	}
	return ev, nil
}

// DetectForge guesses the sender from request headers.
func DetectForge(h http.Header) Forge {
	ua := strings.ToLower(h.Get("User-Agent"))
	switch {
	case h.Get("X-Gitea-Event") != "" || h.Get("X-Forgejo-Event") != "",
		strings.Contains(ua, "forgejo"), strings.Contains(ua, "gitea"):
		return ForgeForgejo
	case h.Get("X-GitHub-Event") != "", strings.Contains(ua, "github"):
		return ForgeGitHub
	case h.Get("X-Gitlab-Event") != "", strings.Contains(ua, "gitlab"):
		return ForgeGitLab
	}
	return ForgeUnknown
}

// EventType returns the delivery's event name header for the forge.
func EventType(forge Forge, h http.Header) string {
	switch forge {
	case ForgeGitHub:
		return h.Get("X-GitHub-Event")
	case ForgeGitLab:
		return h.Get("X-Gitlab-Event")
	case ForgeForgejo:
		return firstNonEmpty(h.Get("X-Forgejo-Event"), h.Get("X-Gitea-Event"))
	}
	return ""
}

// IsPushEventType reports whether an event header names a push. An empty
// header is accepted so that plain POSTs of a payload work.
func IsPushEventType(eventType string) bool {
	switch strings.ToLower(eventType) {
	case "", "push", "push hook":
		return true
	}
	return false
}

// SignatureHeader returns the signature (or token) the forge sent.
func SignatureHeader(forge Forge, h http.Header) string {
	switch forge {
	case ForgeGitLab:
		return h.Get("X-Gitlab-Token")
	case ForgeForgejo:
		return firstNonEmpty(h.Get("X-Forgejo-Signature"), h.Get("X-Gitea-Signature"), h.Get("X-Hub-Signature-256"))
	}
	return firstNonEmpty(h.Get("X-Hub-Signature-256"), h.Get("X-Hub-Signature"))
}

// ValidateSignature checks a webhook signature against secret. Accepted
// forms are sha256=<hex>, legacy sha1=<hex>, a bare SHA-256 hex digest
// (Gitea/Forgejo) and a plain shared token (GitLab).
func ValidateSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	if expected, ok := strings.CutPrefix(signature, "sha256="); ok {
		return hmac.Equal([]byte(expected), []byte(hmacHex(sha256.New, secret, payload)))
	}
	if expected, ok := strings.CutPrefix(signature, "sha1="); ok {
		return hmac.Equal([]byte(expected), []byte(hmacHex(sha1.New, secret, payload)))
	}
	if isHex(signature) && len(signature) == sha256.Size*2 &&
		hmac.Equal([]byte(strings.ToLower(signature)), []byte(hmacHex(sha256.New, secret, payload))) {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(secret)) == 1
}

// Sign returns the sha256=<hex> signature GitHub would send for payload.
func Sign(payload []byte, secret string) string {
	return "sha256=" + hmacHex(sha256.New, secret, payload)
}

func hmacHex(h func() hash.Hash, secret string, payload []byte) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
