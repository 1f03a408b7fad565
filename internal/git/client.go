package git

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/loraci/internal/auth"
	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/retry"
)

// rate limited responses wait three times the base backoff
const rateLimitMultiplier = 3.0

// Client clones the configured repository.
type Client struct {
	url      string
	authCfg  config.AuthConfig
	depth    int
	policy   retry.Policy
	progress io.Writer
	onRetry  func(attempt int, err error)
}

// CloneResult describes a fresh checkout.
type CloneResult struct {
	Path     string
	Branch   string
	Commit   string
	Attempts int
	Duration time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithProgress streams go-git sideband progress to w.
func WithProgress(w io.Writer) Option { return func(c *Client) { c.progress = w } }

// WithRetryPolicy overrides the retry policy derived from config.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// WithRetryHook is called before every retry.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(c *Client) { c.onRetry = fn }
}

// NewClient creates a client for the repository section of the config.
func NewClient(repo config.RepositoryConfig, retryCfg config.RetryConfig, opts ...Option) *Client {
	c := &Client{
		url:     repo.URL,
		authCfg: repo.Auth,
		depth:   repo.CloneDepth(),
		policy:  retry.FromConfig(retryCfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the remote URL.
func (c *Client) URL() string { return c.url }

// Refresh removes dir (if present) and clones branch into it. A failed
// clone never leaves a partial directory behind.
func (c *Client) Refresh(ctx context.Context, dir, branch string) (CloneResult, error) {
	start := time.Now()
	res := CloneResult{Path: dir, Branch: branch}

	if err := RemoveCheckout(dir); err != nil {
		return res, err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return res, derrors.WorkspaceError("create workspace parent", err).WithContext("path", filepath.Dir(dir))
	}

	authMethod, err := auth.ForURL(c.url, &c.authCfg)
	if err != nil {
		return res, derrors.CloneFailed(derrors.CategoryAuth, c.url, branch, err).WithContext("reason", ReasonAuth)
	}

	err = c.policy.Do(ctx, func(attempt int) error {
		res.Attempts = attempt
		commit, cloneErr := c.cloneOnce(ctx, dir, branch, authMethod)
		if cloneErr != nil {
			return cloneErr
		}
		res.Commit = commit
		return nil
	}, retry.Hooks{
		Retryable: derrors.IsRetryable,
		Scale:     retryScale,
		OnRetry: func(n int, lastErr error) {
			slog.Warn("Retrying clone",
				logfields.URL(c.url),
				logfields.Branch(branch),
				logfields.Attempt(n),
				logfields.Error(lastErr))
			if c.onRetry != nil {
				c.onRetry(n, lastErr)
			}
		},
	})
	res.Duration = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !derrors.IsKind(err, derrors.KindCanceled) {
			err = derrors.Canceled("checkout", ctxErr)
		}
		return res, err
	}

	slog.Info("Repository cloned",
		logfields.URL(c.url),
		logfields.Branch(branch),
		logfields.Commit(shortHash(res.Commit)),
		logfields.Path(dir),
		logfields.Duration(res.Duration))
	return res, nil
}

func (c *Client) cloneOnce(ctx context.Context, dir, branch string, authMethod transport.AuthMethod) (string, error) {
	slog.Debug("Cloning repository", logfields.URL(c.url), logfields.Branch(branch), logfields.Path(dir))

	opts := &git.CloneOptions{
		URL:           c.url,
		Auth:          authMethod,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         c.depth,
		Tags:          git.NoTags,
		Progress:      c.progress,
	}
	repository, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", classifyCloneError(c.url, branch, err)
	}
	head, err := repository.Head()
	if err != nil {
		return "", derrors.CloneFailed(derrors.CategoryGit, c.url, branch, fmt.Errorf("resolve HEAD: %w", err))
	}
	return head.Hash().String(), nil
}

// RemoveCheckout deletes a previous checkout. A missing directory is not an error.
func RemoveCheckout(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return derrors.WorkspaceError("remove previous checkout", err).WithContext("path", dir)
	}
	return nil
}

func retryScale(err error) float64 {
	if ce, ok := derrors.AsClassified(err); ok && ce.Context["reason"] == ReasonRateLimit {
		return rateLimitMultiplier
	}
	return 1
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
