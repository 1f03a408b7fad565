package git

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// Clone failure reasons recorded in the error context.
const (
	ReasonAuth           = "auth"
	ReasonBranchNotFound = "branch_not_found"
	ReasonRepoNotFound   = "repository_not_found"
	ReasonEmptyRemote    = "empty_remote"
	ReasonProtocol       = "protocol"
	ReasonRateLimit      = "rate_limit"
	ReasonNetworkTimeout = "network_timeout"
	ReasonNetwork        = "network"
	ReasonUnknown        = "unknown"
)

// classifyCloneError maps go-git failures onto the clone error kind.
// Typed sentinels are checked first; message heuristics cover transports
// that only return text.
func classifyCloneError(url, branch string, err error) error {
	reason := cloneFailureReason(err)
	if reason == "canceled" {
		return derrors.Canceled("checkout", err)
	}

	var ce *derrors.ClassifiedError
	switch reason {
	case ReasonRateLimit, ReasonNetworkTimeout:
		ce = derrors.CloneTransient(url, branch, err)
	case ReasonAuth:
		ce = derrors.CloneFailed(derrors.CategoryAuth, url, branch, err)
	case ReasonNetwork:
		ce = derrors.CloneFailed(derrors.CategoryNetwork, url, branch, err)
	default:
		ce = derrors.CloneFailed(derrors.CategoryGit, url, branch, err)
	}
	return ce.WithContext("reason", reason)
}

func cloneFailureReason(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}

	var noMatch git.NoMatchingRefSpecError
	switch {
	case errors.As(err, &noMatch), errors.Is(err, plumbing.ErrReferenceNotFound):
		return ReasonBranchNotFound
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return ReasonAuth
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return ReasonRepoNotFound
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return ReasonEmptyRemote
	}

	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "couldn't find remote ref"), strings.Contains(l, "reference not found"):
		return ReasonBranchNotFound
	case strings.Contains(l, "unable to authenticate"), strings.Contains(l, "authentication"),
		strings.Contains(l, "permission denied"), strings.Contains(l, "invalid username or password"),
		strings.Contains(l, "knownhosts"), strings.Contains(l, "host key"):
		return ReasonAuth
	case strings.Contains(l, "repository not found"), strings.Contains(l, "repository does not exist"):
		return ReasonRepoNotFound
	case strings.Contains(l, "unsupported protocol"), strings.Contains(l, "protocol not supported"),
		strings.Contains(l, "unsupported scheme"):
		return ReasonProtocol
	case strings.Contains(l, "rate limit"), strings.Contains(l, "too many requests"):
		return ReasonRateLimit
	case strings.Contains(l, "timeout"), strings.Contains(l, "timed out"), strings.Contains(l, "connection reset"):
		return ReasonNetworkTimeout
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return ReasonNetworkTimeout
		}
		return ReasonNetwork
	}
	return ReasonUnknown
}
