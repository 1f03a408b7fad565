// Package trigger decides whether a push starts a job: it resolves the
// branch from the pushed reference, applies the branch filter and decodes
// forge push webhooks.
package trigger

import (
	"strings"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// BranchRefPrefix is the only reference namespace that can start a job.
const BranchRefPrefix = "refs/heads/"

// ResolveBranch strips refs/heads/ from ref. Anything else, including an
// empty remainder, is a malformed reference.
func ResolveBranch(ref string) (string, error) {
	branch, ok := strings.CutPrefix(ref, BranchRefPrefix)
	if !ok || branch == "" {
		return "", derrors.MalformedReference(ref)
	}
	return branch, nil
}

// BranchRef is the inverse of ResolveBranch.
func BranchRef(branch string) string { return BranchRefPrefix + branch }
