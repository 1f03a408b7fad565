// Package git refreshes the job checkout of the external repository.
//
// Every refresh is destructive: the previous checkout is removed and a
// single-branch shallow clone is taken at the requested branch. Failures
// are classified into auth, not-found, network and protocol reasons;
// only transient network failures are eligible for the opt-in retry.
package git
