// Package workspace gives a job exclusive ownership of its checkout directory.
//
// Shared mode uses the fixed runner path guarded by a lock file created
// next to it (<path>.lock). A second job fails fast with a workspace-busy
// error, or waits up to the configured lock timeout. Locks left behind by
// a dead process on the same host are reclaimed.
//
// Per-run mode gives every job its own directory under <root>/runs/<job-id>,
// removed on release unless runs are kept.
package workspace
