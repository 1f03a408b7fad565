package daemon

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/trigger"
)

// HeadLister reports the remote's branch heads.
type HeadLister interface {
	ListBranchHeads(ctx context.Context) (map[string]string, error)
}

// Poller turns moved remote branch heads into push events. The first poll
// only records the heads it sees.
type Poller struct {
	lister func() HeadLister
	push   func(ctx context.Context, ref, commit string)

	mu     sync.Mutex
	heads  map[string]string
	seeded bool
}

// NewPoller creates a poller. lister is resolved on every poll so that a
// reloaded repository config takes effect.
func NewPoller(lister func() HeadLister, push func(ctx context.Context, ref, commit string)) *Poller {
	return &Poller{lister: lister, push: push, heads: make(map[string]string)}
}

// Poll lists the remote heads once and pushes every branch that is new or
// whose head moved since the previous poll. It returns the refs pushed.
func (p *Poller) Poll(ctx context.Context) ([]string, error) {
	heads, err := p.lister().ListBranchHeads(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	prev, seeded := p.heads, p.seeded
	p.heads, p.seeded = maps.Clone(heads), true
	p.mu.Unlock()

	if !seeded {
		slog.Info("Poller seeded remote heads", slog.Int("branches", len(heads)))
		return nil, nil
	}

	var pushed []string
	for _, branch := range slices.Sorted(maps.Keys(heads)) {
		commit := heads[branch]
		if old, ok := prev[branch]; ok && old == commit {
			continue
		}
		ref := trigger.BranchRef(branch)
		slog.Debug("Remote head moved", logfields.Branch(branch), logfields.Commit(commit))
		p.push(ctx, ref, commit)
		pushed = append(pushed, ref)
	}
	return pushed, nil
}

// Heads returns a copy of the last observed heads.
func (p *Poller) Heads() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.heads)
}
