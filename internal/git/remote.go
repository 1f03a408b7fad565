package git

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"

	"git.home.luguber.info/inful/loraci/internal/auth"
)

// ListBranchHeads returns branch name -> head commit for the remote,
// without touching the checkout.
func (c *Client) ListBranchHeads(ctx context.Context) (map[string]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &ggitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{c.url},
	})

	authMethod, err := auth.ForURL(c.url, &c.authCfg)
	if err != nil {
		return nil, fmt.Errorf("list remote heads: %w", err)
	}
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: authMethod})
	if err != nil {
		return nil, classifyCloneError(c.url, "", fmt.Errorf("list remote heads: %w", err))
	}

	heads := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			heads[ref.Name().Short()] = ref.Hash().String()
		}
	}
	return heads, nil
}
