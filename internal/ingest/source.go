package ingest

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Checkout is a temporary clone of a remote repository, ready to be
// indexed like a local tree.
type Checkout struct {
	// Path is the working tree root.
	Path string

	// Repo, Branch and CommitSHA are the provenance values to record on
	// chunks cut from this checkout.
	Repo      string
	Branch    string
	CommitSHA string
}

// Close removes the checkout directory.
func (c *Checkout) Close() error {
	return os.RemoveAll(c.Path)
}

// CloneRepository shallow-clones url into a temp directory. An empty
// branch clones the remote default branch. The caller owns the returned
// checkout and must Close it.
func CloneRepository(ctx context.Context, url, branch string) (*Checkout, error) {
	dir, err := os.MkdirTemp("", "fathomd-clone-*")
	if err != nil {
		return nil, fmt.Errorf("creating clone dir: %w", err)
	}

	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}

	head, err := repo.Head()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolving HEAD of %s: %w", url, err)
	}

	resolved := branch
	if resolved == "" {
		resolved = head.Name().Short()
	}
	return &Checkout{
		Path:      dir,
		Repo:      url,
		Branch:    resolved,
		CommitSHA: head.Hash().String(),
	}, nil
}

// IndexRepository clones a remote repository and indexes the checkout,
// stamping chunks with the clone's provenance.
func (o *Orchestrator) IndexRepository(ctx context.Context, url string, job Job) (*Result, error) {
	checkout, err := CloneRepository(ctx, url, job.Branch)
	if err != nil {
		return nil, err
	}
	defer checkout.Close()

	job.Root = checkout.Path
	job.Repo = checkout.Repo
	job.Branch = checkout.Branch
	job.CommitSHA = checkout.CommitSHA
	return o.IndexCodebase(ctx, job)
}
