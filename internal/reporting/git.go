package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// GitInfo identifies the commit the tests ran against.
type GitInfo struct {
	Branch  string
	Hash    string
	Subject string
	Author  string
	When    time.Time
	Dirty   bool
}

// ShortHash is the first seven characters of the commit hash.
func (g *GitInfo) ShortHash() string {
	if len(g.Hash) > 7 {
		return g.Hash[:7]
	}
	return g.Hash
}

// LookupGitInfo reads HEAD of the repository containing dir. A detached
// HEAD is reported with the branch "HEAD".
func LookupGitInfo(dir string) (*GitInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", head.Hash(), err)
	}

	info := &GitInfo{
		Branch:  "HEAD",
		Hash:    head.Hash().String(),
		Subject: strings.TrimSpace(strings.SplitN(commit.Message, "\n", 2)[0]),
		Author:  commit.Author.Name,
		When:    commit.Author.When,
	}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	// A bare repository has no worktree; leave Dirty false there.
	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
		}
	}
	return info, nil
}
