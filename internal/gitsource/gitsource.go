// Package gitsource keeps a local decks directory in step with a git
// repository of .apkg archives, so decks can be distributed to the
// device without a custom sync protocol. The repository is only ever
// read from; review state never leaves the device this way.
package gitsource

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Sync clones the repository at url into dir if dir does not exist
// yet, or pulls the latest changes if it does.
func Sync(url, dir string) error {
	_, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		slog.Info("cloning deck repository", "url", url, "dir", dir)
		if _, err := git.PlainClone(dir, false, &git.CloneOptions{URL: url}); err != nil {
			return fmt.Errorf("failed to clone deck repository %s: %w", url, err)
		}
	case err == nil:
		repo, err := git.PlainOpen(dir)
		if err != nil {
			return fmt.Errorf("failed to open deck repository at %s: %w", dir, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree at %s: %w", dir, err)
		}
		slog.Info("pulling deck repository", "dir", dir)
		err = wt.Pull(&git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull deck repository at %s: %w", dir, err)
		}
	default:
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	return nil
}
