// Package gitrepo records routing changes in the git repository a config
// server serves them from.
package gitrepo

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"go.uber.org/zap"
)

// History implements ports.ConfigHistory on a local git working tree.
type History struct {
	repo   *git.Repository
	root   string
	author object.Signature
	log    *zap.Logger
}

// Open finds the repository containing dir.
func Open(dir, authorName, authorEmail string, log *zap.Logger) (*History, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, domain.ConfigIOError("open config repository", fmt.Errorf("failed to open %s: %w", dir, err))
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, domain.ConfigIOError("open config repository", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if authorName == "" {
		authorName = "lighthouse-migrator"
	}
	if authorEmail == "" {
		authorEmail = "migrator@lighthouse.local"
	}
	return &History{
		repo:   repo,
		root:   wt.Filesystem.Root(),
		author: object.Signature{Name: authorName, Email: authorEmail},
		log:    log,
	}, nil
}

// Record stages path and commits it with message.
func (h *History) Record(_ context.Context, path, message string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.ConfigIOError("commit "+path, err)
	}
	rel, err := filepath.Rel(h.root, abs)
	if err != nil {
		return domain.ConfigIOError("commit "+path, err)
	}

	wt, err := h.repo.Worktree()
	if err != nil {
		return domain.ConfigIOError("commit "+path, err)
	}
	if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
		return domain.ConfigIOError("commit "+path, fmt.Errorf("failed to stage: %w", err))
	}

	sig := h.author
	sig.When = time.Now()
	hash, err := wt.Commit(message, &git.CommitOptions{Author: &sig})
	if err != nil {
		return domain.ConfigIOError("commit "+path, fmt.Errorf("failed to commit: %w", err))
	}

	h.log.Info("routing change committed", zap.String("path", rel), zap.String("commit", hash.String()))
	return nil
}
