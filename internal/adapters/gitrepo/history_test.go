package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecord(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	sub := filepath.Join(dir, "gateway")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	path := filepath.Join(sub, "zuul.yml")
	require.NoError(t, os.WriteFile(path, []byte("zuul:\n  routes: {}\n"), 0o644))

	h, err := Open(sub, "", "", nil)
	require.NoError(t, err)
	require.NoError(t, h.Record(context.Background(), path, "Redirect /orders/checkout/** to http://host2:8080/checkout/"))

	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Redirect /orders/checkout/** to http://host2:8080/checkout/", commit.Message)
	assert.Equal(t, "lighthouse-migrator", commit.Author.Name)

	_, err = commit.File("gateway/zuul.yml")
	assert.NoError(t, err)
}

func TestOpenOutsideRepository(t *testing.T) {
	_, err := Open(t.TempDir(), "", "", nil)
	assert.Error(t, err)
}
