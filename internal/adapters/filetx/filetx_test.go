package filetx

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate(t *testing.T) {
	t.Run("creates missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "routes.yml")

		changed, err := Update(path, func(current []byte) ([]byte, error) {
			assert.Nil(t, current)
			return []byte("a: 1\n"), nil
		})
		require.NoError(t, err)
		assert.True(t, changed)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "a: 1\n", string(data))
	})

	t.Run("skips identical content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nginx.conf")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

		changed, err := Update(path, func(current []byte) ([]byte, error) {
			return current, nil
		})
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("keeps file mode", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nginx.conf")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

		_, err := Update(path, func([]byte) ([]byte, error) { return []byte("y"), nil })
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("transform error leaves file untouched", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "routes.yml")
		require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
		boom := errors.New("boom")

		_, err := Update(path, func([]byte) ([]byte, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))
	})

	t.Run("directory is a config io error", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Update(dir, func(b []byte) ([]byte, error) { return b, nil })
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindConfigIO))
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "routes.yml")
		_, err := Update(path, func([]byte) ([]byte, error) { return []byte("v"), nil })
		require.NoError(t, err)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.ElementsMatch(t, []string{"routes.yml", "routes.yml.lock"}, names)
	})
}

func TestUpdate_SerialisesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(path, func(current []byte) ([]byte, error) {
				return append(current, 'x'), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, data, 20)
}
