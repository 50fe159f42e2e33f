// Package filetx runs read-modify-persist cycles over shared configuration files.
//
// Each cycle holds an exclusive advisory lock on a sidecar "<file>.lock" for its
// whole duration and replaces the file through a temp file and rename, so readers
// only ever see the old or the new content.
package filetx

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

const defaultPerm fs.FileMode = 0o644

// TransformFunc receives the current content (nil when the file does not exist)
// and returns the content to persist.
type TransformFunc func(current []byte) ([]byte, error)

// Update applies fn to path under lock. It reports whether the file changed.
// Errors from fn are returned as they are; I/O failures are ConfigIOErrors.
func Update(path string, fn TransformFunc) (bool, error) {
	unlock, err := lock(path + ".lock")
	if err != nil {
		return false, domain.ConfigIOError("lock "+path, err)
	}
	defer unlock()

	current, perm, err := read(path)
	if err != nil {
		return false, domain.ConfigIOError("read "+path, err)
	}

	next, err := fn(current)
	if err != nil {
		return false, err
	}
	if current != nil && bytes.Equal(current, next) {
		return false, nil
	}

	if err := WriteAtomic(path, next, perm); err != nil {
		return false, err
	}
	return true, nil
}

// Read returns the content of path under the same lock writers use.
func Read(path string) ([]byte, error) {
	unlock, err := lock(path + ".lock")
	if err != nil {
		return nil, domain.ConfigIOError("lock "+path, err)
	}
	defer unlock()

	data, _, err := read(path)
	if err != nil {
		return nil, domain.ConfigIOError("read "+path, err)
	}
	return data, nil
}

// WriteAtomic replaces path with data via a synced temp file in the same directory.
func WriteAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return domain.ConfigIOError("write "+path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return domain.ConfigIOError("write "+path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return domain.ConfigIOError("sync "+path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return domain.ConfigIOError("write "+path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return domain.ConfigIOError("chmod "+path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return domain.ConfigIOError("rename "+path, err)
	}
	return nil
}

func read(path string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, defaultPerm, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, info.Mode().Perm(), nil
}
