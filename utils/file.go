package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists reports whether path names an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WriteFileAtomic writes data through a temporary file in the destination directory and renames
// it into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			RemoveFileNoError(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrapf(os.Rename(tmpName, path), "renaming into %q", path)
}
