package utils

import (
	"os"
	"path/filepath"
	"strings"

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

// SafeJoinDir performs a filepath.Join of 'parent' and 'subdir' but returns an error
// if the resulting path points outside of 'parent'.
func SafeJoinDir(parent, subdir string) (string, error) {
	res := filepath.Join(parent, subdir)
	if !strings.HasPrefix(filepath.Clean(res), filepath.Clean(parent)+string(os.PathSeparator)) {
		return res, errors.Errorf("unsafe path join: '%s' with '%s'", parent, subdir)
	}
	return res, nil
}

// ReplaceFileAtomic creates fn by handing a temporary path in the same directory to write and
// renaming it into place only if write succeeds. Readers never observe a partial file. write
// owns the temporary path and must close anything it opens there.
func ReplaceFileAtomic(fn string, write func(tmpPath string) error) (err error) {
	dir := filepath.Dir(fn)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fn)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		RemoveFileNoError(tmpPath)
		return err
	}
	defer func() {
		if err != nil {
			RemoveFileNoError(tmpPath)
		}
	}()

	if err = write(tmpPath); err != nil {
		return err
	}
	if err = syncFile(tmpPath); err != nil {
		return err
	}
	return os.Rename(tmpPath, fn)
}

func syncFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return f.Sync()
}
