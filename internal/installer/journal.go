package installer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// journal records what one operation did to the target directory so it
// can be undone. Replaced and removed files are moved under dir instead
// of being deleted.
type journal struct {
	target      string
	dir         string
	created     []string
	createdDirs []string
	moved       []movedPath
	removedDirs []string
}

type movedPath struct {
	original string
	backup   string
}

func newJournal(target string, dir string) *journal {
	return &journal{target: target, dir: dir}
}

// mkdirAll creates dir and its missing parents, remembering each one.
func (j *journal) mkdirAll(dir string) error {
	var missing []string
	for current := dir; ; {
		_, err := os.Stat(current)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		missing = append(missing, current)
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
		j.createdDirs = append(j.createdDirs, missing[i])
	}
	return nil
}

// stash moves path into the journal.
func (j *journal) stash(path string) error {
	rel, err := filepath.Rel(j.target, path)
	if err != nil {
		return err
	}
	backup := filepath.Join(j.dir, "files", rel)
	if err := os.MkdirAll(filepath.Dir(backup), 0755); err != nil {
		return err
	}
	if err := os.Rename(path, backup); err != nil {
		return err
	}
	j.moved = append(j.moved, movedPath{original: path, backup: backup})
	return nil
}

// write creates path from r through a temp file in the same directory.
func (j *journal) write(path string, r io.Reader, mode os.FileMode) error {
	if err := j.mkdirAll(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".modkeeper-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	j.created = append(j.created, path)
	return nil
}

// removeEmptyDir removes dir if it is empty and reports whether it did.
func (j *journal) removeEmptyDir(dir string) bool {
	if err := os.Remove(dir); err != nil {
		return false
	}
	j.removedDirs = append(j.removedDirs, dir)
	return true
}

// rollback undoes the journal in reverse order.
func (j *journal) rollback() error {
	var errs []error
	for i := len(j.created) - 1; i >= 0; i-- {
		if err := os.Remove(j.created[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for i := len(j.removedDirs) - 1; i >= 0; i-- {
		if err := os.MkdirAll(j.removedDirs[i], 0755); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(j.moved) - 1; i >= 0; i-- {
		move := j.moved[i]
		if err := os.MkdirAll(filepath.Dir(move.original), 0755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Rename(move.backup, move.original); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(j.createdDirs) - 1; i >= 0; i-- {
		_ = os.Remove(j.createdDirs[i])
	}
	j.created, j.createdDirs, j.moved, j.removedDirs = nil, nil, nil, nil
	return errors.Join(errs...)
}
