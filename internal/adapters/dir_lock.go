package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"modkeeper/internal/ports"
)

// LockFileName is created in the target directory while a transaction
// runs.
const LockFileName = ".modkeeper.lock"

// DirLockAdapter takes a lock file with O_EXCL. A lock left behind by a
// crashed process has to be removed by hand.
type DirLockAdapter struct {
	Dir string
}

var _ ports.DirLockPort = DirLockAdapter{}

func NewDirLockAdapter(dir string) DirLockAdapter {
	return DirLockAdapter{Dir: dir}
}

func (a DirLockAdapter) TryLock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Dir) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("lock directory is empty")
	}
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create target directory").
			WithCause(err)
	}
	path := filepath.Join(a.Dir, LockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("target directory is locked (%s)", path))
	}
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create lock file").
			WithCause(err)
	}
	_, _ = fmt.Fprintf(file, "pid=%d\nsince=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = file.Close()

	var once sync.Once
	var releaseErr error
	return func() error {
		once.Do(func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				releaseErr = errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("failed to remove lock file").
					WithCause(err)
			}
		})
		return releaseErr
	}, nil
}
