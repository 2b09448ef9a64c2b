package ports

import (
	"context"
	"time"

	"modkeeper/internal/types"
)

// DirLockPort excludes other processes from a target directory.
type DirLockPort interface {
	// TryLock acquires the lock without waiting. The returned release
	// function is safe to call more than once.
	TryLock(ctx context.Context) (release func() error, err error)
}

// InstallMetricsPort records installer activity.
type InstallMetricsPort interface {
	ObserveOperation(kind types.OperationKind, outcome string, duration time.Duration)
	ObserveFetch(source string, outcome string, bytes int)
	ObserveCommit(outcome string, duration time.Duration)
	Flush() error
}

// ConfigOnlyConfirmer decides whether a directory that still holds files
// no module owns may be deleted.
type ConfigOnlyConfirmer interface {
	ConfirmDelete(ctx context.Context, dir string, leftovers []string) bool
}

// NoopInstallMetrics discards all observations.
type NoopInstallMetrics struct{}

var _ InstallMetricsPort = NoopInstallMetrics{}

func (NoopInstallMetrics) ObserveOperation(types.OperationKind, string, time.Duration) {}

func (NoopInstallMetrics) ObserveFetch(string, string, int) {}

func (NoopInstallMetrics) ObserveCommit(string, time.Duration) {}

func (NoopInstallMetrics) Flush() error { return nil }
