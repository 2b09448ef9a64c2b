package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"modkeeper/internal/core"
	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// TransactionDir holds per-transaction journals inside a target directory.
const TransactionDir = ".modkeeper-tx"

// Installer applies change sets to a target directory.
type Installer struct {
	Cache     ports.ArchiveCachePort
	Fetcher   ports.FetcherPort
	Store     ports.RegistryStorePort
	Metrics   ports.InstallMetricsPort
	Confirmer ports.ConfigOnlyConfirmer

	Workers      int
	FetchTimeout time.Duration
	Now          func() time.Time
	// SourceOf labels fetch metrics by download location.
	SourceOf func(download string) string
}

type ApplyResult struct {
	TransactionID string
	// Registry is the registry after the applied prefix was committed.
	Registry *core.Registry
	Applied  []types.Operation
	// Failed is the operation that stopped the transaction, if any.
	Failed         *types.Operation
	FailedErr      error
	ConfigOnlyDirs []string
	Persisted      bool
}

// Apply executes changeSet against targetDir in order. Each operation is
// atomic on its own; the first failure stops the transaction and the
// operations before it stay applied. The installed map of the applied
// prefix is committed to the registry and persisted once.
func (i *Installer) Apply(ctx context.Context, changeSet types.ChangeSet, reg *core.Registry, targetDir string) (ApplyResult, error) {
	result := ApplyResult{Registry: reg}
	if changeSet.Empty() {
		return result, nil
	}
	if reg == nil {
		return result, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("registry is required")
	}
	if targetDir == "" {
		return result, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("target directory is required")
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return result, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create target directory").
			WithCause(err)
	}

	txID := uuid.NewString()
	assert.NotEmpty(ctx, txID, "transaction id must be set")
	result.TransactionID = txID
	txDir := filepath.Join(targetDir, TransactionDir, txID)
	logger := log.Ctx(ctx).With().Str("transaction", txID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Debug().
		Int("operations", len(changeSet.Operations)).
		Int("marks", len(changeSet.Marks)).
		Str("fingerprint", changeSet.Fingerprint).
		Msg("applying change set")

	fetched := i.prefetch(ctx, changeSet.Operations)
	staged := reg.InstalledModules()
	changed := false
	var runErr error

	for index, op := range changeSet.Operations {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		assert.NotEmpty(ctx, op.Identifier, "operation identifier must be set")
		start := time.Now()
		j := newJournal(targetDir, filepath.Join(txDir, fmt.Sprintf("%03d-%s", index, op.Identifier)))
		configOnly, err := i.applyOperation(ctx, j, targetDir, op, fetched[index], staged)
		if err != nil {
			if rollbackErr := j.rollback(); rollbackErr != nil {
				logger.Error().Err(rollbackErr).Str("module", op.Identifier).Msg("rollback incomplete")
				err = &InstallError{Kind: ExtractFailed, Identifier: op.Identifier, Cause: errors.Join(err, rollbackErr)}
			}
			i.metrics().ObserveOperation(op.Kind, "failed", time.Since(start))
			failed := op
			result.Failed = &failed
			result.FailedErr = err
			runErr = err
			logger.Warn().Err(err).Str("module", op.Identifier).Str("kind", string(op.Kind)).Msg("operation failed")
			break
		}
		i.metrics().ObserveOperation(op.Kind, "ok", time.Since(start))
		result.Applied = append(result.Applied, op)
		result.ConfigOnlyDirs = append(result.ConfigOnlyDirs, configOnly...)
		changed = true
		logger.Debug().Str("module", op.Identifier).Str("kind", string(op.Kind)).Msg("operation applied")
	}

	if runErr == nil {
		for _, mark := range changeSet.Marks {
			module, ok := staged[mark.Identifier]
			if !ok || module.AutoInstalled == mark.AutoInstalled {
				continue
			}
			module.AutoInstalled = mark.AutoInstalled
			staged[mark.Identifier] = module
			changed = true
		}
	}

	i.cleanupTransaction(ctx, targetDir, txDir)

	if changed {
		start := time.Now()
		next := reg.Commit(staged, txID)
		result.Registry = next
		if i.Store != nil {
			if err := i.Store.SaveSnapshot(context.WithoutCancel(ctx), next.Snapshot()); err != nil {
				i.metrics().ObserveCommit("persist_failed", time.Since(start))
				logger.Error().Err(err).Msg("failed to persist registry snapshot")
				if runErr != nil {
					logger.Warn().Err(runErr).Msg("operation failure superseded by persist failure")
				}
				return result, persistFailed(err)
			}
			result.Persisted = true
		}
		i.metrics().ObserveCommit("ok", time.Since(start))
	}
	return result, runErr
}

func (i *Installer) applyOperation(ctx context.Context, j *journal, targetDir string, op types.Operation, fetched fetchResult, staged map[string]types.InstalledModule) ([]string, error) {
	switch op.Kind {
	case types.OperationInstall, types.OperationUpgrade:
		if op.To == nil {
			return nil, extractFailed(op.Identifier, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("install operation has no target version"))
		}
		if fetched.err != nil {
			return nil, fetchFailed(op.Identifier, fetched.err)
		}
		files, configOnly, err := i.extract(ctx, j, targetDir, op, fetched.data, staged)
		if err != nil {
			return nil, extractFailed(op.Identifier, err)
		}
		staged[op.Identifier] = core.NewInstalledModule(*op.To, op.AutoInstalled, files, i.now())
		return configOnly, nil
	case types.OperationRemove:
		current, ok := staged[op.Identifier]
		if !ok {
			log.Ctx(ctx).Warn().Str("module", op.Identifier).Msg("module already removed")
			return nil, nil
		}
		configOnly, err := i.removeFiles(ctx, j, targetDir, op.Identifier, current.Files, buildOwnership(staged))
		if err != nil {
			return nil, extractFailed(op.Identifier, err)
		}
		delete(staged, op.Identifier)
		return configOnly, nil
	default:
		return nil, extractFailed(op.Identifier, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown operation kind %q", op.Kind)))
	}
}

// extract writes the selected archive entries and returns the new
// manifest. On upgrade, files of the previous version that the new one
// does not ship are removed unless another module lists them, and the
// directories they leave holding unmanaged files are returned as
// config-only candidates.
func (i *Installer) extract(ctx context.Context, j *journal, targetDir string, op types.Operation, data []byte, staged map[string]types.InstalledModule) ([]string, []string, error) {
	entries, err := planExtraction(data, op.To.Install)
	if err != nil {
		return nil, nil, err
	}
	owners := buildOwnership(staged)
	shipped := make(map[string]bool, len(entries))
	for _, entry := range entries {
		shipped[entry.rel] = true
	}

	dirs := map[string]bool{}
	if previous, ok := staged[op.Identifier]; ok {
		for _, rel := range previous.Files {
			if shipped[rel] || owners.sharedWith(rel, op.Identifier) {
				continue
			}
			full := filepath.Join(targetDir, filepath.FromSlash(rel))
			if _, err := os.Lstat(full); err != nil {
				continue
			}
			if err := j.stash(full); err != nil {
				return nil, nil, err
			}
			for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
				dirs[dir] = true
			}
		}
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(targetDir, filepath.FromSlash(entry.rel))
		info, err := os.Lstat(full)
		switch {
		case err == nil && info.IsDir():
			return nil, nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("%s is a directory", entry.rel))
		case err == nil && !owners.owned(entry.rel):
			return nil, nil, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("%s already exists and is not managed by any module", entry.rel))
		case err == nil:
			if err := j.stash(full); err != nil {
				return nil, nil, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, nil, err
		}
		if err := writeEntry(j, full, entry); err != nil {
			return nil, nil, err
		}
		files = append(files, entry.rel)
	}
	for _, rel := range files {
		owners.add(rel, op.Identifier)
	}
	configOnly := i.confirmConfigOnly(ctx, j, targetDir, pruneDirs(j, targetDir, dirs, owners), owners)
	log.Ctx(ctx).Debug().Str("module", op.Identifier).Int("files", len(files)).Msg("archive extracted")
	return files, configOnly, nil
}

func writeEntry(j *journal, full string, entry extractEntry) error {
	rc, err := entry.file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	mode := entry.file.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	return j.write(full, rc, mode)
}

func (i *Installer) cleanupTransaction(ctx context.Context, targetDir string, txDir string) {
	if err := os.RemoveAll(txDir); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("dir", txDir).Msg("failed to remove transaction journal")
		return
	}
	_ = os.Remove(filepath.Join(targetDir, TransactionDir))
}

func (i *Installer) metrics() ports.InstallMetricsPort {
	if i.Metrics == nil {
		return ports.NoopInstallMetrics{}
	}
	return i.Metrics
}

func (i *Installer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}
