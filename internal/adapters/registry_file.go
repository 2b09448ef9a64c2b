package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// RegistryFileAdapter persists the registry snapshot as YAML. Saves go
// through a temp file and a rename so readers never see a partial file.
type RegistryFileAdapter struct {
	Path string
}

var _ ports.RegistryStorePort = RegistryFileAdapter{}

func NewRegistryFileAdapter(path string) RegistryFileAdapter {
	return RegistryFileAdapter{Path: path}
}

func (a RegistryFileAdapter) LoadSnapshot(ctx context.Context) (types.RegistrySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.RegistrySnapshot{}, err
	}
	if strings.TrimSpace(a.Path) == "" {
		return types.RegistrySnapshot{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("registry path is empty")
	}
	data, err := os.ReadFile(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return types.RegistrySnapshot{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read registry snapshot").
			WithCause(err)
	}
	var snapshot types.RegistrySnapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return types.RegistrySnapshot{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse registry snapshot").
			WithCause(err)
	}
	if snapshot.SchemaVersion > types.SnapshotSchemaVersion {
		log.Ctx(ctx).Warn().
			Int("schema_version", snapshot.SchemaVersion).
			Int("supported", types.SnapshotSchemaVersion).
			Msg("registry snapshot written by a newer version; unknown fields are ignored")
	}
	if snapshot.Installed == nil {
		snapshot.Installed = map[string]types.InstalledModule{}
	}
	return snapshot, nil
}

func (a RegistryFileAdapter) SaveSnapshot(ctx context.Context, snapshot types.RegistrySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Path) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("registry path is empty")
	}
	if snapshot.SchemaVersion < types.SnapshotSchemaVersion {
		snapshot.SchemaVersion = types.SnapshotSchemaVersion
	}
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode registry snapshot").
			WithCause(err)
	}
	if err := writeFileAtomic(a.Path, data, 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write registry snapshot").
			WithCause(err)
	}
	return nil
}

func emptySnapshot() types.RegistrySnapshot {
	return types.RegistrySnapshot{
		SchemaVersion: types.SnapshotSchemaVersion,
		Installed:     map[string]types.InstalledModule{},
	}
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// PendingSnapshotName is the file a pending snapshot is kept in.
const PendingSnapshotName = "pending-registry.yaml"

// PendingSnapshotFileAdapter keeps a pending snapshot in the same YAML
// format as the registry itself.
type PendingSnapshotFileAdapter struct {
	Path string
}

var _ ports.PendingSnapshotPort = PendingSnapshotFileAdapter{}

func NewPendingSnapshotFileAdapter(path string) PendingSnapshotFileAdapter {
	return PendingSnapshotFileAdapter{Path: path}
}

func (a PendingSnapshotFileAdapter) SavePending(ctx context.Context, snapshot types.RegistrySnapshot) error {
	return RegistryFileAdapter{Path: a.Path}.SaveSnapshot(ctx, snapshot)
}

func (a PendingSnapshotFileAdapter) LoadPending(ctx context.Context) (types.RegistrySnapshot, bool, error) {
	if strings.TrimSpace(a.Path) == "" {
		return types.RegistrySnapshot{}, false, nil
	}
	if _, err := os.Stat(a.Path); errors.Is(err, os.ErrNotExist) {
		return types.RegistrySnapshot{}, false, nil
	} else if err != nil {
		return types.RegistrySnapshot{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to check pending registry snapshot").
			WithCause(err)
	}
	snapshot, err := RegistryFileAdapter{Path: a.Path}.LoadSnapshot(ctx)
	if err != nil {
		return types.RegistrySnapshot{}, false, err
	}
	return snapshot, true, nil
}

func (a PendingSnapshotFileAdapter) ClearPending(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Path) == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove pending registry snapshot").
			WithCause(err)
	}
	// Drop the holding directory once nothing else is in it.
	_ = os.Remove(filepath.Dir(a.Path))
	return nil
}
