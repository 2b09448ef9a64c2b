package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"modkeeper/internal/ports"
	"modkeeper/internal/shared"
	"modkeeper/internal/types"
)

// ArchiveCacheDirAdapter stores archives under
// <root>/<identifier>/<version>-<checksum[:16]>.zip.
type ArchiveCacheDirAdapter struct {
	Root string
}

var _ ports.ArchiveCachePort = ArchiveCacheDirAdapter{}

func NewArchiveCacheDirAdapter(root string) ArchiveCacheDirAdapter {
	return ArchiveCacheDirAdapter{Root: root}
}

func (a ArchiveCacheDirAdapter) Has(ctx context.Context, key types.ArchiveKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := a.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to stat cached archive").
			WithCause(err)
	}
	return !info.IsDir(), nil
}

// Get returns the cached bytes. An entry that no longer matches its
// checksum is evicted and reported as not found.
func (a ArchiveCacheDirAdapter) Get(ctx context.Context, key types.ArchiveKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := a.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("archive %s %s not cached", key.Identifier, key.Version))
	}
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read cached archive").
			WithCause(err)
	}
	if err := shared.VerifyChecksum(key.Checksum, data); err != nil {
		log.Ctx(ctx).Warn().Str("module", key.Identifier).Str("path", path).Msg("evicting corrupt cache entry")
		_ = os.Remove(path)
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("archive %s %s not cached", key.Identifier, key.Version)).
			WithCause(err)
	}
	return data, nil
}

func (a ArchiveCacheDirAdapter) Put(ctx context.Context, key types.ArchiveKey, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := a.pathFor(key)
	if err != nil {
		return err
	}
	if err := shared.VerifyChecksum(key.Checksum, data); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write cached archive").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("module", key.Identifier).Str("version", key.Version).Int("bytes", len(data)).Msg("archive cached")
	return nil
}

func (a ArchiveCacheDirAdapter) pathFor(key types.ArchiveKey) (string, error) {
	if strings.TrimSpace(a.Root) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("archive cache root is empty")
	}
	if err := validateKeyPart("identifier", key.Identifier); err != nil {
		return "", err
	}
	if err := validateKeyPart("version", key.Version); err != nil {
		return "", err
	}
	checksum := strings.ToLower(strings.TrimSpace(key.Checksum))
	name := key.Version
	if checksum != "" {
		if len(checksum) > 16 {
			checksum = checksum[:16]
		}
		if err := validateKeyPart("checksum", checksum); err != nil {
			return "", err
		}
		name += "-" + checksum
	}
	return filepath.Join(a.Root, key.Identifier, name+".zip"), nil
}

func validateKeyPart(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive key %s is empty", field))
	}
	if strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("archive key %s contains a path separator", field))
	}
	return nil
}
