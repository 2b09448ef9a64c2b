package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

// CatalogFileAdapter loads the catalog from a YAML file, or from every
// *.yaml / *.yml file of a directory in name order.
type CatalogFileAdapter struct {
	Path string
}

var _ ports.CatalogPort = CatalogFileAdapter{}

func NewCatalogFileAdapter(path string) CatalogFileAdapter {
	return CatalogFileAdapter{Path: path}
}

func (a CatalogFileAdapter) LoadCatalog(ctx context.Context) ([]types.ModuleVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Path) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("catalog path is empty")
	}
	info, err := os.Stat(a.Path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("catalog not found").
			WithCause(err)
	}
	if !info.IsDir() {
		return loadCatalogFile(a.Path)
	}

	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read catalog directory").
			WithCause(err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		files = append(files, filepath.Join(a.Path, name))
	}
	sort.Strings(files)
	var modules []types.ModuleVersion
	for _, file := range files {
		loaded, err := loadCatalogFile(file)
		if err != nil {
			return nil, err
		}
		modules = append(modules, loaded...)
	}
	log.Ctx(ctx).Debug().Int("files", len(files)).Int("modules", len(modules)).Msg("catalog loaded")
	return modules, nil
}

func loadCatalogFile(path string) ([]types.ModuleVersion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("catalog file not found").
			WithCause(err)
	}
	var catalog types.CatalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to parse catalog yaml %s", filepath.Base(path))).
			WithCause(err)
	}
	return catalog.Modules, nil
}
