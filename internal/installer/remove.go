package installer

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"modkeeper/internal/types"
)

// ownership maps a manifest path to the identifiers that list it.
type ownership map[string]map[string]bool

func buildOwnership(installed map[string]types.InstalledModule) ownership {
	owners := ownership{}
	for id, module := range installed {
		for _, file := range module.Files {
			owners.add(file, id)
		}
	}
	return owners
}

func (o ownership) add(file string, id string) {
	if o[file] == nil {
		o[file] = map[string]bool{}
	}
	o[file][id] = true
}

// sharedWith reports whether a module other than id lists file.
func (o ownership) sharedWith(file string, id string) bool {
	for owner := range o[file] {
		if owner != id {
			return true
		}
	}
	return false
}

func (o ownership) owned(file string) bool {
	return len(o[file]) > 0
}

// removeFiles stashes every file of module that no other module lists
// and prunes the directories they leave behind. Directories still holding
// unmanaged files are returned as config-only candidates.
func (i *Installer) removeFiles(ctx context.Context, j *journal, targetDir string, id string, files []string, owners ownership) ([]string, error) {
	dirs := map[string]bool{}
	for _, rel := range files {
		if owners.sharedWith(rel, id) {
			log.Ctx(ctx).Debug().Str("module", id).Str("file", rel).Msg("keeping shared file")
			continue
		}
		full := filepath.Join(targetDir, filepath.FromSlash(rel))
		if _, err := os.Lstat(full); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Ctx(ctx).Warn().Str("module", id).Str("file", rel).Msg("manifest file already missing")
				continue
			}
			return nil, err
		}
		if err := j.stash(full); err != nil {
			return nil, err
		}
		for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}
	return i.confirmConfigOnly(ctx, j, targetDir, pruneDirs(j, targetDir, dirs, owners), owners), nil
}

// pruneDirs removes emptied directories deepest first and collects the
// deepest ones that still hold files no manifest lists.
func pruneDirs(j *journal, targetDir string, dirs map[string]bool, owners ownership) []string {
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	sort.Slice(ordered, func(a, b int) bool {
		da, db := strings.Count(ordered[a], "/"), strings.Count(ordered[b], "/")
		if da != db {
			return da > db
		}
		return ordered[a] < ordered[b]
	})

	var candidates []string
	for _, dir := range ordered {
		full := filepath.Join(targetDir, filepath.FromSlash(dir))
		if j.removeEmptyDir(full) {
			continue
		}
		leftovers := unmanagedFiles(targetDir, dir, owners)
		if len(leftovers) == 0 || coveredBy(candidates, dir) {
			continue
		}
		candidates = append(candidates, dir)
	}
	return candidates
}

// confirmConfigOnly deletes the candidates the confirmer approves and
// returns the rest.
func (i *Installer) confirmConfigOnly(ctx context.Context, j *journal, targetDir string, candidates []string, owners ownership) []string {
	var kept []string
	for _, dir := range candidates {
		leftovers := unmanagedFiles(targetDir, dir, owners)
		if i.Confirmer != nil && i.Confirmer.ConfirmDelete(ctx, dir, leftovers) {
			full := filepath.Join(targetDir, filepath.FromSlash(dir))
			if err := j.stash(full); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("dir", dir).Msg("failed to remove config-only directory")
				kept = append(kept, dir)
			}
			continue
		}
		kept = append(kept, dir)
	}
	sort.Strings(kept)
	return kept
}

// coveredBy reports whether one of candidates lies below dir.
func coveredBy(candidates []string, dir string) bool {
	for _, candidate := range candidates {
		if strings.HasPrefix(candidate, dir+"/") {
			return true
		}
	}
	return false
}

// unmanagedFiles lists files below dir that no manifest claims.
func unmanagedFiles(targetDir string, dir string, owners ownership) []string {
	var out []string
	root := filepath.Join(targetDir, filepath.FromSlash(dir))
	_ = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".modkeeper") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(targetDir, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !owners.owned(rel) {
			out = append(out, rel)
		}
		return nil
	})
	sort.Strings(out)
	return out
}
