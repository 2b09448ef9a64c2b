package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Reconcile rescans the target directory against the registry and
// persists the result. A snapshot left pending by a failed persist
// replaces the installed set first. Manifest paths missing on disk are
// then dropped, as are modules left without files.
func (s *Service) Reconcile(ctx context.Context) (result ReconcileResult, err error) {
	ctx, span := s.startSpan(ctx, "modkeeper.Reconcile")
	defer func() { endSpan(span, err) }()

	release, err := s.acquire(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	defer release()

	reg, err := s.loaded()
	if err != nil {
		return ReconcileResult{}, err
	}
	if err := s.checkPersisted(ctx); err != nil {
		return ReconcileResult{}, err
	}
	installed := reg.InstalledModules()
	if s.Pending != nil {
		pending, ok, err := s.Pending.LoadPending(ctx)
		if err != nil {
			return ReconcileResult{}, err
		}
		if ok {
			installed = pending.Installed
			result.Recovered = true
			log.Ctx(ctx).Info().
				Str("transaction", pending.LastTransaction).
				Int("installed", len(installed)).
				Msg("merging pending registry snapshot")
		}
	}
	ids := make([]string, 0, len(installed))
	for id := range installed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		module := installed[id]
		if len(module.Files) == 0 {
			continue
		}
		kept := make([]string, 0, len(module.Files))
		for _, rel := range module.Files {
			_, statErr := os.Lstat(filepath.Join(s.TargetDir, filepath.FromSlash(rel)))
			if errors.Is(statErr, os.ErrNotExist) {
				result.DroppedFiles = append(result.DroppedFiles, rel)
				continue
			}
			kept = append(kept, rel)
		}
		if len(kept) == 0 {
			delete(installed, id)
			result.DroppedModules = append(result.DroppedModules, id)
			continue
		}
		module.Files = kept
		installed[id] = module
	}

	next := reg
	if result.Recovered || len(result.DroppedFiles) > 0 {
		next = reg.Commit(installed, "reconcile-"+uuid.NewString())
	}
	if err := s.Store.SaveSnapshot(context.WithoutCancel(ctx), next.Snapshot()); err != nil {
		s.registry = next
		return ReconcileResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to persist reconciled registry").
			WithCause(err)
	}
	s.registry = next
	s.persisted = next.Generation()
	s.needsReconcile = false
	result.Generation = next.Generation()
	if result.Recovered {
		if err := s.Pending.ClearPending(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to remove pending registry snapshot")
		}
	}

	span.SetAttributes(
		attribute.Int("modkeeper.dropped_files", len(result.DroppedFiles)),
		attribute.Int("modkeeper.dropped_modules", len(result.DroppedModules)),
		attribute.Bool("modkeeper.recovered", result.Recovered),
	)
	log.Ctx(ctx).Debug().
		Int("dropped_files", len(result.DroppedFiles)).
		Int("dropped_modules", len(result.DroppedModules)).
		Int64("generation", result.Generation).
		Msg("registry reconciled")
	return result, nil
}
