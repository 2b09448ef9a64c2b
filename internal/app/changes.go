package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"modkeeper/internal/core"
	"modkeeper/internal/installer"
	"modkeeper/internal/types"
)

// RequestChanges resolves req against the current registry and returns
// the change set that would converge the target directory. It never
// touches the filesystem.
func (s *Service) RequestChanges(ctx context.Context, req ChangeRequest) (preview ChangeSetPreview, err error) {
	ctx, span := s.startSpan(ctx, "modkeeper.RequestChanges",
		attribute.StringSlice("modkeeper.install", req.Install),
		attribute.StringSlice("modkeeper.remove", req.Remove),
		attribute.StringSlice("modkeeper.upgrade", req.Upgrade),
	)
	defer func() { endSpan(span, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, err := s.loaded()
	if err != nil {
		return ChangeSetPreview{}, err
	}

	hostVersion := req.HostVersion
	if hostVersion == "" {
		hostVersion = reg.HostVersion()
	}
	resolveReq := types.ResolveRequest{
		Install:     req.Install,
		Remove:      req.Remove,
		Upgrade:     req.Upgrade,
		HostVersion: hostVersion,
	}
	plan, err := core.NewResolver().Resolve(ctx, resolveReq, reg)
	if err != nil {
		return ChangeSetPreview{}, err
	}
	changeSet := core.BuildChangeSet(resolveReq, plan, reg)
	span.SetAttributes(
		attribute.Int("modkeeper.operations", len(changeSet.Operations)),
		attribute.String("modkeeper.fingerprint", changeSet.Fingerprint),
	)
	log.Ctx(ctx).Debug().
		Int("operations", len(changeSet.Operations)).
		Int("marks", len(changeSet.Marks)).
		Int64("generation", reg.Generation()).
		Msg("change set computed")
	return ChangeSetPreview{
		Request:    resolveReq,
		Plan:       plan,
		ChangeSet:  changeSet,
		Generation: reg.Generation(),
	}, nil
}

// Commit applies a preview. It fails with LockContention when another
// commit holds the target, and with FailedPrecondition when the registry
// moved on since the preview was computed or awaits a reconcile. An
// empty preview commits nothing and touches no files.
func (s *Service) Commit(ctx context.Context, preview ChangeSetPreview, opts CommitOptions) (result CommitResult, err error) {
	ctx, span := s.startSpan(ctx, "modkeeper.Commit",
		attribute.String("modkeeper.fingerprint", preview.ChangeSet.Fingerprint),
		attribute.Int64("modkeeper.generation", preview.Generation),
	)
	defer func() { endSpan(span, err) }()

	if preview.ChangeSet.Empty() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		reg, err := s.loaded()
		if err != nil {
			return CommitResult{}, err
		}
		return CommitResult{Generation: reg.Generation()}, nil
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return CommitResult{}, err
	}
	defer release()

	reg, err := s.loaded()
	if err != nil {
		return CommitResult{}, err
	}
	if err := s.checkTarget(ctx); err != nil {
		return CommitResult{}, err
	}
	if preview.Generation != reg.Generation() {
		return CommitResult{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("preview is stale: computed at generation %d, registry is at %d", preview.Generation, reg.Generation()))
	}
	if core.Fingerprint(preview.ChangeSet) != preview.ChangeSet.Fingerprint {
		return CommitResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("preview change set does not match its fingerprint")
	}
	if s.Installer == nil {
		return CommitResult{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("installer is not configured")
	}

	inst := *s.Installer
	if opts.Confirmer != nil {
		inst.Confirmer = opts.Confirmer
	}
	applied, applyErr := inst.Apply(ctx, preview.ChangeSet, reg, s.TargetDir)
	if applied.Registry != nil {
		s.registry = applied.Registry
	}
	if applied.Persisted {
		s.persisted = s.registry.Generation()
	}
	var installErr *installer.InstallError
	if errors.As(applyErr, &installErr) && installErr.Kind == installer.PersistFailed {
		s.needsReconcile = true
		s.savePending(ctx, s.registry)
	}
	s.flushMetrics(ctx)

	result = CommitResult{
		TransactionID:  applied.TransactionID,
		Applied:        applied.Applied,
		Failed:         applied.Failed,
		ConfigOnlyDirs: applied.ConfigOnlyDirs,
		Persisted:      applied.Persisted,
		Generation:     s.registry.Generation(),
	}
	span.SetAttributes(
		attribute.String("modkeeper.transaction", result.TransactionID),
		attribute.Int("modkeeper.applied", len(result.Applied)),
	)
	return result, applyErr
}

// acquire takes the in-process transaction mutex, the directory lock
// and the registry write lock, in that order.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	if !s.txMu.TryLock() {
		return nil, installer.NewLockContention(errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg("another transaction is in progress"))
	}
	var releaseDir func() error
	if s.Lock != nil {
		var err error
		releaseDir, err = s.Lock.TryLock(ctx)
		if err != nil {
			s.txMu.Unlock()
			if errbuilder.CodeOf(err) == errbuilder.CodeAlreadyExists {
				return nil, installer.NewLockContention(err)
			}
			return nil, err
		}
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if releaseDir != nil {
			if err := releaseDir(); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("failed to release target lock")
			}
		}
		s.txMu.Unlock()
	}, nil
}

// savePending records the unsaved registry so a later process reconciles
// against it instead of the stale snapshot.
func (s *Service) savePending(ctx context.Context, reg *core.Registry) {
	if s.Pending == nil {
		return
	}
	if err := s.Pending.SavePending(context.WithoutCancel(ctx), reg.Snapshot()); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to record pending registry snapshot")
	}
}

func (s *Service) flushMetrics(ctx context.Context) {
	if s.Metrics == nil {
		return
	}
	if err := s.Metrics.Flush(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to write metrics")
	}
}
