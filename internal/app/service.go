package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"modkeeper/internal/adapters"
	"modkeeper/internal/core"
	"modkeeper/internal/installer"
	"modkeeper/internal/ports"
)

type Config struct {
	TargetDir   string
	CatalogPath string
	// RegistryPath defaults to .modkeeper-registry.yaml inside the target
	// directory.
	RegistryPath string
	// CacheDir defaults to .modkeeper-cache inside the target directory.
	CacheDir    string
	HostVersion string

	FetchTimeoutSec   int
	FetchRetries      int
	FetchRetryDelayMs int
	FetchWorkers      int

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	MetricsFile string
}

// Service is the entry point for presentation layers. Previews run
// concurrently against an immutable registry; commits and reconciles are
// exclusive.
type Service struct {
	Catalog ports.CatalogPort
	Store   ports.RegistryStorePort
	// Pending holds a snapshot the store failed to save until a
	// reconcile merges it.
	Pending   ports.PendingSnapshotPort
	Lock      ports.DirLockPort
	Metrics   ports.InstallMetricsPort
	Installer *installer.Installer
	TargetDir string
	// HostVersion overrides the host version stored in the snapshot.
	HostVersion string
	Clock       func() time.Time
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	mu       sync.RWMutex
	txMu     sync.Mutex
	registry *core.Registry
	// persisted is the generation of the snapshot last read from or
	// written to the store.
	persisted      int64
	needsReconcile bool
}

func NewService(cfg Config) *Service {
	targetDir := strings.TrimSpace(cfg.TargetDir)
	registryPath := strings.TrimSpace(cfg.RegistryPath)
	if registryPath == "" && targetDir != "" {
		registryPath = filepath.Join(targetDir, ".modkeeper-registry.yaml")
	}
	cacheDir := strings.TrimSpace(cfg.CacheDir)
	if cacheDir == "" && targetDir != "" {
		cacheDir = filepath.Join(targetDir, ".modkeeper-cache")
	}

	metrics := adapters.NewPrometheusMetricsAdapter(cfg.MetricsFile)
	router := adapters.NewFetcherRouter(
		adapters.NewHTTPFetcherAdapter(cfg.FetchTimeoutSec, cfg.FetchRetries, cfg.FetchRetryDelayMs),
		adapters.NewS3FetcherAdapter(cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.FetchTimeoutSec),
		adapters.NewFileFetcherAdapter(catalogBaseDir(cfg.CatalogPath)),
	)
	store := adapters.NewRegistryFileAdapter(registryPath)
	return &Service{
		Catalog: adapters.NewCatalogFileAdapter(cfg.CatalogPath),
		Store:   store,
		Pending: adapters.NewPendingSnapshotFileAdapter(pendingSnapshotPath(targetDir)),
		Lock:    adapters.NewDirLockAdapter(targetDir),
		Metrics: metrics,
		Installer: &installer.Installer{
			Cache:        adapters.NewArchiveCacheDirAdapter(cacheDir),
			Fetcher:      router,
			Store:        store,
			Metrics:      metrics,
			Workers:      cfg.FetchWorkers,
			FetchTimeout: time.Duration(cfg.FetchTimeoutSec) * time.Second,
			SourceOf:     router.Source,
		},
		TargetDir:   targetDir,
		HostVersion: strings.TrimSpace(cfg.HostVersion),
		Clock:       time.Now,
	}
}

// Load reads the catalog and the persisted snapshot and builds the
// registry. It replaces any registry loaded before.
func (s *Service) Load(ctx context.Context) error {
	if s.Catalog == nil || s.Store == nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("catalog and registry store are required")
	}
	catalog, err := s.Catalog.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	snapshot, err := s.Store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	pending, err := s.hasPending(ctx)
	if err != nil {
		return err
	}
	reg, err := core.NewRegistry(catalog, snapshot)
	if err != nil {
		return err
	}
	if s.HostVersion != "" {
		reg = reg.WithHostVersion(s.HostVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = reg
	s.persisted = snapshot.Generation
	s.needsReconcile = pending
	log.Ctx(ctx).Debug().
		Int("available", len(reg.AvailableIDs())).
		Int("installed", len(reg.InstalledIDs())).
		Int64("generation", reg.Generation()).
		Bool("pending", pending).
		Msg("registry loaded")
	return nil
}

// Registry returns the current registry.
func (s *Service) Registry() *core.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// NeedsReconcile reports whether a failed persist, in this process or an
// earlier one, left the snapshot behind the filesystem.
func (s *Service) NeedsReconcile() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.needsReconcile
}

func (s *Service) loaded() (*core.Registry, error) {
	if s.registry == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("registry is not loaded")
	}
	return s.registry, nil
}

func (s *Service) hasPending(ctx context.Context) (bool, error) {
	if s.Pending == nil {
		return false, nil
	}
	_, ok, err := s.Pending.LoadPending(ctx)
	return ok, err
}

// checkTarget rereads the persisted state under the directory lock. It
// fails when a snapshot awaits a reconcile or when another process saved
// the registry since this service last read it.
func (s *Service) checkTarget(ctx context.Context) error {
	pending, err := s.hasPending(ctx)
	if err != nil {
		return err
	}
	if pending {
		s.needsReconcile = true
	}
	if s.needsReconcile {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("registry snapshot is out of date after a failed persist; reconcile first")
	}
	return s.checkPersisted(ctx)
}

func (s *Service) checkPersisted(ctx context.Context) error {
	snapshot, err := s.Store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	if snapshot.Generation != s.persisted {
		return errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("registry was saved by another process: generation %d on disk, %d loaded; reload and retry", snapshot.Generation, s.persisted))
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func pendingSnapshotPath(targetDir string) string {
	if targetDir == "" {
		return ""
	}
	return filepath.Join(targetDir, installer.TransactionDir, adapters.PendingSnapshotName)
}

// catalogBaseDir is the directory relative download paths resolve
// against: the catalog directory itself, or the directory of the file.
func catalogBaseDir(catalogPath string) string {
	catalogPath = strings.TrimSpace(catalogPath)
	if catalogPath == "" {
		return ""
	}
	if info, err := os.Stat(catalogPath); err == nil && info.IsDir() {
		return catalogPath
	}
	return filepath.Dir(catalogPath)
}
