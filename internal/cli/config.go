package cli

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modkeeper/internal/app"
)

type serviceOptions struct {
	TargetDir         string
	Catalog           string
	Registry          string
	CacheDir          string
	HostVersion       string
	FetchTimeoutSec   int
	FetchRetries      int
	FetchRetryDelayMs int
	FetchWorkers      int
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	MetricsFile       string
}

func bindServiceFlags(cmd *cobra.Command, opts *serviceOptions) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.TargetDir, "target-dir", "", "Directory modules are installed into")
	flags.StringVar(&opts.Catalog, "catalog", "", "Catalog file or directory")
	flags.StringVar(&opts.Registry, "registry", "", "Registry snapshot path (default: inside the target directory)")
	flags.StringVar(&opts.CacheDir, "cache-dir", "", "Archive cache directory (default: inside the target directory)")
	flags.StringVar(&opts.HostVersion, "host-version", "", "Host application version used to filter modules")
	flags.IntVar(&opts.FetchTimeoutSec, "fetch-timeout", 60, "Per-archive download timeout in seconds")
	flags.IntVar(&opts.FetchRetries, "fetch-retries", 3, "Download attempts per archive")
	flags.IntVar(&opts.FetchRetryDelayMs, "fetch-retry-delay-ms", 200, "Initial delay between download attempts")
	flags.IntVar(&opts.FetchWorkers, "fetch-workers", 4, "Parallel archive downloads")
	flags.StringVar(&opts.S3Region, "s3-region", "", "Region of the S3 archive mirror")
	flags.StringVar(&opts.S3Endpoint, "s3-endpoint", "", "Endpoint of an S3-compatible archive mirror")
	flags.StringVar(&opts.S3AccessKey, "s3-access-key", "", "S3 access key (anonymous when empty)")
	flags.StringVar(&opts.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after each commit")

	_ = viper.BindPFlag("target_dir", flags.Lookup("target-dir"))
	_ = viper.BindPFlag("catalog", flags.Lookup("catalog"))
	_ = viper.BindPFlag("registry", flags.Lookup("registry"))
	_ = viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	_ = viper.BindPFlag("host_version", flags.Lookup("host-version"))
	_ = viper.BindPFlag("fetch_timeout_sec", flags.Lookup("fetch-timeout"))
	_ = viper.BindPFlag("fetch_retries", flags.Lookup("fetch-retries"))
	_ = viper.BindPFlag("fetch_retry_delay_ms", flags.Lookup("fetch-retry-delay-ms"))
	_ = viper.BindPFlag("fetch_workers", flags.Lookup("fetch-workers"))
	_ = viper.BindPFlag("s3_region", flags.Lookup("s3-region"))
	_ = viper.BindPFlag("s3_endpoint", flags.Lookup("s3-endpoint"))
	_ = viper.BindPFlag("s3_access_key", flags.Lookup("s3-access-key"))
	_ = viper.BindPFlag("s3_secret_key", flags.Lookup("s3-secret-key"))
	_ = viper.BindPFlag("metrics_file", flags.Lookup("metrics-file"))
}

func serviceConfig(cmd *cobra.Command, opts *serviceOptions) app.Config {
	return app.Config{
		TargetDir:         resolveString(cmd, opts.TargetDir, "target_dir", "target-dir"),
		CatalogPath:       resolveString(cmd, opts.Catalog, "catalog", "catalog"),
		RegistryPath:      resolveString(cmd, opts.Registry, "registry", "registry"),
		CacheDir:          resolveString(cmd, opts.CacheDir, "cache_dir", "cache-dir"),
		HostVersion:       resolveString(cmd, opts.HostVersion, "host_version", "host-version"),
		FetchTimeoutSec:   resolveInt(cmd, opts.FetchTimeoutSec, "fetch_timeout_sec", "fetch-timeout"),
		FetchRetries:      resolveInt(cmd, opts.FetchRetries, "fetch_retries", "fetch-retries"),
		FetchRetryDelayMs: resolveInt(cmd, opts.FetchRetryDelayMs, "fetch_retry_delay_ms", "fetch-retry-delay-ms"),
		FetchWorkers:      resolveInt(cmd, opts.FetchWorkers, "fetch_workers", "fetch-workers"),
		S3Region:          resolveString(cmd, opts.S3Region, "s3_region", "s3-region"),
		S3Endpoint:        resolveString(cmd, opts.S3Endpoint, "s3_endpoint", "s3-endpoint"),
		S3AccessKey:       resolveString(cmd, opts.S3AccessKey, "s3_access_key", "s3-access-key"),
		S3SecretKey:       resolveString(cmd, opts.S3SecretKey, "s3_secret_key", "s3-secret-key"),
		MetricsFile:       resolveString(cmd, opts.MetricsFile, "metrics_file", "metrics-file"),
	}
}

// loadService builds the service from flags and config and loads the
// registry. The returned context carries the global logger.
func loadService(cmd *cobra.Command, opts *serviceOptions) (context.Context, *app.Service, error) {
	ctx := log.Logger.WithContext(cmd.Context())
	service := app.NewService(serviceConfig(cmd, opts))
	if err := service.Load(ctx); err != nil {
		return ctx, nil, err
	}
	if service.NeedsReconcile() && cmd.Name() != "reconcile" {
		log.Ctx(ctx).Warn().Msg("registry is behind the target directory after a failed save; run reconcile")
	}
	return ctx, service, nil
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func resolveInt(cmd *cobra.Command, value int, key string, flagName string) int {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetInt(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
