package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modkeeper/internal/core"
	"modkeeper/internal/installer"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "MODKEEPER"

type RootConfig struct {
	ConfigFile    string
	LogLevel      string
	TraceEndpoint string

	shutdownTracing func(context.Context) error
}

// Shutdown flushes spans when tracing was set up.
func (c *RootConfig) Shutdown(ctx context.Context) {
	if c.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, tracingShutdownTimeout)
	defer cancel()
	if err := c.shutdownTracing(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to flush traces")
	}
	c.shutdownTracing = nil
}

const tracingShutdownTimeout = 5 * time.Second

func Execute() {
	cfg := &RootConfig{}
	root := newRootCommandWith(cfg)
	err := root.Execute()
	cfg.Shutdown(context.Background())
	if err != nil {
		log.Error().Err(err).Msg(errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&RootConfig{})
}

func newRootCommandWith(cfg *RootConfig) *cobra.Command {
	opts := serviceOptions{}
	cmd := &cobra.Command{
		Use:           "modkeeper",
		Short:         "Resolve and install modules into a target directory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			shutdown, err := setupTracing(cmd.Context(), viper.GetString("trace_endpoint"))
			if err != nil {
				return err
			}
			cfg.shutdownTracing = shutdown
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	cmd.PersistentFlags().StringVar(&cfg.TraceEndpoint, "trace-endpoint", "", "Export traces to this OTLP/HTTP endpoint (e.g. http://localhost:4318)")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("trace_endpoint", cmd.PersistentFlags().Lookup("trace-endpoint"))
	bindServiceFlags(cmd, &opts)

	cmd.AddCommand(newInstallCommand(&opts))
	cmd.AddCommand(newRemoveCommand(&opts))
	cmd.AddCommand(newUpgradeCommand(&opts))
	cmd.AddCommand(newListCommand(&opts))
	cmd.AddCommand(newReconcileCommand(&opts))
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("modkeeper")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/modkeeper")
	// The default config file is optional.
	_ = viper.ReadInConfig()
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func exitCodeForError(err error) int {
	var resolveErr *core.ResolveError
	if errors.As(err, &resolveErr) {
		if resolveErr.Kind == core.ResolveUnsatisfiable {
			return 4
		}
		return 3
	}
	var installErr *installer.InstallError
	if errors.As(err, &installErr) {
		switch installErr.Kind {
		case installer.ExtractFailed:
			return 7
		case installer.PersistFailed:
			return 5
		default:
			if installErr.Retryable {
				return 6
			}
			return 1
		}
	}

	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists, errbuilder.CodeNotFound:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 3
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
