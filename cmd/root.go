package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/app"
	"github.com/JakeFAU/host-inventory/internal/config"
	"github.com/JakeFAU/host-inventory/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the unit commands need from the application container.
// Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, unit app.Unit, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, unit, logger)
}

// newLogger builds the process logger; tests swap it for a no-op logger.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "hostinv",
		Short: "Collects host records from security tools into one inventory.",
		Long: `hostinv polls host inventory APIs page by page, normalizes every record
into a common host document and merges documents that share a hostname.

Run "hostinv fetch" and "hostinv normalize" as separate processes connected by
NATS or Pub/Sub, or "hostinv run" to do both in one process.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development, cmd.Name())
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, app.Unit(cmd.Name()), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			closeApp(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hostinv.yaml)")

	cmd.AddCommand(newUnitCmd(app.UnitFetch,
		"Polls every configured source and publishes raw records",
		`Starts one poll loop per source. Records are tagged with their source name
and published on the configured transport (nats or pubsub).`))
	cmd.AddCommand(newUnitCmd(app.UnitNormalize,
		"Normalizes raw records and merges them into the host store",
		`Consumes the transport channel, maps each record with the mapper
registered for its source and upserts the result by hostname.`))
	cmd.AddCommand(newUnitCmd(app.UnitRun,
		"Runs fetch and normalize in one process",
		`Runs both pipeline units connected by the configured transport. With the
memory transport the units share an in-process bounded channel.`))

	return cmd
}

func newUnitCmd(unit app.Unit, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   string(unit),
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				// Cobra skips PersistentPostRun when RunE fails.
				closeApp(cmd.Context())
				return fmt.Errorf("run %s: %w", unit, err)
			}
			zap.L().Info("unit finished", zap.String("unit", string(unit)))
			return nil
		},
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func closeApp(ctx context.Context) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appInstance.Close(closeCtx); err != nil {
		zap.L().Warn("application close failed", zap.Error(err))
	}
	_ = zap.L().Sync() //nolint:errcheck // stderr sync fails on some terminals
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
