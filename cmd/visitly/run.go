package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"visitly-go/application"
	"visitly-go/application/interaction"
	"visitly-go/application/session"
	"visitly-go/application/visit"
	"visitly-go/core/eventbus"
	"visitly-go/domain/script"
	"visitly-go/domain/target"
	"visitly-go/infrastructure/browser"
	"visitly-go/infrastructure/config"
	"visitly-go/infrastructure/logging"
	"visitly-go/infrastructure/repository"
	"visitly-go/resources"
)

// runFlagKeys maps run flags to configuration keys.
var runFlagKeys = map[string]string{
	"url-list":       "targets.file",
	"url-shuffle":    "targets.shuffle",
	"script-folder":  "scripts.dir",
	"sleep":          "visit.sleep",
	"max-visit-time": "visit.max_visit_time",
	"loop":           "loop.enabled",
	"loop-sleep":     "loop.sleep",
	"max-retries":    "retry.max_retries",
	"retry-backoff":  "retry.backoff",
	"scroll-chance":  "interaction.chance",
	"scroll-min":     "interaction.min_interval",
	"scroll-max":     "interaction.max_interval",
	"mute":           "browser.mute",
	"log-file":       "logger.file",
}

func newRunCmd(v *viper.Viper, cfgFile *string, run runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Visit every target in the list",
		Long: `Reads the target list, visits each target that has a script in the
script folder, and injects the script after the page is ready.

Durations given as bare numbers are seconds.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for name, key := range runFlagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
			if cmd.Flags().Changed("show-browser") {
				show, _ := cmd.Flags().GetBool("show-browser")
				v.Set("browser.headless", !show)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("url-list", "urls.txt", "file with one target per line")
	flags.Bool("url-shuffle", false, "shuffle the target list on every pass")
	flags.String("script-folder", "scripts", "folder holding one subfolder of scripts per domain")
	flags.Float64("sleep", 300, "seconds to stay on each page after injection")
	flags.Float64("max-visit-time", 300, "upper bound in seconds for page load and the stay")
	flags.Bool("loop", false, "repeat passes until interrupted")
	flags.Float64("loop-sleep", 60, "seconds to wait between passes")
	flags.Int("max-retries", 2, "extra attempts per target after a browser failure")
	flags.Float64("retry-backoff", 3, "seconds to wait before retrying a target")
	flags.Float64("scroll-chance", 0.1, "probability of a scroll key press per interval")
	flags.Float64("scroll-min", 0.5, "minimum seconds between interactions")
	flags.Float64("scroll-max", 2, "maximum seconds between interactions")
	flags.Bool("mute", false, "mute browser audio")
	flags.Bool("show-browser", false, "show the browser window")
	flags.String("log-file", "visitly.log", "log file path")

	return cmd
}

// runVisits wires the engine together and runs until the target list is
// exhausted or ctx is cancelled.
func runVisits(ctx context.Context, cfg *config.Config) error {
	logger, closeLog, err := logging.Setup(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()

	logger.Info("Starting Visitly", "version", Version, "targets", cfg.Targets.File, "scripts", cfg.Scripts.Dir)

	builder, err := script.NewBuilder(resources.Bootstrap)
	if err != nil {
		return err
	}
	store := script.NewStore(cfg.StoreConfig(), logger)
	simulator := interaction.NewSimulator(cfg.InteractionConfig(), logger)
	visitor := visit.NewVisitor(cfg.VisitConfig(), builder, simulator, resources.Fallback)

	driverConfig := cfg.DriverConfig()
	sessions := session.NewManager(cfg.ManagerConfig(), func() browser.Driver {
		return browser.NewChromeDPDriver(driverConfig)
	}, logger)

	eventBus := eventbus.New(100, logger)
	defer eventBus.Close()

	scheduler := application.NewScheduler(&application.SchedulerConfig{
		Policy:   cfg.RetryPolicy(),
		Targets:  target.NewFileSource(cfg.Targets.File, logger),
		Scripts:  store,
		Sessions: sessions,
		Visitor:  visitor,
		EventBus: eventBus,
		Logger:   logger,
	})
	application.NewEventLogger(logger).Attach(eventBus, scheduler.RunID())

	if cfg.History.Enabled {
		closeHistory := attachHistory(ctx, cfg, eventBus, scheduler.RunID(), logger)
		defer closeHistory()
	}

	err = scheduler.Run(ctx)
	// Drain pending events before the history store closes.
	eventBus.Close()
	if errors.Is(err, context.Canceled) {
		logger.Info("Run interrupted")
		return nil
	}
	if err != nil {
		logger.Error("Run failed", "error", err)
		return err
	}
	logger.Info("Run complete")
	return nil
}

// attachHistory connects the history store and subscribes a recorder to the
// run. An unreachable store only disables history.
func attachHistory(ctx context.Context, cfg *config.Config, bus eventbus.EventBus, runID string, logger *slog.Logger) func() {
	mongoDB, err := repository.NewMongoDB(ctx, cfg.MongoDBConfig(), logger)
	if err != nil {
		logger.Warn("History disabled", "error", err)
		return func() {}
	}

	repo := repository.NewMongoVisitRepository(mongoDB, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure history indexes", "error", err)
	}
	application.NewHistoryRecorder(repo, logger).Attach(bus, runID)

	return func() {
		if err := mongoDB.Close(context.Background()); err != nil {
			logger.Warn("Failed to close history store", "error", err)
		}
	}
}
