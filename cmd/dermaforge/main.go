package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lamim/dermaforge/internal/checkpoint"
	"github.com/lamim/dermaforge/internal/config"
	"github.com/lamim/dermaforge/internal/dataset"
	"github.com/lamim/dermaforge/internal/engine"
	"github.com/lamim/dermaforge/internal/metrics"
	"github.com/lamim/dermaforge/internal/nn"
	"github.com/lamim/dermaforge/internal/serve"
	"github.com/lamim/dermaforge/internal/trainer"
	"github.com/lamim/dermaforge/internal/writer"
	"github.com/lamim/dermaforge/pkg/models"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	runName    string
	serveAddr  string
	initOutput string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dermaforge",
		Short: "dermaforge - skin lesion classifier training and serving",
		Long: `dermaforge trains a skin-lesion image classifier in two phases
(frozen backbone, then full fine-tuning) with resumable checkpoints and
early stopping, and serves the best checkpoint over HTTP.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier",
		Long: `Train the classifier. Startup picks the first that applies:
1. LAST exists: resume the interrupted run at the next epoch
2. BEST exists: warm-start fine-tuning from the best weights
3. Otherwise: start fresh with a frozen backbone`,
		RunE: runTraining,
	}
	trainCmd.Flags().StringVar(&runName, "run", "", "Reuse an existing run directory (e.g. run_2026-01-02T15-04-05)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions from the best checkpoint",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides serve.listen_addr)")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE:  runInit,
	}
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.toml", "Where to write the configuration")

	historyCmd := &cobra.Command{
		Use:   "history <run-dir>",
		Short: "Print the epoch history of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  showHistory,
	}

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(newCheckpointCmd())
	rootCmd.AddCommand(newPublishCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadConfig reads the env file, when present, before the configuration
func loadConfig() (*config.Config, *config.Secrets, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, secrets, nil
}

func normalization(d config.DataConfig) dataset.Normalization {
	var n dataset.Normalization
	copy(n.Mean[:], d.NormMean)
	copy(n.Std[:], d.NormStd)
	return n
}

func runTraining(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	sessionMgr, err := writer.NewSessionManager(slog.Default(), cfg.Output.Dir, runName)
	if err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel())
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()
	sessionMgr.SetLogger(logger)

	logger.Info("dermaforge starting",
		"version", Version,
		"config", configPath,
		"run_dir", sessionMgr.GetRunDir())

	if err := sessionMgr.BackupConfig(configPath); err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.Open(cfg.Checkpoint, secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	ds, err := dataset.Load(ctx, dataset.Options{
		Dir:        cfg.Data.Dir,
		ImageSize:  cfg.Data.ImageSize,
		NumWorkers: cfg.Data.NumWorkers,
		Norm:       normalization(cfg.Data),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	classMap := ds.ClassIndexMap()

	model, err := nn.NewClassifier(nn.ClassifierConfig{
		InFeatures:   3 * cfg.Data.ImageSize * cfg.Data.ImageSize,
		HiddenDim:    cfg.Model.HiddenDim,
		EmbeddingDim: cfg.Model.EmbeddingDim,
		NumClasses:   len(classMap),
		Seed:         cfg.Data.Seed,
	})
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	runner, err := nn.NewRunner(ds.Train, ds.Val, nn.RunnerConfig{
		BatchSize:      cfg.Data.BatchSize,
		Seed:           cfg.Data.Seed,
		HFlipProb:      cfg.Data.HFlipProb,
		LabelSmoothing: cfg.Training.LabelSmoothing,
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	var scaler engine.Scaler
	if cfg.Training.UseAMP {
		scaler = nn.NewLossScaler()
	}

	collector := metrics.NewCollector(logger)
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	history, err := writer.NewHistoryWriter(sessionMgr, logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Error("failed to close history", "error", err)
		}
	}()

	driver, err := trainer.New(trainer.Options{
		Config:        cfg,
		Model:         model,
		Toolkit:       nn.Toolkit{},
		Runner:        runner,
		Scaler:        scaler,
		Store:         store,
		ClassIndexMap: classMap,
		Hyperparameters: &models.Hyperparameters{
			Arch:         cfg.Model.Arch,
			NumClasses:   len(classMap),
			EmbeddingDim: cfg.Model.EmbeddingDim,
			HiddenDim:    cfg.Model.HiddenDim,
			ImageSize:    cfg.Data.ImageSize,
		},
		History:  history,
		Metrics:  collector,
		Progress: os.Stderr,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create trainer: %w", err)
	}

	stats, err := driver.Run(ctx)
	if err != nil {
		var epochErr *trainer.EpochError
		if errors.As(err, &epochErr) {
			logger.Warn("Training interrupted - run train again to resume from LAST",
				"epoch", epochErr.Epoch,
				"stage", epochErr.Stage,
				"last_checkpoint", store.Location(models.SlotLast))
		}
		return fmt.Errorf("training failed: %w", err)
	}

	logger.Info("All done",
		"run_id", stats.RunID,
		"mode", stats.Mode,
		"epochs", stats.EpochsCompleted,
		"early_stopped", stats.EarlyStopped,
		"run_dir", sessionMgr.GetRunDir())
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewLogger(logLevel())

	store, err := checkpoint.Open(cfg.Checkpoint, secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	var watchPath string
	if cfg.Serve.WatchBest {
		if cfg.Checkpoint.Backend == config.BackendFilesystem {
			if err := os.MkdirAll(cfg.Checkpoint.Dir, 0755); err != nil {
				return fmt.Errorf("failed to create checkpoint directory: %w", err)
			}
			watchPath = filepath.Join(cfg.Checkpoint.Dir, cfg.Checkpoint.BestName)
		} else {
			logger.Info("Best checkpoint reloads need the filesystem backend, watching disabled",
				"backend", cfg.Checkpoint.Backend)
		}
	}

	app, err := serve.New(serve.Options{
		Config: cfg.Serve,
		Defaults: serve.PredictorDefaults{
			ImageSize: cfg.Data.ImageSize,
			HiddenDim: cfg.Model.HiddenDim,
			Norm:      normalization(cfg.Data),
		},
		Store:     store,
		WatchPath: watchPath,
		Metrics:   metrics.NewCollector(logger),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.LoadBest(ctx); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	addr := cfg.Serve.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	return app.Run(ctx, addr)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutput); err == nil {
		return fmt.Errorf("%s already exists", initOutput)
	}
	if err := os.WriteFile(initOutput, []byte(config.GetDefaultConfigTemplate()), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", initOutput)
	return nil
}
