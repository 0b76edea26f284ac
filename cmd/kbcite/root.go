package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/cache"
	"github.com/perbu/kbcite/pkg/config"
	"github.com/perbu/kbcite/pkg/embedder"
	"github.com/perbu/kbcite/pkg/kbcite"
	"github.com/perbu/kbcite/pkg/loader"
	"github.com/perbu/kbcite/pkg/metrics"
)

// app carries what every subcommand needs once PersistentPreRunE has run.
type app struct {
	v           *viper.Viper
	cfgFile     string
	debug       bool
	metricsFile string

	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:          "kbcite",
		Short:        "kbcite finds knowledge-base documents that support a query",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (e.g., kbcite.yaml)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")
	flags.String("kb-root", "kb", "knowledge base root directory")
	flags.String("cache", cache.DefaultPath, "embedding cache file")
	_ = a.v.BindPFlag(config.KeyKBRoot, flags.Lookup("kb-root"))
	_ = a.v.BindPFlag(config.KeyCachePath, flags.Lookup("cache"))

	root.AddCommand(
		newCiteCmd(a),
		newDocsCmd(a),
		newModesCmd(a),
		newWarmCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	zcfg := zap.NewProductionConfig()
	if a.debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)

	a.logger.Debug("configuration loaded",
		zap.String("config_file", cfg.File),
		zap.String("provider", cfg.Embeddings.Kind),
		zap.String("kb_root", cfg.KBRoot),
		zap.String("cache", cfg.CachePath))
	return nil
}

func (a *app) teardown() error {
	defer func() { _ = a.logger.Sync() }()
	if a.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// engine builds a citation engine over the file cache. Without a usable
// provider the engine runs in keyword mode.
func (a *app) engine() (*kbcite.Engine, *cache.FileStore) {
	store := cache.NewFileStore(a.cfg.CachePath, a.logger, a.metrics)

	var provider kbcite.Embedder
	p, err := embedder.NewProvider(a.cfg.Embeddings, a.logger, a.metrics)
	if err != nil {
		a.logger.Warn("embedding provider unavailable, using keyword matching", zap.Error(err))
	} else {
		provider = p
	}
	return kbcite.NewEngine(provider, store, kbcite.WithLogger(a.logger), kbcite.WithMetrics(a.metrics)), store
}

func (a *app) loader() *loader.Loader {
	return loader.NewDir(a.cfg.KBRoot, a.logger)
}

func addModeFlag(cmd *cobra.Command, mode *string) {
	cmd.Flags().StringVarP(mode, "mode", "m", string(kbcite.ModeOperator), "knowledge base mode (operator, marketing, strategic)")
}
