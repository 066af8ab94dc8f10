// Package main is the kioku CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const localConfigName = "kioku.yaml"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "kioku",
		Short:        "Local vector memory: store text, find similar text",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file path (default: ./kioku.yaml, then ~/.kioku/config.yaml)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(g),
		newAddCmd(g),
		newSearchCmd(g),
		newGetCmd(g),
		newDeleteCmd(g),
		newGroupCmd(g),
		newClearCmd(g),
		newScanCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. With no path it tries kioku.yaml in the
// current directory, then ~/.kioku/config.yaml, and finally falls back to
// defaults. Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, localConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".kioku", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			cfg, err := config.Load(c)
			if err != nil {
				return nil, "", err
			}
			return cfg, c, nil
		}
	}
	return config.Default(), "", nil
}

// runtime bundles what a command needs after config and engine setup.
type runtime struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	engine     *memory.Engine
	format     cli.OutputFormat
	debug      bool
}

func (rt *runtime) Close() {
	if rt.engine != nil {
		_ = rt.engine.Close()
	}
	_ = rt.logger.Sync()
}

// setup loads config, builds the logger and an initialized engine.
func setup(ctx context.Context, g *globalFlags) (*runtime, error) {
	format, err := cli.ParseOutputFormat(g.output)
	if err != nil {
		return nil, err
	}
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.String("base_path", cfg.Storage.BasePath))

	engine, err := newEngine(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	if err := engine.Initialize(ctx); err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &runtime{cfg: cfg, configPath: path, logger: logger, engine: engine, format: format, debug: debug}, nil
}

// newEngine builds the memory engine with the configured embedder.
func newEngine(cfg *config.Config, logger *zap.Logger) (*memory.Engine, error) {
	model := embedding.NewTFIDF()
	embedder, err := newEmbedder(cfg.Embedding, model, logger)
	if err != nil {
		return nil, err
	}
	return memory.New(cfg.Storage.BasePath,
		memory.WithLogger(logger),
		memory.WithModel(model),
		memory.WithEmbedder(embedder),
		memory.WithQueryUpdatesModel(cfg.Embedding.QueryUpdatesModelOrDefault()),
	), nil
}

func newEmbedder(cfg config.EmbeddingConfig, model *embedding.TFIDF, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "", config.ProviderTFIDF:
		return model, nil
	case config.ProviderRemote:
		r := cfg.Remote
		return embedding.NewRemoteEmbedder(embedding.RemoteConfig{
			BaseURL:           r.BaseURL,
			APIKey:            r.APIKey,
			Model:             r.Model,
			RequestsPerMinute: r.RequestsPerMinute,
			CacheSize:         r.CacheSize,
			MaxInputChars:     r.MaxInputChars,
			Timeout:           r.Timeout,
		}, model, embedding.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
