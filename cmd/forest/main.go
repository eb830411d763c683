package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"forest/internal/breaker"
	"forest/internal/config"
	"forest/internal/embedding"
	"forest/internal/forest"
	"forest/internal/generator"
	"forest/internal/intelligence"
	"forest/internal/logging"
	"forest/internal/selector"
	"forest/internal/store"
)

var (
	// Global flags
	workspace  string
	configPath string
	verbose    bool
	asJSON     bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "forest",
	Short: "forest - hierarchical goal decomposition and task selection",
	Long: `forest turns a goal into a living task tree.

A goal is analyzed for complexity, decomposed into strategic branches
and concrete tasks (via an LLM provider when configured, deterministic
templates otherwise), and persisted locally. From there forest picks
the next task matching your current energy and time, records
completions, and grows finished branches with follow-up work.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			workspace = "."
		}
		if configPath == "" {
			configPath = filepath.Join(workspace, ".forest", "config.yaml")
		}

		var err error
		cfg, err = config.Load(configPath, workspace)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(workspace, level); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.Boot("forest starting: workspace=%s config=%s", workspace, configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// buildOrchestrator wires the full stack from configuration. The
// returned closer must be called before exit.
func buildOrchestrator() (*forest.Orchestrator, func(), error) {
	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	client, err := intelligence.NewClientFromConfig(cfg.LLM, cfg.LLMTimeout())
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if client == nil {
		logging.Boot("no intelligence provider configured; plans will use deterministic templates")
	}

	brk := breaker.New(cfg.Breaker.FailureThreshold, cfg.BreakerCooldown())
	gen := generator.New(client, brk, cfg.BreakerCallTimeout(), cfg.LLM.MaxTokens)
	manager := store.NewDataManager(st, engine, cfg.Store.MirrorRetries, cfg.Store.MirrorWorkers)
	sel := selector.New(manager, cfg.Selector.TopK, cfg.Selector.SimilarityThreshold)

	return forest.New(gen, manager, sel), func() { st.Close() }, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <workspace>/.forest/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "machine-readable output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cmdContext bounds a command well above the per-call provider timeout
// so a full multi-level build cannot hang forever.
func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Minute)
}
