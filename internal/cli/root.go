// Package cli is the gym command-line interface: training loop, hill
// climber, test generator, archivist, trajectory inspection, and the HUD.
package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openagents/gym/internal/chat"
	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/fmbridge"
	"github.com/openagents/gym/internal/logging"
	"github.com/openagents/gym/internal/telemetry"
	"github.com/openagents/gym/internal/workspace"
)

var (
	flagWorkspace string
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	cfg    *config.Config
	ws     *workspace.Workspace
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gym",
	Short: "Self-improving agent harness for on-device models",
	Long: `Gym trains a small on-device model against a fixed benchmark suite:
it climbs per-task configurations, generates test suites, mines finished
trajectories into skills, and drives the progressive TB_10 to TB_89
training loop. State lives under the .openagents workspace.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace root (default: nearest .openagents)")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default: gym.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: console|json|auto")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(climbCmd)
	rootCmd.AddCommand(testgenCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(trajectoryCmd)
	rootCmd.AddCommand(hudCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads .env files, the config, the logger, and resolves the workspace.
// Runs before every command.
func setup(_ *cobra.Command, _ []string) error {
	loadEnvFiles()

	var err error
	cfg, err = config.LoadOrDefault(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}
	logger = logging.Global(cfg.Logging)

	wsPath := flagWorkspace
	if wsPath == "" {
		wsPath = cfg.Workspace
	}
	ws, err = workspace.Resolve(wsPath)
	return err
}

// loadEnvFiles loads ~/.config/openagents/.env first, then the local .env.
// Variables already set in the environment win.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		globalEnv := filepath.Join(homeDir, ".config", "openagents", ".env")
		if _, err := os.Stat(globalEnv); err == nil {
			_ = godotenv.Load(globalEnv)
		}
	}
	_ = godotenv.Load()
}

// signalContext cancels on SIGINT/SIGTERM so loops checkpoint and exit
// cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// newFMClient builds the bridge client from config.
func newFMClient() *fmbridge.Client {
	return fmbridge.NewClient(fmbridge.Options{
		BaseURL:        cfg.FM.BaseURL,
		RequestTimeout: cfg.FM.RequestTimeout,
		CharBudget:     cfg.FM.CharBudget,
	}, logger)
}

// buildRegistry assembles the provider registry from config. Providers that
// cannot initialize (bedrock without AWS credentials) are skipped with a
// debug log; the fm provider is always registered.
func buildRegistry(ctx context.Context, metrics *telemetry.Metrics) *chat.Registry {
	reg := chat.NewRegistry(cfg.Chat.DefaultProvider, metrics, logger)
	retry := chat.Policy{
		MaxAttempts: cfg.Chat.Retry.MaxAttempts,
		BaseDelay:   cfg.Chat.Retry.BaseDelay,
		Jitter:      cfg.Chat.Retry.Jitter,
	}

	if pc, ok := cfg.Chat.Providers["openai"]; ok {
		reg.Register(chat.NewOpenAIClient(chat.OpenAIOptions{
			BaseURL: pc.BaseURL,
			APIKey:  os.Getenv(pc.APIKeyEnv),
			Model:   pc.Model,
			Timeout: pc.Timeout,
			Retry:   retry,
		}, logger))
	}
	if pc, ok := cfg.Chat.Providers["anthropic"]; ok {
		reg.Register(chat.NewAnthropicClient(chat.AnthropicOptions{
			BaseURL: pc.BaseURL,
			APIKey:  os.Getenv(pc.APIKeyEnv),
			Model:   pc.Model,
			Timeout: pc.Timeout,
			Retry:   retry,
		}, logger))
	}
	if pc, ok := cfg.Chat.Providers["openrouter"]; ok {
		reg.Register(chat.NewOpenRouterClient(os.Getenv(pc.APIKeyEnv), pc.Model, pc.Timeout, retry, nil, logger))
	}
	if pc, ok := cfg.Chat.Providers["ollama"]; ok {
		reg.Register(chat.NewOllamaClient(pc.BaseURL, pc.Model, pc.Timeout, retry, logger))
	}
	if pc, ok := cfg.Chat.Providers["bedrock"]; ok {
		if bc, err := chat.NewBedrockClient(ctx, pc.Region, pc.Model, pc.Timeout, retry, logger); err == nil {
			reg.Register(bc)
		} else {
			logger.Debug().Err(err).Msg("bedrock provider unavailable")
		}
	}
	reg.Register(newFMClient())
	return reg
}
