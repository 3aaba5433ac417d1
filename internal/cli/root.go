package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ongoal/internal/config"
	"ongoal/internal/llm_client"
	"ongoal/internal/logger"
	"ongoal/internal/metrics"
	"ongoal/internal/supervisor"
)

var (
	configPath string
	debug      bool
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ongoal",
	Short: "Conversational goal tracking for LLM chats",
	Long: `OnGoal infers the goals a user states in a chat, merges them into a running
goal list and evaluates every assistant reply against that list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}
		if err := logger.Init(cfg.LogFile, cfg.Debug); err != nil {
			return fmt.Errorf("could not initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the yaml config (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSupervisor connects the configured backend. A backend that fails to
// initialize leaves the gateway unavailable; every stage then reports it.
func newSupervisor(cfg config.Config, onRun func(metrics.RunMetrics)) *supervisor.Supervisor {
	provider, err := llm_client.NewProvider(llm_client.Config{
		Backend:    cfg.LLM.Backend,
		Model:      cfg.LLM.Model,
		ChatModel:  cfg.LLM.ChatModel,
		OllamaHost: cfg.LLM.OllamaHost,
		MaxTokens:  cfg.LLM.MaxTokens,
		Timeout:    cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Log.Warnw("LLM backend unavailable", "backend", cfg.LLM.Backend, "error", err)
		fmt.Fprintf(os.Stderr, "warning: %s backend unavailable: %v\n", strings.ToLower(cfg.LLM.Backend), err)
		provider = nil
	}
	opts := supervisor.OptionsFromConfig(cfg)
	opts.OnRun = onRun
	return supervisor.New(llm_client.NewGateway(provider, cfg.LLM.Timeout), opts)
}
