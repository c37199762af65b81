package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacehq/lace/pkg/logger"
	"github.com/lacehq/lace/pkg/presenter"
)

func init() {
	viper.SetEnvPrefix("LACE")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.lace")
	viper.AddConfigPath(".")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()

	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("model", "claude-sonnet-4-20250514")
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("cache_strategy", "aggressive")
}

var rootCmd = &cobra.Command{
	Use:   "lace",
	Short: "Lace agent orchestration engine",
	Long:  `Lace runs tool-using AI agents over durable, event-sourced conversation threads.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		if logFile := viper.GetString("log_file"); logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logFile, err)
			}
			logger.SetLogOutput(f)
		}
		return nil
	},
	// Default behavior is the interactive chat session
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatCmd.RunE(cmd, args)
	},
}

func main() {
	rootCmd.PersistentFlags().String("provider", "", "LLM provider to use (anthropic, openai, lmstudio or ollama)")
	rootCmd.PersistentFlags().String("model", "", "LLM model to use (overrides config)")
	rootCmd.PersistentFlags().String("continue", "", "Continue a conversation: bare flag resumes the most recent, --continue=<thread-id> picks one")
	rootCmd.PersistentFlags().Lookup("continue").NoOptDefVal = continueLatest
	rootCmd.PersistentFlags().Bool("no-persist", false, "Keep the conversation in memory only")
	rootCmd.PersistentFlags().Bool("allow-non-destructive-tools", false, "Auto-approve read-only tools")
	rootCmd.PersistentFlags().StringSlice("auto-approve-tools", nil, "Tools to approve without prompting")
	rootCmd.PersistentFlags().StringSlice("disable-tools", nil, "Tools to disable")
	rootCmd.PersistentFlags().Bool("disable-all-tools", false, "Disable every tool")
	rootCmd.PersistentFlags().Bool("disable-tool-guardrails", false, "Skip all approval prompts (dangerous)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("har", "", "Record provider traffic to a HAR file")

	for flag, key := range map[string]string{
		"provider":                    "provider",
		"model":                       "model",
		"continue":                    "continue",
		"no-persist":                  "no_persist",
		"allow-non-destructive-tools": "allow_non_destructive_tools",
		"auto-approve-tools":          "auto_approve_tools",
		"disable-tools":               "disable_tools",
		"disable-all-tools":           "disable_all_tools",
		"disable-tool-guardrails":     "disable_tool_guardrails",
		"log-level":                   "log_level",
		"log-file":                    "log_file",
		"har":                         "har",
	} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
