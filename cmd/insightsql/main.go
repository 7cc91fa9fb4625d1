package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/insightsql-dev/insightsql/pkg/config"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "insightsql",
	Short: "Conversational SQL agent for exploring databases in plain language",
	Long: `InsightSQL connects a language model to a SQL database and answers
natural-language questions by planning, executing, and self-correcting
read-only queries. Answers can be produced in English or Indonesian.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.AddCommand(chatCmd)
}

// loadConfig resolves configuration from .env, the optional config
// file, and the environment.
func loadConfig() (*config.Config, error) {
	// Missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	if cfgFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	log.SetFlags(log.LstdFlags)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
