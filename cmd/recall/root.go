package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entrhq/recall/pkg/backup"
	"github.com/entrhq/recall/pkg/config"
	"github.com/entrhq/recall/pkg/store"
)

var (
	flagConfig  string
	flagDB      string
	flagModel   string
	flagBaseURL string
	flagAPIKey  string
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Persistent memory for AI coding assistants",
	Long: `recall records what an AI coding assistant actually did: every tool
call lands in a local SQLite database, a background pipeline classifies the
work and extracts durable observations via an LLM, and content-hashed JSONL
backups let several machines merge their history without duplicates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.recall/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database file (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "LLM model override")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "LLM base URL override")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "LLM API key override")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// recallDir is where everything non-database lives: config, logs, machine
// identity, schedule definitions, default backup target.
func recallDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".recall"), nil
}

func initConfig() error {
	path := flagConfig
	if path == "" {
		dir, err := recallDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.json")
	}
	return config.Initialize(path)
}

// openStore loads configuration and opens the database with machine
// identity and the configured capture filter attached.
func openStore() (*store.Store, error) {
	if err := initConfig(); err != nil {
		return nil, err
	}

	dbPath := flagDB
	if dbPath == "" {
		p, err := config.GetStorage().ResolveDatabasePath()
		if err != nil {
			return nil, err
		}
		dbPath = p
	}

	dir, err := recallDir()
	if err != nil {
		return nil, err
	}
	machineID, err := backup.MachineID(dir)
	if err != nil {
		return nil, err
	}

	storage := config.GetStorage()
	return store.Open(dbPath,
		store.WithMachineID(machineID),
		store.WithMaxReadRows(storage.GetMaxReadRows()),
		store.WithActivityFlushSize(storage.GetActivityFlushSize()),
		store.WithCaptureFilter(config.GetCapture().ShouldCapture),
	)
}
