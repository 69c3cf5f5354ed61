package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/recall/pkg/config"
	"github.com/entrhq/recall/pkg/processor"
	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
	"github.com/entrhq/recall/pkg/vector"
)

// defaultModel is used when neither flags, environment, nor config name one.
// Background classification and extraction are high-volume, low-difficulty
// calls; a small hosted model is the right default.
const defaultModel = "gpt-4o-mini"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background processing daemon",
	Long: `serve opens the database, syncs schedule definitions, and runs the
background cycle on its configured cadence until interrupted: crash
recovery, stale-session pruning, LLM classification and extraction, and
vector index feeding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			fmt.Println("\nShutting down...")
			cancel()
		}()

		if err := syncSchedules(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: schedule sync failed: %v\n", err)
		}

		proc, err := buildProcessor(st)
		if err != nil {
			return err
		}

		fmt.Printf("recall v%s serving, database %s\n", version, st.Path())
		proc.Run(ctx)
		return nil
	},
}

// buildProcessor assembles the pipeline from configuration. A missing LLM
// is not fatal: the processor falls back to heuristic classification and
// deterministic titles, and extraction waits until one is configured.
func buildProcessor(st *store.Store) (*processor.Processor, error) {
	llmCfg := config.GetLLM()
	opts := []processor.Option{
		processor.WithProcessingConfig(config.GetProcessing()),
		processor.WithLLMConfig(llmCfg),
	}

	summarizer, err := config.BuildSummarizer(flagModel, flagBaseURL, flagAPIKey, defaultModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: running without an LLM: %v\n", err)
	} else {
		opts = append(opts, processor.WithSummarizer(summarizer))
		if model := llmCfg.GetClassificationModel(); model != "" {
			opts = append(opts, processor.WithClassifier(summarizer.CloneWithModel(model)))
		}
	}

	vec := config.GetVector()
	opts = append(opts, processor.WithIndex(vector.New(vec.GetBaseURL(), vec.Timeout())))

	return processor.New(st, opts...)
}

// scheduleFile is the shape of ~/.recall/schedules.yaml.
type scheduleFile struct {
	Schedules []scheduleDef `yaml:"schedules"`
}

type scheduleDef struct {
	Name     string `yaml:"name"`
	Task     string `yaml:"task"`
	Interval string `yaml:"interval"`
	Enabled  *bool  `yaml:"enabled"`
}

// syncSchedules reconciles the schedules table with the definitions file.
// No file means no managed schedules; definitions dropped from the file are
// disabled, not deleted, so their run history survives.
func syncSchedules(ctx context.Context, st *store.Store) error {
	dir, err := recallDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "schedules.yaml")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	defs := make([]*types.Schedule, 0, len(file.Schedules))
	for _, def := range file.Schedules {
		interval, err := time.ParseDuration(def.Interval)
		if err != nil {
			return fmt.Errorf("schedule %q: bad interval %q: %w", def.Name, def.Interval, err)
		}
		defs = append(defs, &types.Schedule{
			Name:            def.Name,
			Task:            def.Task,
			IntervalSeconds: int(interval / time.Second),
			Enabled:         def.Enabled == nil || *def.Enabled,
		})
	}
	if len(defs) == 0 {
		return nil
	}
	return st.SyncSchedules(ctx, defs)
}
