package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oxbowlabs/steward/internal/classify"
	serverrun "github.com/oxbowlabs/steward/internal/cmd/server"
	cfgpkg "github.com/oxbowlabs/steward/internal/config"
	pebblestore "github.com/oxbowlabs/steward/internal/storage/pebble"
	"github.com/oxbowlabs/steward/internal/tracker"
	logpkg "github.com/oxbowlabs/steward/pkg/log"
)

func main() {
	level := os.Getenv("STEWARD_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Work dispatch and SLA coordinator",
		Long:  "Steward treats an external issue tracker as a durable work queue: it classifies open items into role and priority, dispatches them to workers under concurrency limits, enforces SLA deadlines, and retries or escalates failures.",
	}

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newClassifyCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	return cfg, nil
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}

	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the coordinator and ops HTTP server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if logLevel != "" {
				_ = os.Setenv("STEWARD_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("STEWARD_LOG_FORMAT", logFormat)
			}
			if pollInterval > 0 {
				cfg.PollInterval = cfgpkg.Duration(pollInterval)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	startCmd.Flags().String("config", os.Getenv("STEWARD_CONFIG"), "Path to config file (JSON or YAML)")
	startCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	startCmd.Flags().String("http", ":8080", "Ops HTTP listen address")
	startCmd.Flags().String("fsync", "always", "Journal fsync mode: always|interval|never")
	startCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	startCmd.Flags().String("log-level", os.Getenv("STEWARD_LOG_LEVEL"), "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", os.Getenv("STEWARD_LOG_FORMAT"), "Log format: text|json")
	startCmd.Flags().Duration("poll-interval", 0, "Override tracker poll interval")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Configuration operations"}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and its classification rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// Compiling the classifier surfaces bad expression rules.
			if _, err := classify.New(&cfg); err != nil {
				return err
			}
			fmt.Printf("ok: %d roles, %d label rules, %d expr rules\n",
				len(cfg.ConcurrencyPerRole), len(cfg.LabelToRoleMap), len(cfg.ExprRules))
			return nil
		},
	}
	checkCmd.Flags().String("config", os.Getenv("STEWARD_CONFIG"), "Path to config file (JSON or YAML)")
	configCmd.AddCommand(checkCmd)
	return configCmd
}

func newClassifyCommand() *cobra.Command {
	classifyCmd := &cobra.Command{
		Use:   "classify",
		Short: "Run the classification rules against a sample item",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cl, err := classify.New(&cfg)
			if err != nil {
				return err
			}

			id, _ := cmd.Flags().GetString("id")
			title, _ := cmd.Flags().GetString("title")
			body, _ := cmd.Flags().GetString("body")
			labels, _ := cmd.Flags().GetString("labels")

			item := tracker.RawItem{ID: id, Title: title, Body: body}
			if labels != "" {
				item.Labels = strings.Split(labels, ",")
			}
			target, err := cl.Classify(item)
			if err != nil {
				fmt.Println("unclassifiable: would park in dead-letter bucket")
				return nil
			}
			fmt.Printf("role=%s priority=%s\n", target.Role, target.Priority)
			return nil
		},
	}
	classifyCmd.Flags().String("config", os.Getenv("STEWARD_CONFIG"), "Path to config file (JSON or YAML)")
	classifyCmd.Flags().String("id", "sample-1", "Item id")
	classifyCmd.Flags().String("title", "", "Item title")
	classifyCmd.Flags().String("body", "", "Item body")
	classifyCmd.Flags().String("labels", "", "Comma-separated labels")
	return classifyCmd
}
