// cmd/patchpack/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"patchpack/internal/build"
	"patchpack/internal/compression"
	"patchpack/internal/config"
	"patchpack/internal/container"
	"patchpack/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()

	configPath  string
	verbose     bool
	workers     int
	codecName   string
	level       int
	serverURL   string
	ignoreFlags []string
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:   "patchpack",
	Short: "Build and apply binary patch containers",
	Long: `patchpack turns the difference between two directory trees into a single
compressed container of binary deltas and full-file snapshots, and applies
such containers to a destination tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		l, err := logging.NewCLI(verbose)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l.Logger

		if !cmd.Flags().Changed("workers") {
			workers = cfg.Workers
		}
		if serverURL == "" {
			serverURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default config/config.$PATCHPACK_ENV.json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	flags.IntVarP(&workers, "workers", "j", 0, "parallel workers (0 = one per CPU)")
	flags.StringVar(&serverURL, "server", "", "patchpackd URL (default from config)")

	rootCmd.AddCommand(
		newBuildCmd(),
		newSnapshotCmd(),
		newApplyCmd(),
		newInspectCmd(),
		newVerifyCmd(),
		newPushCmd(),
		newPullCmd(),
		newListCmd(),
		newWatchCmd(),
	)
}

// addEncodeFlags registers the flags shared by commands that write containers
func addEncodeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&codecName, "compression", "", "container compression: xz or zstd (default from config)")
	cmd.Flags().IntVar(&level, "level", -1, "compression level (default from config)")
	cmd.Flags().StringSliceVar(&ignoreFlags, "ignore", nil, "base-name patterns to skip, e.g. '*.tmp'")
	cmd.Flags().StringP("output", "o", "", "container file to write")
	cmd.MarkFlagRequired("output")
}

func encodeOptions() ([]container.Option, error) {
	opts, err := cfg.CompressionOptions()
	if err != nil {
		return nil, err
	}
	if codecName != "" {
		if opts.Algorithm, err = compression.ParseAlgorithm(codecName); err != nil {
			return nil, err
		}
	}
	if level >= 0 {
		opts.Level = level
	}
	return []container.Option{
		container.WithCompression(opts.Algorithm),
		container.WithLevel(opts.Level),
	}, nil
}

func newBuilder() *build.Builder {
	return build.New(
		build.WithWorkers(workers),
		build.WithIgnore(append(append([]string{}, cfg.Ignore...), ignoreFlags...)...),
		build.WithLogger(logger),
	)
}

// writeContainer replaces path with data through a temporary file so a
// failed write never leaves a truncated container behind.
func writeContainer(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".patchpack-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing container: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func printBuildReport(r *build.Report) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	for _, f := range r.Files {
		switch f.Status {
		case build.StatusAdded:
			fmt.Printf("  %s %s (%d bytes)\n", green("+"), f.Path, f.Size)
		case build.StatusModified:
			fmt.Printf("  %s %s (%d bytes)\n", yellow("~"), f.Path, f.Size)
		case build.StatusRemoved:
			fmt.Printf("  %s %s %s\n", red("-"), f.Path, faint("(removed, not recorded)"))
		case build.StatusFailed:
			fmt.Printf("  %s %s: %v\n", red("!"), f.Path, f.Err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))

		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}
