package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"patchpack/internal/watch"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <before> <after>",
		Short: "Rebuild a container whenever either tree changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			debounce, _ := cmd.Flags().GetDuration("debounce")

			opts, err := encodeOptions()
			if err != nil {
				return err
			}
			b := newBuilder()

			rebuild := func(ctx context.Context) error {
				err := buildOnce(ctx, b, args[0], args[1], output, opts)
				var exit *exitError
				if errors.As(err, &exit) {
					// Partial builds still wrote a container
					logger.Sugar().Warn(exit.msg)
					return nil
				}
				return err
			}

			if err := rebuild(cmd.Context()); err != nil {
				return err
			}

			ignore := append(append([]string{}, cfg.Ignore...), ignoreFlags...)
			if abs, err := filepath.Abs(output); err == nil {
				ignore = append(ignore, filepath.Base(abs), ".patchpack-*")
			}

			w, err := watch.New(rebuild,
				watch.WithDebounce(debounce),
				watch.WithIgnore(ignore...),
				watch.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			for _, root := range args {
				if err := w.Add(root); err != nil {
					w.Close()
					return fmt.Errorf("watching %s: %w", root, err)
				}
			}

			fmt.Printf("Watching %s and %s, press Ctrl-C to stop\n", args[0], args[1])
			return w.Run(cmd.Context())
		},
	}
	addEncodeFlags(cmd)
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before rebuilding")
	return cmd
}
