package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"patchpack/internal/apply"
	"patchpack/internal/build"
	"patchpack/internal/compression"
	"patchpack/internal/container"
	"patchpack/internal/patch"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <before> <after>",
		Short: "Build a container of binary deltas between two trees",
		Long: `Pairs files by relative path and records a binary delta for every file that
differs. Files that only exist in <after> are diffed against an empty base.
Files that only exist in <before> are reported but not recorded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			unchanged, _ := cmd.Flags().GetBool("include-unchanged")

			opts, err := encodeOptions()
			if err != nil {
				return err
			}

			b := newBuilder()
			build.WithUnchanged(unchanged)(b)
			return buildOnce(cmd.Context(), b, args[0], args[1], output, opts)
		},
	}
	addEncodeFlags(cmd)
	cmd.Flags().Bool("include-unchanged", false, "record identical files as empty deltas")
	return cmd
}

func buildOnce(ctx context.Context, b *build.Builder, before, after, output string, opts []container.Option) error {
	set, report, err := b.Diff(ctx, before, after)
	if err != nil {
		return err
	}
	printBuildReport(report)

	data, err := container.Encode(set, opts...)
	if err != nil {
		return fmt.Errorf("encoding container: %w", err)
	}
	if err := writeContainer(output, data); err != nil {
		return err
	}

	fmt.Printf("Wrote %s: %d entries, %d bytes\n", output, len(set), len(data))
	if n := len(report.Failures()); n > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d files could not be diffed", n)}
	}
	return nil
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <dir>",
		Short: "Build a container holding full copies of every file in a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			opts, err := encodeOptions()
			if err != nil {
				return err
			}

			set, report, err := newBuilder().Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBuildReport(report)

			data, err := container.Encode(set, opts...)
			if err != nil {
				return fmt.Errorf("encoding container: %w", err)
			}
			if err := writeContainer(output, data); err != nil {
				return err
			}

			fmt.Printf("Wrote %s: %d snapshots, %d bytes\n", output, len(set), len(data))
			if n := len(report.Failures()); n > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d files could not be read", n)}
			}
			return nil
		},
	}
	addEncodeFlags(cmd)
	return cmd
}

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <container> <dest>",
		Short: "Apply a container to a destination tree",
		Long: `Applies every entry of the container under <dest>. Entries that fail are
reported and skipped. Exits 1 when some entries were not applied and 2 when
the container cannot be read at all.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			stream, _ := cmd.Flags().GetBool("stream")

			a := apply.New(
				apply.WithWorkers(workers),
				apply.WithDryRun(dryRun),
				apply.WithLogger(logger),
			)

			var (
				report *apply.Report
				err    error
			)
			if stream {
				f, openErr := os.Open(args[0])
				if openErr != nil {
					return openErr
				}
				defer f.Close()
				report, err = a.ApplyStream(cmd.Context(), f, args[1])
			} else {
				data, readErr := os.ReadFile(args[0])
				if readErr != nil {
					return readErr
				}
				report, err = a.ApplyContainer(cmd.Context(), data, args[1])
			}

			if report != nil {
				printApplyReport(report, dryRun)
			}
			if err != nil {
				if errors.Is(err, container.ErrCorrupt) {
					return &exitError{code: 2, msg: err.Error()}
				}
				return err
			}

			switch report.State() {
			case apply.Empty:
				fmt.Println("Container is empty, nothing to apply")
			case apply.Partial:
				return &exitError{code: 1, msg: fmt.Sprintf("%d of %d entries not applied",
					len(report.Failures()), len(report.Outcomes))}
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "check every entry without writing")
	cmd.Flags().Bool("stream", false, "decode the container while applying instead of loading it whole")
	return cmd
}

func printApplyReport(r *apply.Report, dryRun bool) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, o := range r.Outcomes {
		switch o.Status {
		case apply.StatusApplied:
			fmt.Printf("  %s %-8s %s (%+d bytes)\n", green("✓"), o.Kind, o.Path, o.Delta())
		case apply.StatusRejected:
			fmt.Printf("  %s %-8s %s: %v\n", yellow("✗"), o.Kind, o.Path, o.Err)
		case apply.StatusFailed:
			fmt.Printf("  %s %-8s %s: %v\n", red("✗"), o.Kind, o.Path, o.Err)
		}
	}

	verb := "Applied"
	if dryRun {
		verb = "Would apply"
	}
	fmt.Printf("%s %d/%d entries (%+d bytes)\n", verb, r.Count(apply.StatusApplied), len(r.Outcomes), r.Delta())
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <container>",
		Short: "List the entries of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			alg, decoded, err := decodeFile(data)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			fmt.Printf("%s %s, %s, %d bytes\n", cyan("container"), args[0], alg, len(data))
			for _, e := range decoded.Set {
				fmt.Printf("  %-8s %10d  %s\n", e.Kind, len(e.Payload), e.Path)
			}
			for _, f := range decoded.Failures {
				fmt.Printf("  %s %v\n", red("unreadable"), f)
			}
			fmt.Printf("%d entries, %d payload bytes\n", len(decoded.Set), decoded.Set.Size())
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <container>",
		Short: "Check that every entry of a container is readable and safe to apply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			_, decoded, err := decodeFile(data)
			if err != nil {
				return err
			}

			red := color.New(color.FgRed).SprintFunc()
			problems := len(decoded.Failures)
			for _, f := range decoded.Failures {
				fmt.Printf("  %s %v\n", red("unreadable"), f)
			}

			seen := make(map[string]bool, len(decoded.Set))
			for _, e := range decoded.Set {
				clean, err := patch.CleanPath(e.Path)
				switch {
				case err != nil:
					fmt.Printf("  %s %v\n", red("unsafe"), err)
					problems++
				case seen[clean]:
					fmt.Printf("  %s %s\n", red("duplicate"), clean)
					problems++
				default:
					seen[clean] = true
				}
			}

			if problems > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d problems in %s", problems, args[0])}
			}
			fmt.Printf("%s: %d entries OK\n", args[0], len(decoded.Set))
			return nil
		},
	}
}

// decodeFile maps an unreadable container to exit code 2
func decodeFile(data []byte) (compression.Algorithm, *container.Decoded, error) {
	alg, err := compression.Detect(data)
	if err != nil {
		return "", nil, &exitError{code: 2, msg: fmt.Sprintf("%v: %v", container.ErrCorrupt, err)}
	}
	decoded, err := container.Decode(data)
	if err != nil {
		return "", nil, &exitError{code: 2, msg: err.Error()}
	}
	return alg, decoded, nil
}
