package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"patchpack/client"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <container>",
		Short: "Upload a container to a patchpackd server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, _ := cmd.Flags().GetString("label")
			if label == "" {
				label = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			rel, err := client.New(serverURL).Push(label, data)
			if err != nil {
				return fmt.Errorf("pushing %s: %w", args[0], err)
			}

			fmt.Printf("Pushed %s as %s (%s)\n", args[0], color.CyanString(rel.ID), rel.Digest)
			return nil
		},
	}
	cmd.Flags().StringP("label", "l", "", "release label (default: file name)")
	return cmd
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <release-id>",
		Short: "Download a release's container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = args[0] + ".ppk"
			}

			data, err := client.New(serverURL).Pull(args[0])
			if err != nil {
				return fmt.Errorf("pulling %s: %w", args[0], err)
			}
			if err := writeContainer(output, data); err != nil {
				return err
			}

			fmt.Printf("Wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "container file to write (default <release-id>.ppk)")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List releases stored on a patchpackd server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			releases, err := client.New(serverURL).List()
			if err != nil {
				return err
			}
			if len(releases) == 0 {
				fmt.Println("No releases")
				return nil
			}

			cyan := color.New(color.FgCyan).SprintFunc()
			for _, r := range releases {
				fmt.Printf("%s  %-20s %4d diffs %4d snapshots %10d bytes  %s\n",
					cyan(r.ID), r.Label, r.Diffs, r.Snapshots, r.Size,
					r.CreatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}
