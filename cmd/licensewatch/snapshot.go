package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/licensewatch/internal/config"
	"github.com/goodtune/licensewatch/internal/snapshot"
)

var snapshotJSON bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [DIR]",
	Short: "Print the change-detection snapshot of a directory",
	Long: `Print the name, size and modification time of every regular file in the
watch directory (or DIR), which is what the watcher compares to detect changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Print the snapshot as JSON")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		dir = cfg.Watch.Dir
	}

	snap, err := snapshot.Capture(dir)
	if err != nil {
		return err
	}

	if snapshotJSON {
		return writeJSON(cmd.OutOrStdout(), snap)
	}
	return writeSnapshot(cmd.OutOrStdout(), snap)
}

func writeSnapshot(w io.Writer, snap snapshot.Snapshot) error {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	cyan := color.New(color.FgCyan, color.Bold)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = cyan.Fprintln(tw, "FILE\tSIZE\tMODIFIED")
	for _, name := range names {
		state := snap[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", name, state.Size, state.ModTime.Format(time.RFC3339))
	}
	return tw.Flush()
}
