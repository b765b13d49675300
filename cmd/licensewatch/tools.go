package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/licensewatch/internal/config"
	"github.com/goodtune/licensewatch/internal/storage/memory"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools found in the watch directory",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
	svc, err := newInventory(cfg, memory.New(), logger)
	if err != nil {
		return err
	}

	for _, tool := range svc.AvailableTools() {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), tool)
	}
	return nil
}
