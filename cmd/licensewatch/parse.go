package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goodtune/licensewatch/internal/config"
	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/storage/memory"
)

var (
	parseOutput  string
	parseTool    string
	parseFeature string
)

var parseCmd = &cobra.Command{
	Use:   "parse [flags] [FILE...]",
	Short: "Parse license status dumps and print the inventory",
	Long: `Parse the given status dump files, or every file of the configured watch
directory when no file is given, and print the resulting features.`,
	Example: `  licensewatch parse ./incoming/synopsys
  licensewatch -c config.yaml parse --output yaml
  licensewatch parse --tool synopsys --feature VCSRuntime_Net`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "table", "Output format: table, json or yaml")
	parseCmd.Flags().StringVar(&parseTool, "tool", "", "Only show this tool (\"all\" for every tool)")
	parseCmd.Flags().StringVar(&parseFeature, "feature", "", "Show the per-user detail of one feature (requires --tool)")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	switch parseOutput {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format: %s (expected table, json or yaml)", parseOutput)
	}
	if parseFeature != "" && parseTool == "" {
		return fmt.Errorf("--feature requires --tool")
	}

	features, err := loadFeatures(cmd.Context(), args, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	features = license.FilterByTool(features, parseTool)

	out := cmd.OutOrStdout()
	if parseFeature != "" {
		for _, f := range features {
			if f.Name == parseFeature {
				return writeDetail(out, license.Detail(f), parseOutput)
			}
		}
		return fmt.Errorf("feature %q not found for tool %q", parseFeature, parseTool)
	}

	return writeFeatures(out, features, parseOutput)
}

// loadFeatures parses the named files, or the configured directory when none are named.
// A file that cannot be read is reported on errOut and contributes no features.
func loadFeatures(ctx context.Context, files []string, errOut io.Writer) ([]license.Feature, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Create a quiet logger for CLI mode
	logger := zerolog.New(errOut).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	if len(files) == 0 {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		svc, err := newInventory(cfg, memory.New(), logger)
		if err != nil {
			return nil, err
		}
		_, features, err := svc.LoadAll(ctx)
		return features, err
	}

	features := []license.Feature{}
	for _, path := range files {
		parsed, err := license.ParseFile(path, strings.ToLower(filepath.Base(path)))
		if err != nil {
			logger.Error().Err(err).Str("file", path).Msg("Skipping unreadable license file")
			continue
		}
		features = append(features, parsed...)
	}
	return features, nil
}

func writeFeatures(w io.Writer, features []license.Feature, format string) error {
	switch format {
	case "json":
		return writeJSON(w, features)
	case "yaml":
		return writeYAML(w, features)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)

	if len(features) == 0 {
		_, _ = yellow.Fprintln(w, "No license features found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = cyan.Fprintln(tw, "TOOL\tFEATURE\tVERSION\tEXPIRY\tISSUED\tIN USE\tAVAILABLE\tUSERS")
	for _, f := range features {
		available := green
		switch {
		case f.Available < 0:
			available = red
		case f.Available == 0:
			available = yellow
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			f.Tool, f.Name, orDash(f.Version), orDash(f.Expiry),
			f.TotalLicenses, f.InUse, available.Sprint(f.Available), strings.Join(f.Users, ","))
	}
	return tw.Flush()
}

func writeDetail(w io.Writer, detail license.FeatureDetail, format string) error {
	switch format {
	case "json":
		return writeJSON(w, detail)
	case "yaml":
		return writeYAML(w, detail)
	}

	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Fprintf(w, "%s (%s)\n", detail.Feature, detail.Tool)
	_, _ = fmt.Fprintf(w, "Version:   %s\n", orDash(detail.Version))
	_, _ = fmt.Fprintf(w, "Expiry:    %s\n", orDash(detail.Expiry))
	_, _ = fmt.Fprintf(w, "Seats:     %d issued, %d in use, %d available\n\n", detail.TotalLicenses, detail.InUse, detail.Available)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = cyan.Fprintln(tw, "USER\tHOST\tPORT\tVERSION\tPID\tSTART\tSESSIONS")
	for _, s := range detail.UserDetails {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			s.Username, s.Host, s.Port, s.Version, s.ProcessID, s.StartTime, s.UsageCount)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML emits v with the same keys as the JSON payload
func writeYAML(w io.Writer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
