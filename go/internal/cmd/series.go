package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mcdev12/pointing/go/internal/config"
	"github.com/mcdev12/pointing/go/internal/models"
)

func newSeriesCommand(rootOpts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "series",
		Short: "List the estimation series rooms can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return printSeries(cmd.OutOrStdout(), cfg, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")
	return cmd
}

func printSeries(w io.Writer, cfg config.Config, format string) error {
	registry, err := cfg.SeriesRegistry()
	if err != nil {
		return err
	}
	series := registry.List()

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(series)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tVALUES")
		for _, s := range series {
			marker := ""
			if s.Key == cfg.DefaultSeries {
				marker = " (default)"
			}
			fmt.Fprintf(tw, "%s%s\t%s\t%s\n", s.Key, marker, s.Name, formatValues(s.Values))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("invalid format %q: must be json or text", format)
	}
}

func formatValues(values []models.Estimate) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}
