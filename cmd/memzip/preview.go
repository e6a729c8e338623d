package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/spf13/cobra"
)

var (
	previewFlags pipelineFlags
	previewJSON  bool
)

var previewCmd = &cobra.Command{
	Use:   "preview <export.html>",
	Short: "List the memories of an export without downloading them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, err := newExtractor(&previewFlags)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open export: %w", err)
		}
		defer f.Close()

		records, err := ext.Extract(cmd.Context(), f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if previewJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		counts := models.KindCounts(records)
		fmt.Fprintf(out, "%d memories: %d videos, %d images", len(records), counts[models.KindVideo], counts[models.KindImage])
		if n := counts[models.KindUnknown]; n > 0 {
			fmt.Fprintf(out, ", %d unknown", n)
		}
		fmt.Fprintln(out)
		if len(records) == 0 {
			return nil
		}

		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tTIMESTAMP")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.OutputName, r.Kind, r.Timestamp)
		}
		return tw.Flush()
	},
}

func init() {
	previewCmd.Flags().BoolVar(&previewJSON, "json", false, "print the records as JSON")
	previewCmd.Flags().StringVar(&previewFlags.reader, "reader", "", "export reader: html or chrome")
	previewCmd.Flags().BoolVar(&previewFlags.localTime, "local-time", false, "name files after the local time instead of UTC")
	rootCmd.AddCommand(previewCmd)
}
