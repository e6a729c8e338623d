package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rizkirmdhn/memzip/internal/archive"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/internal/pipeline"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// stdoutName selects standard output as the archive destination
const stdoutName = "-"

var (
	downloadFlags  pipelineFlags
	downloadOutput string
)

var downloadCmd = &cobra.Command{
	Use:   "download <export.html>",
	Short: "Download every memory of an export into a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, fetcher, err := newPipeline(&downloadFlags)
		if err != nil {
			return err
		}
		defer fetcher.Close()

		records, err := p.ExtractFile(ctx, args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return pipeline.ErrNoRecords
		}

		sink, err := openSink(downloadOutput)
		if err != nil {
			return err
		}

		stderr := cmd.ErrOrStderr()
		bar := newProgressBar(stderr, len(records))

		// the bar redraws off the transfer path
		reporter := downloader.NewAsyncReporter(progressReporter(bar))
		res, err := p.Archive(ctx, records, sink, reporter)
		reporter.Close()
		if res != nil {
			if res.Status == models.JobCompleted {
				bar.Finish()
			} else {
				bar.Exit()
				fmt.Fprintln(stderr)
			}
			printSummary(stderr, res, downloadOutput)
		}
		return err
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "memories.zip", `archive path, "-" for standard output`)
	downloadCmd.Flags().IntVarP(&downloadFlags.concurrency, "concurrency", "c", 0, "concurrent transfers, 1 to 10 (default from config)")
	downloadCmd.Flags().StringVar(&downloadFlags.reader, "reader", "", "export reader: html or chrome")
	downloadCmd.Flags().BoolVar(&downloadFlags.localTime, "local-time", false, "name files after the local time instead of UTC")
	rootCmd.AddCommand(downloadCmd)
}

func openSink(output string) (archive.Sink, error) {
	if output == stdoutName {
		return archive.NewWriterSink(os.Stdout), nil
	}
	return archive.NewFileSink(output)
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("memories"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

// progressReporter mirrors every snapshot on the bar
func progressReporter(bar *progressbar.ProgressBar) downloader.Reporter {
	return downloader.ReporterFunc(func(p models.ProgressSnapshot) {
		if p.CurrentLabel != "" {
			bar.Describe(p.CurrentLabel)
		}
		_ = bar.Set(p.Processed)
	})
}

func printSummary(w io.Writer, res *downloader.Result, output string) {
	progress := res.Progress

	switch res.Status {
	case models.JobCompleted:
		if output == stdoutName {
			fmt.Fprintf(w, "Archived %d of %d memories\n", progress.Succeeded(), progress.Total)
		} else {
			fmt.Fprintf(w, "Archived %d of %d memories to %s\n", progress.Succeeded(), progress.Total, output)
		}
	case models.JobCancelled:
		fmt.Fprintf(w, "Stopped by user after %d of %d memories, no archive written\n", progress.Processed, progress.Total)
	default:
		fmt.Fprintf(w, "Archive failed after %d of %d memories\n", progress.Processed, progress.Total)
	}

	if len(progress.Errors) == 0 {
		return
	}
	fmt.Fprintf(w, "%d failed:\n", len(progress.Errors))
	for _, e := range progress.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// isCancelled reports whether err ends the process with the interrupt status
func isCancelled(err error) bool {
	return errors.Is(err, downloader.ErrCancelled)
}
