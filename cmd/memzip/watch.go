package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/internal/pipeline"
	"github.com/rizkirmdhn/memzip/internal/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	watchFlags  pipelineFlags
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Archive every export dropped into a directory",
	Long:  "watch archives each new .html export written to the directory as <name>.zip next to it, until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, fetcher, err := newPipeline(&watchFlags)
		if err != nil {
			return err
		}
		defer fetcher.Close()

		w := watcher.New(args[0], func(ctx context.Context, in, out string) (*downloader.Result, error) {
			return p.ArchiveFile(ctx, in, out, nil)
		}, log)
		w.SetSettle(watchSettle)
		w.OnProcessed = func(res watcher.Processed) {
			if res.Err == nil || errors.Is(res.Err, os.ErrExist) || errors.Is(res.Err, pipeline.ErrNoRecords) {
				return
			}
			log.WithFields(logrus.Fields{
				"component": "memzip_watch",
				"export":    res.Export,
			}).Warn("Export left unarchived")
		}

		if err := w.Run(ctx); err != nil {
			return err
		}

		log.WithField("component", "memzip_watch").Info("Watcher stopped")
		return nil
	},
}

func init() {
	watchCmd.Flags().IntVarP(&watchFlags.concurrency, "concurrency", "c", 0, "concurrent transfers, 1 to 10 (default from config)")
	watchCmd.Flags().StringVar(&watchFlags.reader, "reader", "", "export reader: html or chrome")
	watchCmd.Flags().BoolVar(&watchFlags.localTime, "local-time", false, "name files after the local time instead of UTC")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "how long an export must stay unchanged before it is read")
	rootCmd.AddCommand(watchCmd)
}
