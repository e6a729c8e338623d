package main

import (
	"fmt"
	"os"

	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// exitCancelled is the conventional exit status after SIGINT
const exitCancelled = 130

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "memzip",
	Short:         "Archive a memories export into a single zip",
	Long:          "memzip reads a memories export document, downloads every linked video and image and streams them into one zip archive.",
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFile(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			cfg.App.LogLevel = int(level)
		}

		log = logger.New(cfg)
		log.WithFields(logrus.Fields{
			"component": "memzip_main",
			"config":    fmt.Sprintf("%+v", cfg.Downloader),
		}).Debug("Downloader configuration loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: panic, fatal, error, warn, info, debug, trace")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if isCancelled(err) {
			os.Exit(exitCancelled)
		}
		os.Exit(1)
	}
}
