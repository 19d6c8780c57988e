// Package cmd implements the autoagent command line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autoglm/autoagent/backend/settings"
)

var (
	// Version is the version of the CLI
	Version = "unknown"

	// GitCommit is the commit the CLI was built from
	GitCommit = "unknown"
)

type globalOptions struct {
	logLevel string
	settings settings.Settings
	fs       *afero.Afero
}

func NewRootCmd() *cobra.Command {
	options := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "autoagent",
		Short:         "Drive a phone through multi-step tasks with a dual-model agent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			options.fs = &afero.Afero{Fs: afero.NewOsFs()}

			loaded, err := settings.Load(options.fs, settings.NewKeyringProvider())
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			options.settings = loaded

			level := options.logLevel
			if level == "" {
				level = loaded.Log.Level
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(logSink(loaded.Log), &slog.HandlerOptions{
				Level: parseLogLevel(level),
			})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&options.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd(options))
	cmd.AddCommand(newDoctorCmd(options))
	cmd.AddCommand(newAppsCmd(options))
	cmd.AddCommand(newConfigCmd(options))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Panic occurred: %v\n", r)
			fmt.Fprintf(os.Stderr, "Stack:\n%s\n", debug.Stack())
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func logSink(cfg settings.LogConfig) io.Writer {
	file := cfg.File
	if file == "" {
		file = filepath.Join(xdg.DataHome, "autoagent", "autoagent.json")
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 20
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autoagent %s (%s)\n", Version, GitCommit)
		},
	}
}
