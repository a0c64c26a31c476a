package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roman-kulish/ground-control/cmd/gcs/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, listen, level string
	flags := pflag.NewFlagSet("gcs", pflag.ExitOnError)
	flags.StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	flags.StringVar(&listen, "listen", "", "HTTP listen address, overrides server.listen")
	flags.StringVar(&level, "log-level", "", "Log level, overrides settings.logLevel")
	_ = flags.Parse(os.Args[1:])

	config := app.NewConfig()
	if configPath != "" {
		var err error
		if config, err = app.LoadConfig(configPath); err != nil {
			logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
			os.Exit(1)
		}
	}

	if listen != "" {
		config.Server.Listen = listen
	}
	if level != "" {
		if err := config.Settings.LogLevel.UnmarshalText([]byte(level)); err != nil {
			logger.Error("invalid log level", slog.String("level", level))
			os.Exit(1)
		}
	}

	logger, closeLog := newLogger(&config.Settings, &logLevel)
	defer closeLog()

	logLevel.Set(config.Settings.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		closeLog()
		os.Exit(1)
	}
}

// newLogger builds the process logger. With a log file configured, records go
// to stdout and to the rotated file.
func newLogger(settings *app.Settings, level *slog.LevelVar) (*slog.Logger, func()) {
	var (
		out     io.Writer = os.Stdout
		closeFn           = func() {}
	)

	if settings.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   settings.LogFile,
			MaxSize:    settings.MaxSizeMB,
			MaxBackups: settings.MaxBackups,
			MaxAge:     settings.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotated)
		closeFn = func() { _ = rotated.Close() }
	}

	opts := slog.HandlerOptions{Level: level}
	if settings.LogFormat == app.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(out, &opts)), closeFn
	}
	return slog.New(slog.NewTextHandler(out, &opts)), closeFn
}
