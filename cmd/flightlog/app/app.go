package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ground-control/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.List {
		return ListFlights(ctx, store, os.Stdout, config.TimeZone)
	}

	var opts []storage.ReaderOption
	if config.LaunchedOnly {
		opts = append(opts, storage.WithLaunchedOnly())
	}

	reader, err := store.ReadTelemetry(ctx, config.FlightID, opts...)
	if err != nil {
		if errors.Is(err, storage.ErrNoData) {
			return fmt.Errorf("flight %d not found", config.FlightID)
		}
		return err
	}
	defer reader.Close()

	flight := reader.Flight()
	logger.Info("reading flight",
		slog.Int64("id", flight.ID),
		slog.String("source", flight.Source),
		slog.String("started", flight.StartTime.In(config.TimeZone).Format(time.DateTime)),
		slog.String("samples", humanize.Comma(flight.Samples)),
		slog.Bool("launchedOnly", config.LaunchedOnly))

	switch config.Format {
	case FormatCSV:
		return exportCSV(ctx, reader, config, logger)
	case FormatPNG:
		return renderProfile(ctx, reader, config, logger)
	}
	return fmt.Errorf("unsupported format: %s", config.Format)
}

func exportCSV(ctx context.Context, reader storage.TelemetryReader, config *Config, logger *slog.Logger) (err error) {
	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(out)
	rows, err := ExportLog(ctx, w, reader, config.TimeZone)
	if err != nil {
		return fmt.Errorf("exporting flight log: %w", err)
	}
	if err = w.Flush(); err != nil {
		return err
	}

	logger.Info("flight log exported",
		slog.String("destination", config.OutputFile),
		slog.String("rows", humanize.Comma(int64(rows))))
	return nil
}

func renderProfile(ctx context.Context, reader storage.TelemetryReader, config *Config, logger *slog.Logger) (err error) {
	profile := NewProfileData(reader.Flight())
	for reader.Next(ctx) {
		profile.Update(reader.Current())
	}
	if err = reader.Error(); err != nil {
		return err
	}

	if config.Verbose {
		logger.Info("finished reading samples",
			slog.Group("stats",
				slog.Int("points", len(profile.Points)),
				slog.String("minAltitude", fmt.Sprintf("%0.2fm", profile.AltitudeMin)),
				slog.String("maxAltitude", fmt.Sprintf("%0.2fm", profile.AltitudeMax)),
				slog.String("duration", fmt.Sprintf("%0.2fs", profile.TimeMax-profile.TimeMin)),
			))
	}

	renderer, err := NewProfileRenderer(RenderConfig{
		Width:    config.Width,
		Height:   config.Height,
		Location: config.TimeZone,
	})
	if err != nil {
		return fmt.Errorf("creating profile renderer: %w", err)
	}

	img, err := renderer.Render(profile)
	if err != nil {
		return fmt.Errorf("rendering profile: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err = png.Encode(out, img); err != nil {
		return err
	}

	logger.Info("profile rendered",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))
	return nil
}
