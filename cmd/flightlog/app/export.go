package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/ground-control/internal/source"
	"github.com/roman-kulish/ground-control/internal/storage"
)

// ExportLog writes the samples of reader as a flight log in the layout the
// replay source reads: preamble lines, the header, then one row per sample
// with TimeStamp in milliseconds since connect.
func ExportLog(ctx context.Context, w io.Writer, reader storage.TelemetryReader, loc *time.Location) (rows int, err error) {
	flight := reader.Flight()

	desc := "-"
	if flight.Description != nil {
		desc = strings.NewReplacer("\n", " ", "\r", " ").Replace(*flight.Description)
	}

	preamble := []string{
		"# ground-control flight log",
		fmt.Sprintf("# flight %d, session %d", flight.ID, flight.SessionID),
		fmt.Sprintf("# source %s (%s)", flight.Source, desc),
		fmt.Sprintf("# started %s", flight.StartTime.In(loc).Format(time.RFC3339)),
	}
	for _, line := range preamble {
		if _, err = io.WriteString(w, line+"\n"); err != nil {
			return 0, err
		}
	}

	cw := csv.NewWriter(w)
	if err = cw.Write(source.LogHeader); err != nil {
		return 0, err
	}

	record := make([]string, len(source.LogHeader))
	for reader.Next(ctx) {
		s := reader.Current().Sample

		launch := "0"
		if s.LaunchState {
			launch = "1"
		}

		record[0] = formatFloat(math.Round(s.ConnectElapsedSeconds * 1000))
		record[1] = launch
		record[2] = strconv.Itoa(int(s.EjectionState))
		record[3] = formatFloat(s.Attitude.Roll)
		record[4] = formatFloat(s.Attitude.Pitch)
		record[5] = formatFloat(s.Attitude.Yaw)
		record[6] = formatFloat(s.Altitude)
		record[7] = formatFloat(s.PressureAltitude)
		record[8] = formatFloat(s.Acceleration.X)
		record[9] = formatFloat(s.Acceleration.Y)
		record[10] = formatFloat(s.Acceleration.Z)
		record[11] = formatFloat(s.Position.Lat)
		record[12] = formatFloat(s.Position.Lon)
		record[13] = formatFloat(s.Velocity.North)
		record[14] = formatFloat(s.Velocity.East)
		record[15] = formatFloat(s.Velocity.Down)
		record[16] = formatFloat(s.Environment.TemperatureC)
		record[17] = formatFloat(s.Environment.PressureHPa)

		if err = cw.Write(record); err != nil {
			return rows, err
		}
		rows++
	}
	if err = reader.Error(); err != nil {
		return rows, err
	}

	cw.Flush()
	return rows, cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
