package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ground-control/internal/storage"
)

// ListFlights writes a table of the recorded flights, oldest first.
func ListFlights(ctx context.Context, store storage.Store, w io.Writer, loc *time.Location) error {
	flights, err := store.Flights(ctx)
	if err != nil {
		return fmt.Errorf("listing flights: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tSOURCE\tSTARTED\tDURATION\tSAMPLES\tAPOGEE\tEJECTION")

	for _, f := range flights {
		src := f.Source
		if f.Description != nil && *f.Description != "" && *f.Description != f.Source {
			src = fmt.Sprintf("%s (%s)", f.Source, *f.Description)
		}

		apogee := "-"
		if f.MaxAltitude != nil {
			apogee = fmt.Sprintf("%.1f m", *f.MaxAltitude)
		}

		fmt.Fprintf(tw, "%d\t%d\t%s\t%s (%s)\t%s\t%s\t%s\t%s\n",
			f.ID,
			f.SessionID,
			src,
			f.StartTime.In(loc).Format(time.DateTime),
			humanize.Time(f.StartTime),
			f.Duration().Round(time.Millisecond),
			humanize.Comma(f.Samples),
			apogee,
			f.EjectionState,
		)
	}

	return tw.Flush()
}
