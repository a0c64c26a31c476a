package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	FormatCSV Format = "csv"
	FormatPNG Format = "png"
)

// Format is the export format of a flight.
type Format string

var validFormats = map[Format]struct{}{
	FormatCSV: {},
	FormatPNG: {},
}

type Config struct {
	DBPath       string
	List         bool
	FlightID     int64
	OutputFile   string
	Format       Format
	LaunchedOnly bool
	Width        int
	Height       int
	TimeZone     *time.Location
	Verbose      bool
}

func NewConfig() *Config {
	return &Config{
		Format:   FormatCSV,
		Width:    1200,
		Height:   600,
		TimeZone: time.Local,
	}
}

// NewConfigFromCLI parses the command line arguments, without the program
// name.
func NewConfigFromCLI(args []string) (*Config, error) {
	c := NewConfig()

	var format, tz string
	flags := pflag.NewFlagSet("flightlog", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), "Usage of flightlog:")
		flags.PrintDefaults()
	}
	flags.StringVar(&c.DBPath, "db", "", "Path to the flight database")
	flags.BoolVarP(&c.List, "list", "l", false, "List recorded flights")
	flags.Int64VarP(&c.FlightID, "flight", "s", 0, "Flight ID")
	flags.StringVarP(&c.OutputFile, "output", "o", "", "Path to the output file")
	flags.StringVarP(&format, "format", "f", string(FormatCSV), "Output format. [csv, png]")
	flags.BoolVar(&c.LaunchedOnly, "launched-only", false, "Skip samples recorded before launch")
	flags.IntVar(&c.Width, "width", c.Width, "Profile image width in pixels")
	flags.IntVar(&c.Height, "height", c.Height, "Profile image height in pixels")
	flags.StringVar(&tz, "tz", "", "Time zone for timestamps, e.g. Asia/Seoul (default local)")
	flags.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	format = strings.ToLower(format)

	var err error
	switch {
	case c.DBPath == "":
		err = errors.New("db path is required")
	case c.List:
	case c.FlightID <= 0:
		err = errors.New("flight id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case !isValidFormat(Format(format)):
		err = fmt.Errorf("invalid format: %s", format)
	case c.Width < 200 || c.Height < 150:
		err = fmt.Errorf("image size %dx%d is too small", c.Width, c.Height)
	}
	if err == nil && tz != "" {
		if c.TimeZone, err = time.LoadLocation(tz); err != nil {
			err = fmt.Errorf("invalid time zone: %w", err)
		}
	}

	if err != nil {
		flags.Usage()
		return nil, err
	}

	c.Format = Format(format)
	if !c.List && filepath.Ext(c.OutputFile) == "" {
		c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	}
	return c, nil
}

func isValidFormat(f Format) bool {
	_, ok := validFormats[f]
	return ok
}
