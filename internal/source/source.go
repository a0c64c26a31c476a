package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

const (
	KindSimulator Kind = "SIMULATOR"
	KindReplay    Kind = "CSV_REPLAY"
	KindBridge    Kind = "BRIDGE"
)

// Kind identifies a source variant.
type Kind string

func (k Kind) String() string {
	return string(k)
}

// Sink receives everything a source produces. The hub implements it.
type Sink interface {
	// Telemetry delivers one raw sample.
	Telemetry(s telemetry.Sample)

	// Status delivers a lifecycle message originated by the source.
	Status(st telemetry.Status)

	// Discard reports a record dropped because it could not be parsed.
	Discard(err error)
}

// Driver interface defines the methods required for running a source variant
type Driver interface {
	// Run produces samples into sink until ctx is cancelled or the source
	// completes. It must not return before every timer and goroutine it
	// started has stopped.
	Run(ctx context.Context, sink Sink) error

	// Kind returns the source variant
	Kind() Kind
}

// SelfEvaluating is implemented by drivers that decide ejection themselves
// instead of leaving it to the hub.
type SelfEvaluating interface {
	EvaluatesEjection() bool
}

// SelfTimed is implemented by drivers whose samples carry their own flight
// time, e.g. a log replay, so the hub keeps it instead of its wall clock.
type SelfTimed interface {
	ReportsFlightTime() bool
}

// WithLogger sets the logger for the source
func WithLogger(logger *slog.Logger) func(s *Source) {
	return func(s *Source) {
		s.logger = logger.With(slog.String("source", s.driver.Kind().String()))
	}
}

// Source wraps a Driver with the start/stop lifecycle shared by every source
// variant: exactly one run at a time, and Stop waits until the driver has
// fully stopped before returning.
type Source struct {
	driver Driver
	desc   string

	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	sink      *liveSink

	logger *slog.Logger
}

// New creates a new Source instance with a discard logger
func New(driver Driver, description string, options ...func(s *Source)) *Source {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Source{
		driver: driver,
		desc:   description,
		logger: logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Kind returns the variant of the wrapped driver
func (s *Source) Kind() Kind {
	return s.driver.Kind()
}

// Description returns a human-readable name of the source, e.g. the device path
func (s *Source) Description() string {
	if s.desc == "" {
		return s.driver.Kind().String()
	}
	return s.desc
}

// EvaluatesEjection reports whether the driver decides ejection itself
func (s *Source) EvaluatesEjection() bool {
	se, ok := s.driver.(SelfEvaluating)
	return ok && se.EvaluatesEjection()
}

// ReportsFlightTime reports whether the driver's samples carry flight time
func (s *Source) ReportsFlightTime() bool {
	st, ok := s.driver.(SelfTimed)
	return ok && st.ReportsFlightTime()
}

// Start runs the driver in a new goroutine. The returned channel receives the
// terminal error, if any, and is closed when the driver has stopped.
func (s *Source) Start(ctx context.Context, sink Sink) (<-chan error, error) {
	if !s.isRunning.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.sink = &liveSink{next: sink}
	s.sink.live.Store(true)

	done := make(chan error, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)

		s.logger.Info("source started")

		err := s.driver.Run(ctx, s.sink)
		s.sink.live.Store(false)
		s.isRunning.Store(false)

		if err != nil && ctx.Err() == nil {
			s.logger.Error(err.Error())
			done <- err
			return
		}

		s.logger.Info("source stopped")
	}()

	return done, nil
}

// Stop cancels the driver and waits for it to exit. No sample or status is
// delivered to the sink after Stop returns.
func (s *Source) Stop() {
	if s.sink != nil {
		s.sink.live.Store(false)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.isRunning.Store(false)
}

// IsRunning returns true if the driver is running
func (s *Source) IsRunning() bool {
	return s.isRunning.Load()
}

func (s *Source) String() string {
	return fmt.Sprintf("%s (%s)", s.Kind(), s.Description())
}

// liveSink drops everything once the source has been stopped, so callbacks
// racing with Stop are no-ops.
type liveSink struct {
	live atomic.Bool
	next Sink
}

func (l *liveSink) Telemetry(s telemetry.Sample) {
	if l.live.Load() {
		l.next.Telemetry(s)
	}
}

func (l *liveSink) Status(st telemetry.Status) {
	if l.live.Load() {
		l.next.Status(st)
	}
}

func (l *liveSink) Discard(err error) {
	if l.live.Load() {
		l.next.Discard(err)
	}
}
