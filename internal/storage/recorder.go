package storage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/ground-control/internal/telemetry"
)

const (
	DefaultFlushInterval = time.Second
	flushTimeout         = 5 * time.Second
)

// Observer is notified about recorder writes.
type Observer interface {
	RowsWritten(n int)
	FlushFailed()
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBatchSize sets the number of buffered samples that triggers a write.
func WithBatchSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval sets how often buffered rows are written regardless of
// batch size.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithObserver sets the observer notified after every write.
func WithObserver(o Observer) RecorderOption {
	return func(r *Recorder) {
		r.observer = o
	}
}

// WithRecorderLogger sets the logger for the recorder
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// Recorder persists the hub event stream. Every hub session becomes one
// flight; its samples and status messages are buffered and written in
// batches. Write failures drop the batch, they never stall the stream.
type Recorder struct {
	store         Store
	batchSize     int
	flushInterval time.Duration
	observer      Observer
	now           func() time.Time
	logger        *slog.Logger

	sessionID uint64
	flightID  int64 // 0 while the current session is not recorded
	samples   []TelemetryRecord
	events    []EventRecord
}

// NewRecorder creates a recorder writing to store with a discard logger
func NewRecorder(store Store, options ...RecorderOption) *Recorder {
	r := Recorder{
		store:         store,
		batchSize:     DefaultMaxBatchSize,
		flushInterval: DefaultFlushInterval,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, option := range options {
		option(&r)
	}
	return &r
}

// Run records events until ctx is cancelled or events is closed. Buffered
// rows are written before it returns.
func (r *Recorder) Run(ctx context.Context, events <-chan telemetry.Event) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	defer r.flush(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			r.flush(ctx)

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev telemetry.Event) {
	if ev.SessionID != r.sessionID {
		r.flush(ctx)
		r.begin(ctx, ev)
	}
	if r.flightID == 0 {
		return
	}

	now := r.now()

	switch ev.Type {
	case telemetry.EventTelemetry:
		if ev.Telemetry != nil {
			r.samples = append(r.samples, TelemetryRecord{ReceivedAt: now, Sample: *ev.Telemetry})
		}
	case telemetry.EventStatus:
		if ev.Status != nil {
			r.events = append(r.events, EventRecord{ReceivedAt: now, Status: *ev.Status})
		}
	}

	if len(r.samples) >= r.batchSize {
		r.flush(ctx)
	}
}

func (r *Recorder) begin(ctx context.Context, ev telemetry.Event) {
	r.sessionID = ev.SessionID
	r.flightID = 0

	flightID, err := r.store.CreateFlight(ctx, ev.SessionID, ev.Source, ev.Description)
	if err != nil {
		r.logger.Error("failed to create flight",
			slog.Uint64("sessionID", ev.SessionID),
			slog.String("error", err.Error()))
		if r.observer != nil {
			r.observer.FlushFailed()
		}
		return
	}

	r.flightID = flightID
	r.logger.Info("recording flight",
		slog.Int64("flightID", flightID),
		slog.Uint64("sessionID", ev.SessionID),
		slog.String("source", ev.Source))
}

func (r *Recorder) flush(ctx context.Context) {
	defer r.reset()

	if r.flightID == 0 || (len(r.samples) == 0 && len(r.events) == 0) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	rows := 0
	if len(r.samples) > 0 {
		if err := r.store.StoreTelemetry(ctx, r.flightID, r.samples); err != nil {
			r.failed("telemetry", len(r.samples), err)
		} else {
			rows += len(r.samples)
		}
	}
	if len(r.events) > 0 {
		if err := r.store.StoreEvents(ctx, r.flightID, r.events); err != nil {
			r.failed("events", len(r.events), err)
		} else {
			rows += len(r.events)
		}
	}

	if rows > 0 && r.observer != nil {
		r.observer.RowsWritten(rows)
	}
}

func (r *Recorder) reset() {
	clear(r.samples)
	r.samples = r.samples[:0]
	r.events = r.events[:0]
}

func (r *Recorder) failed(kind string, n int, err error) {
	r.logger.Error("failed to write batch",
		slog.Int64("flightID", r.flightID),
		slog.String("kind", kind),
		slog.Int("rows", n),
		slog.String("error", err.Error()))
	if r.observer != nil {
		r.observer.FlushFailed()
	}
}
