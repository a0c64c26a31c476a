package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/ground-control/internal/flight"
	"github.com/roman-kulish/ground-control/internal/source"
	"github.com/roman-kulish/ground-control/internal/telemetry"
)

// ErrClosed is returned when using a hub after Close.
var ErrClosed = errors.New("hub is closed")

// Config controls session enrichment and subscriber handling.
type Config struct {
	SubscriberBuffer int
	Ejection         flight.EjectionConfig
	BurnTime         time.Duration

	// EvaluateExternal runs the ejection evaluator on samples from sources
	// that do not evaluate ejection themselves.
	EvaluateExternal bool

	// StopOnLastUnsubscribe stops the active source when the last external
	// subscriber leaves.
	StopOnLastUnsubscribe bool

	// Now overrides the session clock, nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the configuration used by the server.
func DefaultConfig() Config {
	return Config{
		SubscriberBuffer: DefaultSubscriberBuffer,
		Ejection:         flight.DefaultEjectionConfig(),
		BurnTime:         flight.DefaultBurnTime,
		EvaluateExternal: true,
	}
}

func (c *Config) Validate() error {
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("hub.Config: subscriber buffer must be positive: %d given", c.SubscriberBuffer)
	}
	if c.BurnTime < 0 {
		return fmt.Errorf("hub.Config: burn time must not be negative: %s given", c.BurnTime)
	}
	return c.Ejection.Validate()
}

// Snapshot is the current session state, for clients that connect mid-flight.
type Snapshot struct {
	SessionID      uint64                  `json:"sessionId"`
	Source         string                  `json:"source,omitempty"`
	Description    string                  `json:"description,omitempty"`
	Running        bool                    `json:"running"`
	Launched       bool                    `json:"launched"`
	Phase          string                  `json:"phase"`
	EjectionState  telemetry.EjectionState `json:"ejectionState"`
	EjectionReason string                  `json:"ejectionReason,omitempty"`
	FlightElapsed  float64                 `json:"flightElapsedSeconds"`
	Discarded      uint64                  `json:"discarded"`
	Last           *telemetry.Sample       `json:"last,omitempty"`
	Subscribers    int                     `json:"subscribers"`
}

// Stats are cumulative hub counters.
type Stats struct {
	Sessions    uint64
	Published   uint64
	Dropped     uint64
	Discarded   uint64
	Subscribers int
	Running     bool
}

// WithLogger sets the logger for the hub
func WithLogger(logger *slog.Logger) func(h *Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "hub"))
	}
}

// Hub owns at most one active source at a time and fans every event it
// produces out to all subscribers.
type Hub struct {
	config Config

	mu      sync.Mutex // serializes SwitchTo, Stop and Close
	current *session
	last    *session // most recent ended session, for Snapshot
	nextID  uint64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	out       *broadcaster
	discarded atomic.Uint64

	logger *slog.Logger
}

// New creates a hub with a discard logger
func New(config Config, options ...func(h *Hub)) (*Hub, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	ctx, cancel := context.WithCancel(context.Background())

	h := Hub{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		out:    newBroadcaster(),
		logger: logger,
	}

	for _, option := range options {
		option(&h)
	}

	return &h, nil
}

// Subscribe registers a new consumer of the event stream.
func (h *Hub) Subscribe(options ...SubscribeOption) (*Subscription, error) {
	s := Subscription{
		id:     uuid.New(),
		buffer: h.config.SubscriberBuffer,
		close:  h.unsubscribe,
	}
	for _, option := range options {
		option(&s)
	}
	s.events = make(chan telemetry.Event, s.buffer)

	if !h.out.add(&s) {
		return nil, ErrClosed
	}

	h.logger.Debug("subscriber added", slog.String("subscriptionID", s.ID()), slog.Bool("internal", s.internal))

	return &s, nil
}

func (h *Hub) unsubscribe(s *Subscription) {
	remaining := h.out.remove(s)

	h.logger.Debug("subscriber removed",
		slog.String("subscriptionID", s.ID()),
		slog.Uint64("dropped", s.Dropped()),
		slog.Int("remaining", remaining))

	if h.config.StopOnLastUnsubscribe && !s.internal && remaining == 0 {
		h.Stop()
	}
}

// SwitchTo stops the active source, if any, and starts src in a new session.
// When SwitchTo returns, no event from the previous session will be
// published.
func (h *Hub) SwitchTo(src *source.Source) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.stopLocked()

	h.nextID++
	sess, err := newSession(h.nextID, src, h.out, h.config, h.logger)
	if err != nil {
		return err
	}
	sess.onDiscard = func() { h.discarded.Add(1) }

	h.logger.Info("switching source", slog.Uint64("sessionID", sess.id), slog.String("source", src.String()))
	sess.Status(telemetry.Info("Connecting to %s", src.Description()))

	done, err := src.Start(h.ctx, sess)
	if err != nil {
		sess.end(statusPtr(telemetry.Error("Failed to start %s: %s", src.Description(), err.Error())), false)
		return err
	}

	h.current = sess

	h.wg.Add(1)
	go h.watch(sess, done)

	return nil
}

// Stop stops the active source. A "disconnected" status is published once.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
}

func (h *Hub) stopLocked() {
	sess := h.current
	if sess == nil {
		return
	}
	h.current = nil
	h.last = sess

	sess.end(statusPtr(telemetry.System("Disconnected from %s", sess.src.Description())), false)
	sess.src.Stop()

	h.logger.Info("source stopped", slog.Uint64("sessionID", sess.id))
}

// watch ends the session when its source completes on its own.
func (h *Hub) watch(sess *session, done <-chan error) {
	defer h.wg.Done()

	err := <-done

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != sess {
		return // stopped or switched away
	}
	h.current = nil
	h.last = sess

	if err != nil {
		h.logger.Error("source failed", slog.Uint64("sessionID", sess.id), slog.String("error", err.Error()))
		sess.end(statusPtr(telemetry.Error("%s", err.Error())), false)
		return
	}

	h.logger.Info("source completed", slog.Uint64("sessionID", sess.id))
	sess.end(nil, true)
}

// Snapshot returns the state of the current session. An idle hub reports
// the last ended session, if any.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	sess := h.current
	if sess == nil {
		sess = h.last
	}
	h.mu.Unlock()

	var snap Snapshot
	if sess != nil {
		snap = sess.snapshot()
	} else {
		snap.Phase = flight.PhaseIdle.String()
	}
	snap.Subscribers, _ = h.out.counts()

	return snap
}

// Stats returns cumulative counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	stats := Stats{
		Sessions: h.nextID,
		Running:  h.current != nil,
	}
	h.mu.Unlock()

	stats.Published = h.out.published.Load()
	stats.Dropped = h.out.dropped.Load()
	stats.Discarded = h.discarded.Load()
	stats.Subscribers, _ = h.out.counts()

	return stats
}

// Close stops the active source and closes all subscriptions.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.stopLocked()
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.out.close()

	return nil
}

func statusPtr(st telemetry.Status) *telemetry.Status {
	return &st
}
