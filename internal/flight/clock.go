package flight

import "time"

// Clock tracks the connect-time and flight-time origins of a session.
// Elapsed values are recomputed from the wall clock on every call.
type Clock struct {
	now       func() time.Time
	connectAt time.Time
	launchAt  time.Time
}

// NewClock returns a clock reading the given time source; nil means time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// OnConnect fixes the connect origin. Calling it again restarts the session
// and clears the launch origin.
func (c *Clock) OnConnect() {
	c.connectAt = c.now()
	c.launchAt = time.Time{}
}

// OnLaunch fixes the flight origin. Only the first call has an effect.
func (c *Clock) OnLaunch() {
	if !c.launchAt.IsZero() {
		return
	}
	c.launchAt = c.now()
}

// Launched reports whether OnLaunch has been called.
func (c *Clock) Launched() bool {
	return !c.launchAt.IsZero()
}

// ElapsedConnect returns seconds since OnConnect, 0 if not connected.
func (c *Clock) ElapsedConnect() float64 {
	if c.connectAt.IsZero() {
		return 0
	}
	return c.now().Sub(c.connectAt).Seconds()
}

// ElapsedFlight returns seconds since OnLaunch, exactly 0 before launch.
func (c *Clock) ElapsedFlight() float64 {
	if c.launchAt.IsZero() {
		return 0
	}
	return c.now().Sub(c.launchAt).Seconds()
}

// Reset clears both origins.
func (c *Clock) Reset() {
	c.connectAt = time.Time{}
	c.launchAt = time.Time{}
}
