package core

import "time"

// Clock measures the wall time between Start and the last Update.
type Clock struct {
	start   time.Time
	elapsed time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes the elapsed time. Has no effect on a stopped clock.
func (c *Clock) Update() {
	if !c.start.IsZero() {
		c.elapsed = time.Since(c.start)
	}
}

// Start resets the elapsed time and begins measuring.
func (c *Clock) Start() {
	c.start = time.Now()
	c.elapsed = 0
}

// Stop halts the clock. The last elapsed time is kept.
func (c *Clock) Stop() {
	c.start = time.Time{}
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}
