package crawl

import "time"

// DelayCeiling bounds how far the controller backs off, whatever the settings.
const DelayCeiling = 5000 * time.Millisecond

// RateController holds the adaptive inter-request delay. Success divides the
// delay back towards the base, failure multiplies it towards the ceiling.
type RateController struct {
	base       time.Duration
	ceiling    time.Duration
	multiplier float64
	current    time.Duration
}

// NewRateController starts at base. A base above DelayCeiling lifts the
// ceiling to the base so the delay never drops below it.
func NewRateController(base time.Duration, multiplier float64) *RateController {
	if base < 0 {
		base = 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	ceiling := DelayCeiling
	if base > ceiling {
		ceiling = base
	}
	return &RateController{
		base:       base,
		ceiling:    ceiling,
		multiplier: multiplier,
		current:    base,
	}
}

// Current returns the delay to sleep before the next unit.
func (c *RateController) Current() time.Duration {
	return c.current
}

// Base returns the configured floor.
func (c *RateController) Base() time.Duration {
	return c.base
}

// Elevated reports whether a previous failure pushed the delay above base.
func (c *RateController) Elevated() bool {
	return c.current > c.base
}

// Relax divides the delay by the multiplier, never going below base.
func (c *RateController) Relax() time.Duration {
	if !c.Elevated() {
		return c.current
	}
	next := time.Duration(float64(c.current) / c.multiplier)
	if next < c.base {
		next = c.base
	}
	c.current = next
	return c.current
}

// Tighten multiplies the delay, never going above the ceiling.
func (c *RateController) Tighten() time.Duration {
	next := time.Duration(float64(c.current) * c.multiplier)
	if next > c.ceiling {
		next = c.ceiling
	}
	c.current = next
	return c.current
}
