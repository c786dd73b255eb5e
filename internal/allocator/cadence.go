package allocator

// Cadence keeps a running estimate of seconds per block.
// The estimate starts at zero and halves toward each new inter-block gap,
// so the first real estimate is half of the first observed gap.
type Cadence struct {
	estimate float64
	last     int64
	seen     bool
}

// Observe feeds the timestamp of a newly seen block.
func (c *Cadence) Observe(timestamp int64) {
	if c.seen {
		c.estimate = (c.estimate + float64(timestamp-c.last)) / 2
	}
	c.last = timestamp
	c.seen = true
}

// Estimate returns seconds per block, or 0 before two blocks were observed.
func (c *Cadence) Estimate() float64 {
	return c.estimate
}

// Known reports whether an allocation cycle may run.
func (c *Cadence) Known() bool {
	return c.estimate > 0
}
