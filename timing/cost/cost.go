// Package cost provides the cycle accounting of the memory subsystem:
// a configurable charge table and a counter the address space reports
// its charges to.
package cost

// Counter accumulates cycle charges. It implements the memory
// subsystem's cycle sink; the core subtracts the accumulated total
// from its cycle budget each step.
type Counter struct {
	total uint64
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{}
}

// SubCycles records a charge of n cycles.
func (c *Counter) SubCycles(n int) {
	if n > 0 {
		c.total += uint64(n)
	}
}

// Total returns the cycles charged since the last Drain.
func (c *Counter) Total() uint64 {
	return c.total
}

// Drain returns the accumulated charge and resets the counter.
func (c *Counter) Drain() uint64 {
	t := c.total
	c.total = 0
	return t
}
