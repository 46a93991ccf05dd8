package mpegts

import "time"

// PCRCycle is the wrap modulus of the 33-bit PCR base in 90 kHz units.
const PCRCycle = uint64(1) << 33

// PCRClockRate is the PCR base clock in Hz.
const PCRClockRate = 90000

// PCRDiff returns (b - a) modulo the 33-bit wrap, so a pair of PCRs
// straddling the wrap still yields a small positive delta.
func PCRDiff(a, b uint64) uint64 {
	return (b - a + PCRCycle) % PCRCycle
}

// PCRToDuration converts a 90 kHz tick count to a wall duration.
func PCRToDuration(ticks uint64) time.Duration {
	return time.Duration(ticks) * time.Second / PCRClockRate
}

// PCRClock tracks a monotonically increasing timeline across PCR
// wraps. The zero value is ready to use.
type PCRClock struct {
	started bool
	last    uint64
	elapsed uint64
}

// Update feeds the next observed PCR and returns the total elapsed
// ticks since the first one.
func (c *PCRClock) Update(pcr uint64) uint64 {
	if !c.started {
		c.started = true
		c.last = pcr
		return 0
	}
	c.elapsed += PCRDiff(c.last, pcr)
	c.last = pcr
	return c.elapsed
}

// Elapsed returns the ticks accumulated so far.
func (c *PCRClock) Elapsed() uint64 {
	return c.elapsed
}
