package encoder

import "time"

// channel tracks debounce state for a single encoder pin.
type channel struct {
	pin int
	// Raw level read on this poll and the one before it
	raw     bool
	prevRaw bool
	// Current stable (debounced) level
	stable bool
	// Stable level of this pin before the most recent commit on either pin
	prevStable bool
	// Time of the last raw level change
	lastChange time.Duration
}

// seed sets every level of the channel to level, as if it had been stable forever.
func (c *channel) seed(level bool, now time.Duration) {
	c.raw = level
	c.prevRaw = level
	c.stable = level
	c.prevStable = level
	c.lastChange = now
}

// debounce feeds one raw reading through the filter.
// Returns true if the stable level changed on this reading.
func (c *channel) debounce(level bool, now, window time.Duration) bool {
	c.prevRaw = c.raw
	c.raw = level

	// Any raw change restarts the bounce clock
	if c.raw != c.prevRaw {
		c.lastChange = now
		return false
	}

	if c.raw != c.stable && now-c.lastChange > window {
		c.stable = c.raw
		return true
	}

	return false
}
