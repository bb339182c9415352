//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads encoder pins from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip   *gpiocdev.Chip
	lines  *gpiocdev.Lines
	pins   [2]int
	values [2]int
}

// NewRealReader requests pinA and pinB on the named chip as inputs with pull-up.
// Mechanical encoders switch their contacts to ground, so pull-up keeps an
// open contact at a defined high level.
func NewRealReader(chip string, pinA, pinB int) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := c.RequestLines([]int{pinA, pinB}, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request pins %d,%d: %w", pinA, pinB, err)
	}

	r := &RealReader{
		chip:  c,
		lines: lines,
		pins:  [2]int{pinA, pinB},
	}

	// Latch the initial levels so the encoder baseline reflects the shaft position.
	if err := r.Sample(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Sample reads both pins in a single request so they are latched together.
func (r *RealReader) Sample() error {
	vals := make([]int, 2)
	if err := r.lines.Values(vals); err != nil {
		return fmt.Errorf("read pins: %w", err)
	}
	r.values[0], r.values[1] = vals[0], vals[1]
	return nil
}

// ReadPin returns the latched level of pin. Unknown pins read low.
func (r *RealReader) ReadPin(pin int) bool {
	for i, p := range r.pins {
		if p == pin {
			return r.values[i] != 0
		}
	}
	return false
}

// Close releases GPIO resources.
// Pull-up is dropped before closing so the pins return to the kernel default
// bias rather than keeping the encoder contacts energised.
func (r *RealReader) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithBiasDisabled); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
