// Package gpio provides encoder pin sampling with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader samples the two encoder pins.
//
// Sample latches the current level of both pins in one read, and ReadPin
// returns the latched level, so a single encoder poll always sees a
// consistent pair. ReadPin satisfies encoder.PinReader.
type Reader interface {
	// Sample reads and latches the level of both pins.
	Sample() error

	// ReadPin returns the level of pin from the latest Sample.
	// Unknown pins read low.
	ReadPin(pin int) bool

	// Close releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering)
const (
	DefaultPinA = 17
	DefaultPinB = 27
)

// DefaultChip is the GPIO character device of the Raspberry Pi header.
const DefaultChip = "gpiochip0"
