//go:build !linux

package gpio

import "errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chip string, pinA, pinB int) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Sample is not implemented on non-Linux platforms.
func (r *RealReader) Sample() error {
	return errors.New("gpio: not supported")
}

// ReadPin always reads low on non-Linux platforms.
func (r *RealReader) ReadPin(pin int) bool {
	return false
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
