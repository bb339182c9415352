package gpio

import "errors"

// FakeReader is a test double that returns scripted pin levels.
type FakeReader struct {
	// Samples contains scripted (A, B) levels.
	// Each call to Sample() latches the next one.
	Samples []Sample

	// PinA and PinB map pin numbers onto the A and B levels of a sample.
	PinA int
	PinB int

	// index tracks current position in Samples
	index   int
	current Sample

	// Closed tracks if Close was called
	Closed bool

	// SampleError, if set, will be returned by Sample()
	SampleError error
}

// Sample represents a single reading of both encoder pins.
type Sample struct {
	A bool // true = high
	B bool
}

// NewFakeReader creates a FakeReader for pinA and pinB with the given samples.
// The first sample is latched immediately so the reader can seed an encoder.
func NewFakeReader(pinA, pinB int, samples []Sample) *FakeReader {
	f := &FakeReader{Samples: samples, PinA: pinA, PinB: pinB}
	if len(samples) > 0 {
		f.current = samples[0]
	}
	return f
}

// Sample latches the next scripted sample.
// If samples are exhausted, the last sample is latched repeatedly.
func (f *FakeReader) Sample() error {
	if f.SampleError != nil {
		return f.SampleError
	}

	if len(f.Samples) == 0 {
		return errors.New("no samples configured")
	}

	f.current = f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return nil
}

// ReadPin returns the latched level of pin.
func (f *FakeReader) ReadPin(pin int) bool {
	switch pin {
	case f.PinA:
		return f.current.A
	case f.PinB:
		return f.current.B
	}
	return false
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
	if len(f.Samples) > 0 {
		f.current = f.Samples[0]
	}
}
