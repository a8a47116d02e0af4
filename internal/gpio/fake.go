package gpio

import "sync"

// FakeLine is a test double that records driven values.
type FakeLine struct {
	mu sync.Mutex

	// Values contains every value passed to SetValue, in order.
	Values []int

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by SetValue()
	SetError error
}

// NewFakeLine creates a FakeLine.
func NewFakeLine() *FakeLine {
	return &FakeLine{}
}

// SetValue records the value.
func (f *FakeLine) SetValue(value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, value)
	return nil
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Pulses counts completed low-then-high transitions.
func (f *FakeLine) Pulses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := 1; i < len(f.Values); i++ {
		if f.Values[i-1] == 0 && f.Values[i] == 1 {
			n++
		}
	}
	return n
}

// Reset clears recorded values.
func (f *FakeLine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values = nil
	f.Closed = false
}
