// Package gpio drives the radio bridge reset line with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Line is a single GPIO output.
type Line interface {
	// SetValue drives the line: 1 = bridge powered, 0 = held in reset.
	SetValue(value int) error

	// Close releases GPIO resources.
	Close() error
}

// Pin and timing defaults (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultResetPin = 17
	DefaultHold     = 500 * time.Millisecond
	DefaultSettle   = 3 * time.Second
)

// ResetLine power-cycles the bridge by holding its reset pin low.
type ResetLine struct {
	mu     sync.Mutex
	line   Line
	hold   time.Duration
	settle time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewResetLine wraps line. Zero durations take the defaults.
func NewResetLine(line Line, hold, settle time.Duration) *ResetLine {
	if hold <= 0 {
		hold = DefaultHold
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &ResetLine{line: line, hold: hold, settle: settle, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pulse holds the bridge in reset, releases it and waits for it to boot.
// The line is always released, even when ctx ends mid-pulse.
func (r *ResetLine) Pulse(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	holdErr := r.sleep(ctx, r.hold)
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	if holdErr != nil {
		return holdErr
	}
	return r.sleep(ctx, r.settle)
}

// Close releases the line.
func (r *ResetLine) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line.Close()
}
