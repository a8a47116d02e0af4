// Package pump drives the pump through the bridge: retries, history paging
// and radio recovery.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/pumpsync/internal/ble"
	"github.com/sweeney/pumpsync/internal/bridge"
	"github.com/sweeney/pumpsync/internal/pumpevent"
)

// DefaultMaxPages is the history depth of the larger pumps.
const DefaultMaxPages = 36

// Sender is the command channel the manager drives.
type Sender interface {
	ID() string
	Send(ctx context.Context, cmd ble.Command) ([]byte, error)
}

// Redialer is a Sender whose link can be brought back after it drops.
type Redialer interface {
	Reconnect() error
}

var errNoRedial = errors.New("sender cannot reconnect")

// Resetter power-cycles the radio bridge.
type Resetter interface {
	Pulse(ctx context.Context) error
}

// RetryPolicy controls how retryable command errors are handled.
type RetryPolicy struct {
	// Attempts is the total number of tries per command, at least 1.
	Attempts int
	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration
	// ResetAfter consecutive timeouts trigger a bridge reset. Zero disables.
	ResetAfter int
}

// DefaultRetryPolicy is used when a zero policy is given.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 2 * time.Second, ResetAfter: 4}

// Config for a Manager.
type Config struct {
	Model    pumpevent.Model
	Location *time.Location
	Policy   RetryPolicy
	MaxPages int
	// CommandTimeout applies to commands without their own deadline.
	CommandTimeout time.Duration
}

// Manager owns the conversation with one pump.
type Manager struct {
	sender     Sender
	serializer *ble.Serializer
	reset      Resetter
	policy     RetryPolicy
	maxPages   int
	cmdTimeout time.Duration
	loc        *time.Location
	log        log.FieldLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	model     pumpevent.Model
	timeouts  int
	resets    int
	errCounts map[string]int
}

// NewManager creates a Manager. reset and logger may be nil.
func NewManager(sender Sender, serializer *ble.Serializer, reset Resetter, cfg Config, logger log.FieldLogger) *Manager {
	if cfg.Policy.Attempts < 1 {
		cfg.Policy = DefaultRetryPolicy
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if serializer == nil {
		serializer = ble.NewSerializer()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		sender:     sender,
		serializer: serializer,
		reset:      reset,
		policy:     cfg.Policy,
		maxPages:   cfg.MaxPages,
		cmdTimeout: cfg.CommandTimeout,
		loc:        cfg.Location,
		log:        logger.WithField("pump", sender.ID()),
		now:        time.Now,
		sleep:      sleepCtx,
		model:      cfg.Model,
		errCounts:  make(map[string]int),
	}
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

// Model returns the pump model in use.
func (m *Manager) Model() pumpevent.Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// ErrorCounts returns command failures by kind since start.
func (m *Manager) ErrorCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.errCounts))
	for k, v := range m.errCounts {
		out[k] = v
	}
	return out
}

// Resets returns how many times the bridge has been reset.
func (m *Manager) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// send runs cmd under the retry policy.
func (m *Manager) send(ctx context.Context, cmd ble.Command) ([]byte, error) {
	if cmd.Timeout <= 0 {
		cmd.Timeout = m.cmdTimeout
	}
	var err error
	for attempt := 1; attempt <= m.policy.Attempts; attempt++ {
		var resp []byte
		resp, err = m.sender.Send(ctx, cmd)
		m.record(ctx, err)
		if err == nil {
			return resp, nil
		}
		retry := ble.IsRetryable(err)
		if errors.Is(err, ble.ErrNotReady) {
			// The link dropped; bring it back before the next attempt.
			retry = m.redial() == nil
		}
		if !retry || ctx.Err() != nil {
			return nil, err
		}
		m.log.Warnf("command failed command=%s attempt=%d/%d err=%v", cmd.Name, attempt, m.policy.Attempts, err)
		if attempt < m.policy.Attempts {
			if serr := m.sleep(ctx, m.policy.Backoff*time.Duration(attempt)); serr != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", cmd.Name, m.policy.Attempts, err)
}

// record tracks error counts and resets the bridge after too many
// consecutive timeouts.
func (m *Manager) record(ctx context.Context, err error) {
	m.mu.Lock()
	if err == nil {
		m.timeouts = 0
		m.mu.Unlock()
		return
	}
	if kind, ok := ble.KindOf(err); ok {
		m.errCounts[kind.String()]++
	} else {
		m.errCounts["other"]++
	}
	if !errors.Is(err, ble.ErrTimeout) {
		m.timeouts = 0
		m.mu.Unlock()
		return
	}
	m.timeouts++
	pulse := m.reset != nil && m.policy.ResetAfter > 0 && m.timeouts >= m.policy.ResetAfter
	if pulse {
		m.timeouts = 0
		m.resets++
	}
	m.mu.Unlock()

	if pulse {
		m.log.Warnf("bridge unresponsive, pulsing reset line")
		if perr := m.reset.Pulse(ctx); perr != nil {
			m.log.Errorf("bridge reset failed: %v", perr)
			return
		}
		// A power-cycled bridge has dropped the link.
		m.redial()
	}
}

// redial reconnects the sender's link when it knows how.
func (m *Manager) redial() error {
	r, ok := m.sender.(Redialer)
	if !ok {
		return errNoRedial
	}
	if err := r.Reconnect(); err != nil {
		m.log.Warnf("reconnect failed: %v", err)
		return err
	}
	m.log.Infof("bridge link reconnected")
	return nil
}

// ReadModel asks the pump for its model number and uses it for later
// decoding.
func (m *Manager) ReadModel(ctx context.Context) (pumpevent.Model, error) {
	var model pumpevent.Model
	err := m.serializer.Do(ctx, m.sender.ID(), func() error {
		resp, err := m.send(ctx, bridge.ReadModel())
		if err != nil {
			return fmt.Errorf("read model: %w", err)
		}
		model, err = bridge.ParseModel(resp)
		if err != nil {
			return fmt.Errorf("read model: %w", err)
		}
		return nil
	})
	if err != nil {
		return pumpevent.Model{}, err
	}
	m.mu.Lock()
	m.model = model
	m.mu.Unlock()
	return model, nil
}

// FetchHistory reads history pages newest first until one reaches back past
// since or the pump runs out of pages. It returns the events at or after
// since, oldest first, each record once.
func (m *Manager) FetchHistory(ctx context.Context, since time.Time) ([]pumpevent.DecodedEvent, error) {
	dctx := pumpevent.Context{Model: m.Model(), ReferenceDate: m.now().In(m.loc)}

	var pages [][]pumpevent.DecodedEvent
	err := m.serializer.Do(ctx, m.sender.ID(), func() error {
		for n := 0; n < m.maxPages; n++ {
			events, done, err := m.readPage(ctx, n, dctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			pages = append(pages, events)
			if oldest, ok := oldestTimestamp(events); !ok || oldest.Before(since) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []pumpevent.DecodedEvent
	seen := make(map[string]bool)
	for i := len(pages) - 1; i >= 0; i-- {
		for _, ev := range pages[i] {
			h := ev.Head()
			if !h.Timestamp.IsZero() && h.Timestamp.Before(since) {
				continue
			}
			key := string(h.Raw)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ev)
		}
	}
	m.log.Debugf("fetched history pages=%d events=%d", len(pages), len(out))
	return out, nil
}

// readPage fetches and parses page n. done is true when the pump has no such
// page.
func (m *Manager) readPage(ctx context.Context, n int, dctx pumpevent.Context) ([]pumpevent.DecodedEvent, bool, error) {
	resp, err := m.send(ctx, bridge.ReadHistoryPage(n))
	if code, ok := bridge.NackCode(err); ok && code == bridge.PageDoesNotExist {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read history page %d: %w", n, err)
	}
	raw, err := bridge.ParseHistoryPage(resp)
	if err != nil {
		return nil, false, fmt.Errorf("history page %d: %w", n, err)
	}
	events, err := pumpevent.ParsePage(raw, dctx)
	if err != nil {
		var pe *pumpevent.PageError
		if !errors.As(err, &pe) {
			return nil, false, fmt.Errorf("history page %d: %w", n, err)
		}
		// Keep what decoded before the bad record.
		m.log.Warnf("history page %d truncated: %v", n, err)
	}
	return events, false, nil
}

func oldestTimestamp(events []pumpevent.DecodedEvent) (time.Time, bool) {
	for _, ev := range events {
		if ts := ev.Head().Timestamp; !ts.IsZero() {
			return ts, true
		}
	}
	return time.Time{}, false
}
