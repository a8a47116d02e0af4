// Package status provides a thread-safe status tracker for the pumpsync daemon.
// It is read by the HTTP handlers and the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pumpsync/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs           int64
	HeartbeatMs      int64
	LookbackMs       int64
	CommandTimeoutMs int64
	Broker           string
	HTTPPort         string
	Peripheral       string
	PumpModel        string
	Timezone         string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Model         string
	Connected     bool
	Suspended     bool
	Synced        bool
	LastSync      time.Time
	LastError     string
	LastErrorTime time.Time
	Counts        logic.Counts
	CommandErrors map[string]int
	BridgeResets  int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Model:     cfg.PumpModel,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// RecordSync stores the outcome of a successful history sync and clears
// the last error.
func (t *Tracker) RecordSync(at time.Time, counts logic.Counts, suspended bool) {
	t.mu.Lock()
	t.snap.Synced = true
	t.snap.LastSync = at
	t.snap.Counts = counts
	t.snap.Suspended = suspended
	t.snap.LastError = ""
	t.snap.LastErrorTime = time.Time{}
	t.mu.Unlock()
}

// RecordError stores the most recent sync failure.
func (t *Tracker) RecordError(at time.Time, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.snap.LastError = err.Error()
	t.snap.LastErrorTime = at
	t.mu.Unlock()
}

// SetModel sets the pump model as reported by the device.
func (t *Tracker) SetModel(model string) {
	t.mu.Lock()
	t.snap.Model = model
	t.mu.Unlock()
}

// SetConnected sets the peripheral connection status.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.snap.Connected = connected
	t.mu.Unlock()
}

// SetCommandErrors replaces the per-kind command failure counts and the
// number of bridge resets.
func (t *Tracker) SetCommandErrors(counts map[string]int, resets int) {
	c := make(map[string]int, len(counts))
	for k, v := range counts {
		c[k] = v
	}
	t.mu.Lock()
	t.snap.CommandErrors = c
	t.snap.BridgeResets = resets
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if t.snap.CommandErrors != nil {
		s.CommandErrors = make(map[string]int, len(t.snap.CommandErrors))
		for k, v := range t.snap.CommandErrors {
			s.CommandErrors[k] = v
		}
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
