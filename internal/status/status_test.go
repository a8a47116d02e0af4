package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pumpsync/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 300000, Broker: "tcp://localhost:1883", HTTPPort: ":80", PumpModel: "722"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 300000 {
		t.Errorf("Config.PollMs: got %d, want 300000", snap.Config.PollMs)
	}
	if snap.Model != "722" {
		t.Errorf("Model: got %q, want configured model 722", snap.Model)
	}
	if snap.Synced {
		t.Error("expected Synced=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestRecordSync(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	tr.RecordError(at.Add(-time.Minute), errors.New("timeout"))
	tr.RecordSync(at, logic.Counts{Bolus: 3, BolusUnits: 7.5}, true)

	snap := tr.Snapshot()
	if !snap.Synced {
		t.Error("expected Synced=true")
	}
	if !snap.LastSync.Equal(at) {
		t.Errorf("LastSync: got %v, want %v", snap.LastSync, at)
	}
	if snap.Counts.Bolus != 3 || snap.Counts.BolusUnits != 7.5 {
		t.Errorf("Counts: got %+v", snap.Counts)
	}
	if !snap.Suspended {
		t.Error("expected Suspended=true")
	}
	if snap.LastError != "" {
		t.Errorf("LastError should be cleared by a sync, got %q", snap.LastError)
	}
}

func TestRecordError(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	tr.RecordError(at, nil)
	if tr.Snapshot().LastError != "" {
		t.Error("nil error should not be recorded")
	}

	tr.RecordError(at, errors.New("bridge timeout"))
	snap := tr.Snapshot()
	if snap.LastError != "bridge timeout" {
		t.Errorf("LastError: got %q", snap.LastError)
	}
	if !snap.LastErrorTime.Equal(at) {
		t.Errorf("LastErrorTime: got %v, want %v", snap.LastErrorTime, at)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetConnectedAndModel(t *testing.T) {
	tr := NewTracker(time.Now(), Config{PumpModel: "722"})
	tr.SetConnected(true)
	tr.SetModel("554")

	snap := tr.Snapshot()
	if !snap.Connected {
		t.Error("expected Connected=true")
	}
	if snap.Model != "554" {
		t.Errorf("Model: got %q, want 554", snap.Model)
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	net := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(net)

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	counts := map[string]int{"timeout": 1}
	tr.SetCommandErrors(counts, 0)
	counts["timeout"] = 99

	snap1 := tr.Snapshot()
	if snap1.CommandErrors["timeout"] != 1 {
		t.Error("tracker should copy the caller's map")
	}

	snap1.CommandErrors["timeout"] = 42
	tr.RecordSync(time.Now(), logic.Counts{Bolus: 1}, false)

	snap2 := tr.Snapshot()
	if snap2.CommandErrors["timeout"] != 1 {
		t.Error("snapshot should be a copy; CommandErrors was modified")
	}
	if snap1.Counts.Bolus != 0 {
		t.Error("snapshot should be a copy; Counts was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Model:         "722",
		Connected:     true,
		Suspended:     true,
		Synced:        true,
		LastSync:      start.Add(10 * time.Minute),
		Counts:        logic.Counts{Basal: 2, TempBasal: 1, Bolus: 5, BolusUnits: 12.5},
		CommandErrors: map[string]int{"timeout": 2},
		BridgeResets:  1,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollMs: 300000, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPPort: ":80", Peripheral: "AA:BB"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Pump.Model != "722" {
		t.Errorf("Pump.Model: got %q, want 722", parsed.Status.Pump.Model)
	}
	if parsed.Status.Pump.Peripheral != "AA:BB" {
		t.Errorf("Pump.Peripheral: got %q", parsed.Status.Pump.Peripheral)
	}
	if !parsed.Status.Pump.Connected || !parsed.Status.Pump.Suspended {
		t.Errorf("Pump: got %+v", parsed.Status.Pump)
	}
	if !parsed.Status.Ready {
		t.Error("expected Ready=true")
	}
	if parsed.Status.LastSync != "2026-01-01T00:10:00Z" {
		t.Errorf("LastSync: got %q", parsed.Status.LastSync)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.MQTT.Connected != true {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Counts.Bolus != 5 || parsed.Status.Counts.BolusUnits != 12.5 {
		t.Errorf("Counts: got %+v", parsed.Status.Counts)
	}
	if parsed.Status.CommandErrors["timeout"] != 2 {
		t.Errorf("CommandErrors: got %v", parsed.Status.CommandErrors)
	}
	if parsed.Status.BridgeResets != 1 {
		t.Errorf("BridgeResets: got %d, want 1", parsed.Status.BridgeResets)
	}
	if parsed.Status.LastError != nil {
		t.Errorf("expected no last_error, got %+v", parsed.Status.LastError)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONUnknownModel(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Pump.Model != "UNKNOWN" {
		t.Errorf("Pump.Model: got %q, want UNKNOWN", parsed.Status.Pump.Model)
	}
	if parsed.Status.LastSync != "" {
		t.Errorf("LastSync: got %q, want omitted", parsed.Status.LastSync)
	}
}

func TestFormatJSONLastError(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	snap := Snapshot{
		LastError:     "fetch history: timeout",
		LastErrorTime: at,
		StartTime:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:           at,
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.LastError == nil {
		t.Fatal("expected last_error")
	}
	if parsed.Status.LastError.Message != "fetch history: timeout" {
		t.Errorf("LastError.Message: got %q", parsed.Status.LastError.Message)
	}
	if parsed.Status.LastError.At != "2026-01-01T00:05:00Z" {
		t.Errorf("LastError.At: got %q", parsed.Status.LastError.At)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Model:         "722",
		Synced:        true,
		Counts:        logic.Counts{Bolus: 3},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollMs: 300000, Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.Counts.Bolus != 3 {
		t.Errorf("Counts.Bolus: got %d, want 3", parsed.Status.Counts.Bolus)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// "reason" must be absent from the raw JSON
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if _, exists := status["command_errors"]; exists {
		t.Error("command_errors should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.RecordSync(time.Now(), logic.Counts{Bolus: i}, i%3 == 0)
			tr.SetCommandErrors(map[string]int{"timeout": i}, i)
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = snap.CommandErrors["timeout"]
		}
	}()

	wg.Wait()
}
