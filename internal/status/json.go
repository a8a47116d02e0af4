package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Pump          PumpJSON       `json:"pump"`
	Ready         bool           `json:"ready"`
	LastSync      string         `json:"last_sync,omitempty"`
	LastError     *ErrorJSON     `json:"last_error,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"dose_counts"`
	CommandErrors map[string]int `json:"command_errors,omitempty"`
	BridgeResets  int            `json:"bridge_resets"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// PumpJSON reports what is known about the pump.
type PumpJSON struct {
	Model      string `json:"model"`
	Peripheral string `json:"peripheral"`
	Connected  bool   `json:"connected"`
	Suspended  bool   `json:"suspended"`
}

type ErrorJSON struct {
	Message string `json:"message"`
	At      string `json:"at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of dose counts.
type CountsJSON struct {
	Basal      int     `json:"basal"`
	TempBasal  int     `json:"temp_basal"`
	Bolus      int     `json:"bolus"`
	Suspend    int     `json:"suspend"`
	Resume     int     `json:"resume"`
	BolusUnits float64 `json:"bolus_units"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs           int64  `json:"poll_ms"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	LookbackMs       int64  `json:"lookback_ms"`
	CommandTimeoutMs int64  `json:"command_timeout_ms"`
	Broker           string `json:"broker"`
	HTTPPort         string `json:"http_port"`
	Peripheral       string `json:"peripheral"`
	PumpModel        string `json:"pump_model"`
	Timezone         string `json:"timezone"`
}

func buildInner(snap Snapshot) StatusInner {
	model := snap.Model
	if model == "" {
		model = "UNKNOWN"
	}

	inner := StatusInner{
		Pump: PumpJSON{
			Model:      model,
			Peripheral: snap.Config.Peripheral,
			Connected:  snap.Connected,
			Suspended:  snap.Suspended,
		},
		Ready:         snap.Synced,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Basal:      snap.Counts.Basal,
			TempBasal:  snap.Counts.TempBasal,
			Bolus:      snap.Counts.Bolus,
			Suspend:    snap.Counts.Suspend,
			Resume:     snap.Counts.Resume,
			BolusUnits: snap.Counts.BolusUnits,
		},
		CommandErrors: snap.CommandErrors,
		BridgeResets:  snap.BridgeResets,
		Config: ConfigJSON{
			PollMs:           snap.Config.PollMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			LookbackMs:       snap.Config.LookbackMs,
			CommandTimeoutMs: snap.Config.CommandTimeoutMs,
			Broker:           snap.Config.Broker,
			HTTPPort:         snap.Config.HTTPPort,
			Peripheral:       snap.Config.Peripheral,
			PumpModel:        snap.Config.PumpModel,
			Timezone:         snap.Config.Timezone,
		},
	}
	if !snap.LastSync.IsZero() {
		inner.LastSync = snap.LastSync.UTC().Format(time.RFC3339)
	}
	if snap.LastError != "" {
		inner.LastError = &ErrorJSON{
			Message: snap.LastError,
			At:      snap.LastErrorTime.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
