// Package ble is a request/response channel over a GATT peripheral.
//
// A Session owns one peripheral. It writes a command to a characteristic and
// waits for the reply on a notifying characteristic, with a hard deadline,
// and turns every failure into a CommandError. The radio itself sits behind
// the Transport interface: FakeTransport for tests, TinyGoTransport on Linux.
package ble

// ConnectionState of the underlying peripheral link.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

// Transport is the radio link to one peripheral.
type Transport interface {
	// SetHandler registers where link events are delivered. A transport has
	// at most one handler.
	SetHandler(h Handler)

	// WriteCharacteristic writes value to the characteristic. It may block
	// until the radio accepts the write.
	WriteCharacteristic(char UUID, value []byte) error

	HasService(service UUID) bool
	HasCharacteristic(char UUID) bool
	State() ConnectionState
	RSSI() (int, error)
}

// Redialer is a Transport that can bring a lost link back up.
type Redialer interface {
	// Reconnect drops any current link and dials the peripheral again.
	Reconnect() error
}

// Handler receives link events from a Transport. Calls may come from any
// goroutine.
type Handler interface {
	ValueUpdated(char UUID, value []byte)
	Connected()
	Disconnected(err error)
}
