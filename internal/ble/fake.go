package ble

import (
	"errors"
	"sync"
)

// Responder scripts a peripheral: given a write it returns the notifications
// to deliver, in order, and the characteristic they arrive on.
type Responder func(char UUID, value []byte) (notify UUID, chunks [][]byte)

// FakeTransport is a test double for a peripheral link.
// Notifications are delivered synchronously from WriteCharacteristic.
type FakeTransport struct {
	mu       sync.Mutex
	handler  Handler
	state    ConnectionState
	services map[UUID]bool
	chars    map[UUID]bool
	respond  Responder
	writes   [][]byte

	// WriteError, if set, is returned by WriteCharacteristic.
	WriteError error

	// Block, if set, makes WriteCharacteristic wait until it is closed.
	Block chan struct{}

	// Rssi is returned by RSSI.
	Rssi int

	// ReconnectError, if set, is returned by Reconnect and the link stays down.
	ReconnectError error

	reconnects int
}

// NewFakeTransport creates a connected FakeTransport exposing the given
// services and characteristics.
func NewFakeTransport(services, chars []UUID) *FakeTransport {
	f := &FakeTransport{
		state:    StateConnected,
		services: make(map[UUID]bool),
		chars:    make(map[UUID]bool),
		Rssi:     -60,
	}
	for _, s := range services {
		f.services[s] = true
	}
	for _, c := range chars {
		f.chars[c] = true
	}
	return f
}

// SetHandler registers the session.
func (f *FakeTransport) SetHandler(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// Respond installs the script used for every subsequent write.
func (f *FakeTransport) Respond(r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = r
}

// WriteCharacteristic records the write and plays back the script.
func (f *FakeTransport) WriteCharacteristic(char UUID, value []byte) error {
	f.mu.Lock()
	if f.WriteError != nil {
		err := f.WriteError
		f.mu.Unlock()
		return err
	}
	if f.state != StateConnected {
		f.mu.Unlock()
		return errors.New("fake: not connected")
	}
	f.writes = append(f.writes, append([]byte(nil), value...))
	block, respond, h := f.Block, f.respond, f.handler
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if respond == nil || h == nil {
		return nil
	}
	notify, chunks := respond(char, value)
	for _, c := range chunks {
		h.ValueUpdated(notify, c)
	}
	return nil
}

// Notify delivers an unsolicited notification.
func (f *FakeTransport) Notify(char UUID, value []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.ValueUpdated(char, value)
	}
}

// Disconnect drops the link and tells the handler.
func (f *FakeTransport) Disconnect(err error) {
	f.mu.Lock()
	f.state = StateDisconnected
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.Disconnected(err)
	}
}

// Connect restores the link and tells the handler.
func (f *FakeTransport) Connect() {
	f.mu.Lock()
	f.state = StateConnected
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.Connected()
	}
}

// Reconnect implements Redialer.
func (f *FakeTransport) Reconnect() error {
	f.mu.Lock()
	f.reconnects++
	err := f.ReconnectError
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.Connect()
	return nil
}

// Reconnects returns how many times Reconnect was called.
func (f *FakeTransport) Reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

// Writes returns a copy of every value written so far.
func (f *FakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// HasService reports whether the fake exposes service.
func (f *FakeTransport) HasService(service UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services[service]
}

// HasCharacteristic reports whether the fake exposes char.
func (f *FakeTransport) HasCharacteristic(char UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chars[char]
}

// State returns the scripted connection state.
func (f *FakeTransport) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// RSSI returns the scripted signal strength.
func (f *FakeTransport) RSSI() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Rssi, nil
}
