//go:build linux

package ble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// maxWrite is the largest write the link accepts at the default MTU.
const maxWrite = 20

// TinyGoTransport is a GATT central link built on tinygo.org/x/bluetooth
// (BlueZ on Linux).
type TinyGoTransport struct {
	adapter *bluetooth.Adapter

	mu         sync.Mutex
	handler    Handler
	state      ConnectionState
	services   map[UUID]bool
	chars      map[UUID]bluetooth.DeviceCharacteristic
	disconnect func() error

	// last Connect arguments, for Reconnect
	address      string
	wantServices []UUID
	wantChars    []UUID
	notify       UUID
}

// NewTinyGoTransport enables the default adapter.
func NewTinyGoTransport() (*TinyGoTransport, error) {
	t := &TinyGoTransport{
		adapter:  bluetooth.DefaultAdapter,
		services: make(map[UUID]bool),
		chars:    make(map[UUID]bluetooth.DeviceCharacteristic),
	}
	if err := t.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable BLE adapter: %w", err)
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		wasUp := t.state == StateConnected
		t.state = StateDisconnected
		h := t.handler
		t.mu.Unlock()
		if wasUp && h != nil {
			h.Disconnected(errors.New("link lost"))
		}
	})
	return t, nil
}

// Connect dials address, discovers the given services and characteristics
// and subscribes to notify.
func (t *TinyGoTransport) Connect(address string, services, chars []UUID, notify UUID) error {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", address, err)
	}

	t.mu.Lock()
	t.state = StateConnecting
	t.address, t.wantServices, t.wantChars, t.notify = address, services, chars, notify
	t.mu.Unlock()

	device, err := t.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{})
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("connect %s: %w", address, err)
	}

	found, err := device.DiscoverServices(toTinyGo(services))
	if err != nil {
		device.Disconnect()
		t.setState(StateDisconnected)
		return fmt.Errorf("discover services: %w", err)
	}

	discovered := make(map[UUID]bluetooth.DeviceCharacteristic)
	svcs := make(map[UUID]bool)
	for _, svc := range found {
		id, err := fromTinyGo(svc.UUID())
		if err != nil {
			continue
		}
		svcs[id] = true
		cs, err := svc.DiscoverCharacteristics(toTinyGo(chars))
		if err != nil {
			device.Disconnect()
			t.setState(StateDisconnected)
			return fmt.Errorf("discover characteristics of %s: %w", id, err)
		}
		for _, c := range cs {
			if cid, err := fromTinyGo(c.UUID()); err == nil {
				discovered[cid] = c
			}
		}
	}

	if c, ok := discovered[notify]; ok {
		err := c.EnableNotifications(func(buf []byte) {
			t.mu.Lock()
			h := t.handler
			t.mu.Unlock()
			if h != nil {
				h.ValueUpdated(notify, append([]byte(nil), buf...))
			}
		})
		if err != nil {
			device.Disconnect()
			t.setState(StateDisconnected)
			return fmt.Errorf("enable notifications on %s: %w", notify, err)
		}
	}

	t.mu.Lock()
	t.services = svcs
	t.chars = discovered
	t.state = StateConnected
	t.disconnect = device.Disconnect
	h := t.handler
	t.mu.Unlock()

	if h != nil {
		h.Connected()
	}
	return nil
}

// Reconnect drops any current link and dials the last address again.
func (t *TinyGoTransport) Reconnect() error {
	t.mu.Lock()
	address, services, chars, notify := t.address, t.wantServices, t.wantChars, t.notify
	disconnect := t.disconnect
	t.disconnect = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if address == "" {
		return errors.New("ble: reconnect before connect")
	}
	if disconnect != nil {
		// The old link is usually gone already.
		disconnect()
	}
	return t.Connect(address, services, chars, notify)
}

// Close drops the link.
func (t *TinyGoTransport) Close() error {
	t.mu.Lock()
	disconnect := t.disconnect
	t.disconnect = nil
	t.state = StateDisconnected
	t.mu.Unlock()
	if disconnect == nil {
		return nil
	}
	return disconnect()
}

func (t *TinyGoTransport) setState(s ConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// SetHandler registers the session.
func (t *TinyGoTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// WriteCharacteristic writes value without response, in chunks the link
// accepts.
func (t *TinyGoTransport) WriteCharacteristic(char UUID, value []byte) error {
	t.mu.Lock()
	c, ok := t.chars[char]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("characteristic %s not discovered", char)
	}
	for len(value) > 0 {
		n := len(value)
		if n > maxWrite {
			n = maxWrite
		}
		if _, err := c.WriteWithoutResponse(value[:n]); err != nil {
			return err
		}
		value = value[n:]
	}
	return nil
}

func (t *TinyGoTransport) HasService(service UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.services[service]
}

func (t *TinyGoTransport) HasCharacteristic(char UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.chars[char]
	return ok
}

func (t *TinyGoTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RSSI is not exposed for central connections by the BlueZ backend.
func (t *TinyGoTransport) RSSI() (int, error) {
	return 0, errors.New("ble: rssi not supported")
}

func toTinyGo(ids []UUID) []bluetooth.UUID {
	out := make([]bluetooth.UUID, len(ids))
	for i, id := range ids {
		out[i] = bluetooth.NewUUID(id)
	}
	return out
}

func fromTinyGo(id bluetooth.UUID) (UUID, error) {
	return uuid.Parse(id.String())
}
