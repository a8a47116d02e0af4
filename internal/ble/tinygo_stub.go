//go:build !linux

package ble

import "errors"

// TinyGoTransport is not available on non-Linux platforms.
type TinyGoTransport struct{}

// NewTinyGoTransport returns an error on non-Linux platforms.
func NewTinyGoTransport() (*TinyGoTransport, error) {
	return nil, errors.New("ble: not supported on this platform (requires Linux)")
}

// Connect is not implemented on non-Linux platforms.
func (t *TinyGoTransport) Connect(address string, services, chars []UUID, notify UUID) error {
	return errors.New("ble: not supported")
}

// Reconnect is not implemented on non-Linux platforms.
func (t *TinyGoTransport) Reconnect() error {
	return errors.New("ble: not supported")
}

// Close is not implemented on non-Linux platforms.
func (t *TinyGoTransport) Close() error { return nil }

func (t *TinyGoTransport) SetHandler(h Handler) {}

func (t *TinyGoTransport) WriteCharacteristic(char UUID, value []byte) error {
	return errors.New("ble: not supported")
}

func (t *TinyGoTransport) HasService(service UUID) bool { return false }

func (t *TinyGoTransport) HasCharacteristic(char UUID) bool { return false }

func (t *TinyGoTransport) State() ConnectionState { return StateDisconnected }

func (t *TinyGoTransport) RSSI() (int, error) { return 0, errors.New("ble: not supported") }
