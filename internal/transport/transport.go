// Package transport defines the GATT transport adapter contract spec.md
// §4.1 describes: enumerate adjacent peripherals, connect/disconnect,
// discover services and characteristics, read/write a characteristic
// value, and subscribe to notifications. The session protocol
// (internal/session) depends only on this contract; internal/transport/goble
// is the concrete adapter over github.com/go-ble/ble, and
// internal/transport/transporttest is an in-memory fake used by tests.
package transport

import (
	"context"
	"time"
)

// Advertisement is one BLE advertisement observed during a scan.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int

	// ServiceData carries vendor service-data payloads keyed by UUID,
	// used to recognize a device's pairing-mode marker (spec.md §4.3).
	ServiceData map[string][]byte
}

// Service is one discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo describes one discovered characteristic.
type CharacteristicInfo struct {
	UUID          string
	Notifiable    bool
	WriteNoResp   bool
	WriteResponse bool
	Readable      bool
}

// WriteMode selects whether a characteristic write expects a response.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

// ErrNotFound, ErrUnreachable and ErrTimeout are the connect-time failure
// modes spec.md §4.1 enumerates.
var (
	ErrNotFound   = transportError("device not found")
	ErrUnreachable = transportError("device unreachable")
	ErrTimeout    = transportError("operation timed out")
)

type transportError string

func (e transportError) Error() string { return string(e) }

// Connection is a live GATT connection to one peripheral.
type Connection interface {
	// DiscoverServices returns the connected device's primary services
	// and their characteristics.
	DiscoverServices(ctx context.Context) ([]Service, error)

	// Write sends bytes to a characteristic, chunked to the transport's
	// MTU if needed.
	Write(ctx context.Context, charUUID string, data []byte, mode WriteMode) error

	// Read performs a one-shot characteristic read.
	Read(ctx context.Context, charUUID string) ([]byte, error)

	// Subscribe delivers each notification on charUUID as one buffer, in
	// arrival order. The returned channel is closed when the subscription
	// ends (Unsubscribe, Disconnect, or transport failure).
	Subscribe(ctx context.Context, charUUID string) (<-chan []byte, error)
	Unsubscribe(charUUID string) error

	// Disconnect tears down the connection. Disconnected() is closed once
	// the connection is gone, whether via explicit Disconnect or a
	// transport-initiated loss.
	Disconnect() error
	Disconnected() <-chan struct{}
}

// Transport is the adapter contract consumed by internal/session.
type Transport interface {
	// Scan streams advertisements for duration and then closes the
	// returned channel.
	Scan(ctx context.Context, duration time.Duration) (<-chan Advertisement, error)

	// Connect dials a peripheral by address. Failure modes are
	// ErrUnreachable, ErrNotFound, ErrTimeout.
	Connect(ctx context.Context, address string) (Connection, error)
}
