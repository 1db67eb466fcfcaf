// Package transporttest provides an in-memory fake transport.Transport,
// grounded on the teacher's internal/testutils.MockBLEPeripheralSuite
// mock-peripheral pattern but rewritten against the internal/transport
// contract directly instead of wrapping go-ble.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/srg/tuhi/internal/transport"
)

// Peripheral is a scriptable fake SmartPad. The handler registered with
// OnWrite receives every byte buffer written to its characteristic and may
// push notifications back through the push function it is given.
type Peripheral struct {
	Address     string
	Name        string
	ServiceData map[string][]byte
	Services    []transport.Service

	mu          sync.Mutex
	writeChar   string
	writeFn     func(data []byte, push func(charUUID string, data []byte))
	subscribers map[string][]chan []byte
	connected   bool
	discch      chan struct{}
}

// NewPeripheral returns an empty scriptable peripheral.
func NewPeripheral(address, name string) *Peripheral {
	return &Peripheral{
		Address:     address,
		Name:        name,
		subscribers: make(map[string][]chan []byte),
	}
}

// OnWrite registers the handler invoked for every write to writeCharUUID.
func (p *Peripheral) OnWrite(writeCharUUID string, fn func(data []byte, push func(charUUID string, data []byte))) {
	p.writeChar = writeCharUUID
	p.writeFn = fn
}

// push delivers a notification to every current subscriber of charUUID.
func (p *Peripheral) push(charUUID string, data []byte) {
	p.mu.Lock()
	subs := append([]chan []byte(nil), p.subscribers[charUUID]...)
	p.mu.Unlock()
	for _, ch := range subs {
		ch <- data
	}
}

// Disconnect simulates a transport-initiated disconnect (spec.md §7
// TransportLost).
func (p *Peripheral) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected && p.discch != nil {
		close(p.discch)
		p.connected = false
	}
}

// Fake implements transport.Transport by serving a fixed set of
// Peripherals, looked up by address on Connect and surfaced as
// advertisements on Scan.
type Fake struct {
	mu          sync.Mutex
	peripherals map[string]*Peripheral
}

// New returns an empty Fake transport.
func New() *Fake {
	return &Fake{peripherals: make(map[string]*Peripheral)}
}

// Add registers a peripheral so Scan/Connect can find it.
func (f *Fake) Add(p *Peripheral) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peripherals[p.Address] = p
}

func (f *Fake) Scan(ctx context.Context, duration time.Duration) (<-chan transport.Advertisement, error) {
	out := make(chan transport.Advertisement, 16)
	f.mu.Lock()
	snapshot := make([]*Peripheral, 0, len(f.peripherals))
	for _, p := range f.peripherals {
		snapshot = append(snapshot, p)
	}
	f.mu.Unlock()

	go func() {
		defer close(out)
		for _, p := range snapshot {
			select {
			case out <- transport.Advertisement{Address: p.Address, Name: p.Name, ServiceData: p.ServiceData}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(duration):
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (f *Fake) Connect(ctx context.Context, address string) (transport.Connection, error) {
	f.mu.Lock()
	p, ok := f.peripherals[address]
	f.mu.Unlock()
	if !ok {
		return nil, transport.ErrNotFound
	}

	p.mu.Lock()
	p.connected = true
	p.discch = make(chan struct{})
	p.mu.Unlock()

	return &fakeConn{p: p}, nil
}

type fakeConn struct {
	p *Peripheral
}

func (c *fakeConn) DiscoverServices(_ context.Context) ([]transport.Service, error) {
	return c.p.Services, nil
}

func (c *fakeConn) Write(_ context.Context, charUUID string, data []byte, _ transport.WriteMode) error {
	if charUUID != c.p.writeChar || c.p.writeFn == nil {
		return nil
	}
	c.p.writeFn(data, c.p.push)
	return nil
}

func (c *fakeConn) Read(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}

func (c *fakeConn) Subscribe(_ context.Context, charUUID string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	c.p.mu.Lock()
	c.p.subscribers[charUUID] = append(c.p.subscribers[charUUID], ch)
	c.p.mu.Unlock()
	return ch, nil
}

func (c *fakeConn) Unsubscribe(charUUID string) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for _, ch := range c.p.subscribers[charUUID] {
		close(ch)
	}
	delete(c.p.subscribers, charUUID)
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.p.Disconnect()
	return nil
}

func (c *fakeConn) Disconnected() <-chan struct{} {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.p.discch
}
