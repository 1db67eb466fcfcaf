// Package goble adapts github.com/go-ble/ble to the internal/transport
// contract, grounded on the teacher's internal/device/go-ble adapter layer
// and pkg/connection.Connection's chunked-write discipline.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/tuhi/internal/transport"
)

// writeChunkSize matches the BLE ATT MTU the teacher's
// pkg/connection.Connection.WriteToCharacteristic assumes absent an MTU
// negotiation (spec.md §4.2's fixed 20-byte notification chunking applies
// symmetrically to writes here).
const writeChunkSize = 20

// DeviceFactory creates the default ble.Device for this platform. Tuhi
// targets Linux/BlueZ (spec.md §1), unlike the teacher's darwin-only
// default — see DESIGN.md.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// Adapter implements transport.Transport over go-ble.
type Adapter struct {
	logger *logrus.Logger
	dev    ble.Device
}

// New returns a Transport backed by the host's BLE adapter.
func New(logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return &Adapter{logger: logger, dev: dev}, nil
}

func (a *Adapter) Scan(ctx context.Context, duration time.Duration) (<-chan transport.Advertisement, error) {
	out := make(chan transport.Advertisement, 32)
	scanCtx, cancel := context.WithTimeout(ctx, duration)

	go func() {
		defer close(out)
		defer cancel()
		handler := func(adv ble.Advertisement) {
			sd := make(map[string][]byte, len(adv.ServiceData()))
			for _, d := range adv.ServiceData() {
				sd[d.UUID.String()] = d.Data
			}
			select {
			case out <- transport.Advertisement{
				Address:     adv.Addr().String(),
				Name:        adv.LocalName(),
				RSSI:        adv.RSSI(),
				ServiceData: sd,
			}:
			case <-scanCtx.Done():
			}
		}
		if err := ble.Scan(scanCtx, true, handler, nil); err != nil {
			a.logger.WithError(err).Debug("scan ended")
		}
	}()

	return out, nil
}

func (a *Adapter) Connect(ctx context.Context, address string) (transport.Connection, error) {
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		if ctx.Err() != nil {
			return nil, transport.ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("discover profile: %w", err)
	}

	conn := &Connection{
		logger:    a.logger,
		client:    client,
		profile:   profile,
		chars:     make(map[string]*ble.Characteristic),
		subs:      make(map[string]chan []byte),
		disconned: make(chan struct{}),
	}
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			conn.chars[c.UUID.String()] = c
		}
	}

	go func() {
		<-client.Disconnected()
		conn.markDisconnected()
	}()

	return conn, nil
}

// Connection implements transport.Connection over one go-ble client.
type Connection struct {
	logger *logrus.Logger

	client  ble.Client
	profile *ble.Profile

	mu        sync.Mutex
	chars     map[string]*ble.Characteristic
	subs      map[string]chan []byte
	closed    bool
	disconned chan struct{}
}

func (c *Connection) DiscoverServices(_ context.Context) ([]transport.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	services := make([]transport.Service, 0, len(c.profile.Services))
	for _, svc := range c.profile.Services {
		s := transport.Service{UUID: svc.UUID.String()}
		for _, ch := range svc.Characteristics {
			s.Characteristics = append(s.Characteristics, transport.CharacteristicInfo{
				UUID:          ch.UUID.String(),
				Notifiable:    ch.Property&ble.CharNotify != 0 || ch.Property&ble.CharIndicate != 0,
				WriteNoResp:   ch.Property&ble.CharWriteNR != 0,
				WriteResponse: ch.Property&ble.CharWrite != 0,
				Readable:      ch.Property&ble.CharRead != 0,
			})
		}
		services = append(services, s)
	}
	return services, nil
}

func (c *Connection) characteristic(uuid string) (*ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %q", transport.ErrNotFound, uuid)
	}
	return ch, nil
}

func (c *Connection) Write(_ context.Context, charUUID string, data []byte, mode transport.WriteMode) error {
	ch, err := c.characteristic(charUUID)
	if err != nil {
		return err
	}
	noRsp := mode == transport.WriteWithoutResponse
	for len(data) > 0 {
		n := len(data)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if err := c.client.WriteCharacteristic(ch, data[:n], noRsp); err != nil {
			return fmt.Errorf("write characteristic %s: %w", charUUID, err)
		}
		data = data[n:]
	}
	return nil
}

func (c *Connection) Read(_ context.Context, charUUID string) ([]byte, error) {
	ch, err := c.characteristic(charUUID)
	if err != nil {
		return nil, err
	}
	return c.client.ReadCharacteristic(ch)
}

func (c *Connection) Subscribe(_ context.Context, charUUID string) (<-chan []byte, error) {
	ch, err := c.characteristic(charUUID)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 64)
	c.mu.Lock()
	c.subs[charUUID] = out
	c.mu.Unlock()

	handler := func(data []byte) {
		cp := append([]byte(nil), data...)
		select {
		case out <- cp:
		default:
			c.logger.WithField("characteristic", charUUID).Warn("notification channel full, dropping buffer")
		}
	}
	if err := c.client.Subscribe(ch, false, handler); err != nil {
		c.mu.Lock()
		delete(c.subs, charUUID)
		c.mu.Unlock()
		close(out)
		return nil, fmt.Errorf("subscribe %s: %w", charUUID, err)
	}
	return out, nil
}

func (c *Connection) Unsubscribe(charUUID string) error {
	ch, err := c.characteristic(charUUID)
	if err != nil {
		return err
	}
	if uErr := c.client.Unsubscribe(ch, false); uErr != nil {
		c.logger.WithError(uErr).WithField("characteristic", charUUID).Debug("unsubscribe failed")
	}
	c.mu.Lock()
	if out, ok := c.subs[charUUID]; ok {
		close(out)
		delete(c.subs, charUUID)
	}
	c.mu.Unlock()
	return nil
}

func (c *Connection) Disconnect() error {
	err := c.client.CancelConnection()
	c.markDisconnected()
	return err
}

func (c *Connection) Disconnected() <-chan struct{} {
	return c.disconned
}

func (c *Connection) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for uuid, out := range c.subs {
		close(out)
		delete(c.subs, uuid)
	}
	close(c.disconned)
}
