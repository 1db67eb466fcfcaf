package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/tuhi/internal/drawing"
	"github.com/srg/tuhi/internal/groutine"
	"github.com/srg/tuhi/internal/transport"
	"github.com/srg/tuhi/internal/wire"
)

// Suspension-point deadlines (spec.md §5): "button-press timeout 10 s; auth
// ack 10 s; search timeout 60 s; listen has no intrinsic timeout."
const (
	authTimeout        = 10 * time.Second
	buttonPressTimeout = 10 * time.Second
	searchTimeout      = 60 * time.Second
)

// Button-notify characteristic codes. Not stated in any preserved
// documentation and not taken from a device capture: chosen values, like
// wire.Family.LiveStartOpcode (see DESIGN.md).
const (
	buttonPressRequired byte = 0x01
	buttonPressed       byte = 0x02
)

// Session drives one device's GATT state machine (spec.md §4.3). Each
// Session runs its blocking suspension points on its own goroutine
// (named via internal/groutine, following the teacher's
// internal/device.SubscriptionManager convention) but only ever mutates
// its own fields and the shared drawing.Device/registry.Registry, both of
// which are internally synchronized — so concurrent sessions for
// different devices never contend, and the "single owner" discipline
// spec.md §4.5 asks for is upheld per-device rather than via one global
// lock.
type Session struct {
	logger    *logrus.Logger
	transport transport.Transport
	device    *drawing.Device
	family    wire.Family

	mu       sync.Mutex
	state    State
	busy     BusyOp
	conn     transport.Connection
	respR    *wire.ResponseReassembler // generic command acks (status-byte framing)
	bulkR    *wire.Reassembler         // fetch bulk stream (command-style framing)
	notifyCh <-chan []byte
	buttonCh <-chan []byte

	listeningOwner string
	liveOwner      string

	cancel context.CancelFunc
}

func newSession(logger *logrus.Logger, tp transport.Transport, device *drawing.Device, family wire.Family) *Session {
	return &Session{
		logger:    logger,
		transport: tp,
		device:    device,
		family:    family,
		state:     StateDisconnected,
		respR:     wire.NewResponseReassembler(),
		bulkR:     wire.NewReassembler(),
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setBusy(op BusyOp) {
	s.mu.Lock()
	s.busy = op
	s.state = StateBusy
	s.mu.Unlock()
}

func (s *Session) clearBusy(next State) {
	s.mu.Lock()
	s.busy = OpNone
	s.state = next
	s.mu.Unlock()
}

// connect dials the device, discovers services, and subscribes to the
// notify and button characteristics, taking the session from
// Disconnected through ServicesResolved. It is a no-op if already past
// Disconnected.
func (s *Session) connect(ctx context.Context) error {
	if s.State() != StateDisconnected {
		return nil
	}
	s.setState(StateConnecting)

	conn, err := s.transport.Connect(ctx, s.device.Address)
	if err != nil {
		s.setState(StateDisconnected)
		return &wire.OpError{Kind: wire.KindTransportLost, Err: err}
	}

	services, err := conn.DiscoverServices(ctx)
	if err != nil {
		conn.Disconnect()
		s.setState(StateDisconnected)
		return &wire.OpError{Kind: wire.KindTransportLost, Err: err}
	}
	if !hasService(services, wire.ServiceUUID) {
		conn.Disconnect()
		s.setState(StateDisconnected)
		return &wire.OpError{Kind: wire.KindNotReady, Err: fmt.Errorf("device does not expose the SmartPad vendor service")}
	}

	notifyCh, err := conn.Subscribe(ctx, wire.CharNotifyUUID)
	if err != nil {
		conn.Disconnect()
		s.setState(StateDisconnected)
		return &wire.OpError{Kind: wire.KindTransportLost, Err: err}
	}
	buttonCh, err := conn.Subscribe(ctx, wire.CharButtonUUID)
	if err != nil {
		conn.Disconnect()
		s.setState(StateDisconnected)
		return &wire.OpError{Kind: wire.KindTransportLost, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.notifyCh = notifyCh
	s.buttonCh = buttonCh
	s.state = StateServicesResolved
	s.mu.Unlock()

	groutine.Go(ctx, "session-watchdog:"+s.device.Address, func(ctx context.Context) {
		<-conn.Disconnected()
		s.onTransportLost()
	})

	return nil
}

func (s *Session) onTransportLost() {
	s.mu.Lock()
	s.conn = nil
	s.notifyCh = nil
	s.buttonCh = nil
	s.state = StateDisconnected
	s.busy = OpNone
	s.respR.Reset()
	s.bulkR.Reset()
	s.mu.Unlock()
}

func hasService(services []transport.Service, uuid string) bool {
	for _, svc := range services {
		if svc.UUID == uuid {
			return true
		}
	}
	return false
}

func (s *Session) currentConn() transport.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// sendCommand writes one framed command on the write characteristic.
func (s *Session) sendCommand(ctx context.Context, op wire.Opcode, payload []byte) error {
	conn := s.currentConn()
	if conn == nil {
		return &wire.OpError{Kind: wire.KindTransportLost, Err: fmt.Errorf("no active connection")}
	}
	return conn.Write(ctx, wire.CharWriteUUID, wire.EncodeCommand(op, payload), transport.WriteWithResponse)
}

// awaitResponse blocks for the next complete response frame on the
// notify channel matching op, applying deadline as the suspension-point
// bound (spec.md §5, §9: "explicit deadline passed to each suspension
// point").
func (s *Session) awaitResponse(ctx context.Context, op wire.Opcode, deadline time.Duration) (*wire.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	notifyCh := s.notifyCh
	for {
		select {
		case <-ctx.Done():
			return nil, &wire.OpError{Kind: wire.KindTimeout, Err: ctx.Err()}
		case chunk, ok := <-notifyCh:
			if !ok {
				return nil, &wire.OpError{Kind: wire.KindTransportLost, Err: fmt.Errorf("notify channel closed")}
			}
			resps, err := s.respR.Feed(chunk)
			if err != nil {
				return nil, err
			}
			for _, resp := range resps {
				if resp.Opcode == op {
					return resp, nil
				}
			}
		}
	}
}

// authenticate writes the registration UUID to the auth/write
// characteristic and waits for the acknowledgement opcode (spec.md §4.3
// ServicesResolved -> AuthPending -> Ready).
func (s *Session) authenticate(ctx context.Context) error {
	s.setState(StateAuthPending)

	if err := s.sendCommand(ctx, wire.OpAckE6, s.device.UUID[:]); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	resp, err := s.awaitResponse(ctx, wire.OpAckE6, authTimeout)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}
	if resp.Status != wire.StatusOK {
		opErr := wire.StatusError(resp.Status)
		if opErr.Kind == wire.KindNotAuthorized {
			s.setState(StateDisconnected)
			return opErr
		}
		s.setState(StateDisconnected)
		return opErr
	}
	s.setState(StateReady)
	return nil
}

// queryDeviceInfo fills in dimensions and battery on the device record.
// Name and firmware are not queried. Called once the session reaches Ready.
func (s *Session) queryDeviceInfo(ctx context.Context) error {
	if err := s.sendCommand(ctx, wire.OpGetDimension, nil); err != nil {
		return err
	}
	resp, err := s.awaitResponse(ctx, wire.OpGetDimension, authTimeout)
	if err != nil {
		return err
	}
	if resp.Status == wire.StatusOK && len(resp.Payload) >= 4 {
		width := uint32(resp.Payload[0]) | uint32(resp.Payload[1])<<8
		height := uint32(resp.Payload[2]) | uint32(resp.Payload[3])<<8
		s.device.SetDimensions(width, height)
	}

	if err := s.sendCommand(ctx, wire.OpGetBattery, nil); err != nil {
		return err
	}
	resp, err = s.awaitResponse(ctx, wire.OpGetBattery, authTimeout)
	if err != nil {
		return err
	}
	if resp.Status == wire.StatusOK && len(resp.Payload) >= 2 {
		percent := uint32(resp.Payload[0])
		state := drawing.BatteryState(resp.Payload[1])
		s.device.SetBattery(percent, state)
	}
	return nil
}

// Register implements spec.md §4.3's registration sub-flow: write 0xe7 +
// a fresh 16-byte UUID and wait for the device's explicit ack to it (a
// ButtonPressRequired notification on the button characteristic is not
// accepted in place of the ack), then call onButtonPressRequired, wait for
// the user's physical button press, and mark the device registered on
// success.
func (s *Session) Register(ctx context.Context, onButtonPressRequired func()) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	s.setBusy(OpRegistering)

	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		s.clearBusy(StateDisconnected)
		return &wire.OpError{Kind: wire.KindProtocolError, Err: err}
	}

	if err := s.sendCommand(ctx, wire.OpRegister, uuid[:]); err != nil {
		s.clearBusy(StateDisconnected)
		return err
	}
	resp, err := s.awaitResponse(ctx, wire.OpRegister, buttonPressTimeout)
	if err != nil {
		s.clearBusy(StateDisconnected)
		return err
	}
	if resp.Status != wire.StatusOK {
		s.clearBusy(StateDisconnected)
		return wire.StatusError(resp.Status)
	}

	if onButtonPressRequired != nil {
		onButtonPressRequired()
	}

	if err := s.awaitButtonPress(ctx, buttonPressTimeout); err != nil {
		s.clearBusy(StateDisconnected)
		return err
	}

	s.device.MarkRegistered(uuid)
	s.clearBusy(StateReady)
	return nil
}

func (s *Session) awaitButtonPress(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	buttonCh := s.buttonCh
	for {
		select {
		case <-ctx.Done():
			return &wire.OpError{Kind: wire.KindTimeout, Err: ctx.Err()}
		case b, ok := <-buttonCh:
			if !ok {
				return &wire.OpError{Kind: wire.KindTransportLost, Err: fmt.Errorf("button channel closed")}
			}
			if len(b) == 0 {
				continue
			}
			if b[0] == buttonPressed {
				return nil
			}
			// buttonPressRequired or anything else: keep waiting.
		}
	}
}

// Fetch implements spec.md §4.3's fetch flow and §4.4's assembler
// wiring: write StartReading, decode the bulk stream into a Drawing, and
// AckData only on full success (spec.md §7: "Partial fetch failure...
// the partial data is discarded (no AckData sent").
func (s *Session) Fetch(ctx context.Context, sessionID string, baseTimestamp uint64) (*drawing.Drawing, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if s.State() == StateServicesResolved {
		if err := s.authenticate(ctx); err != nil {
			return nil, err
		}
		_ = s.queryDeviceInfo(ctx)
	}
	s.setBusy(OpFetchingDrawing)

	if err := s.sendCommand(ctx, wire.OpStartReading, nil); err != nil {
		s.clearBusy(StateReady)
		return nil, err
	}

	pen := wire.NewPenDecoder()
	asm := drawing.NewAssembler(s.family, s.device.WidthUm, s.device.HeightUm)

	notifyCh := s.notifyCh
	for {
		var chunk []byte
		var ok bool
		select {
		case <-ctx.Done():
			s.clearBusy(StateReady)
			return nil, &wire.OpError{Kind: wire.KindTimeout, Err: ctx.Err()}
		case chunk, ok = <-notifyCh:
		}
		if !ok {
			s.clearBusy(StateDisconnected)
			return nil, &wire.OpError{Kind: wire.KindTransportLost, Err: fmt.Errorf("notify channel closed during fetch")}
		}
		// Bulk channel notifications carry command-style framing
		// ([opcode][length][payload], no status byte), per spec.md §4.2:
		// "Notifications on the bulk channel carry the same framing [as
		// commands]."
		frames, err := s.bulkR.Feed(chunk)
		if err != nil {
			s.bulkR.Reset()
			s.clearBusy(StateReady)
			return nil, err
		}
		done := false
		for _, frame := range frames {
			op := wire.Opcode(frame[0])
			payload := frame[2:]
			switch op {
			case wire.OpAckData:
				events, err := pen.Feed(payload)
				for _, ev := range events {
					asm.Feed(ev)
				}
				if err != nil {
					s.bulkR.Reset()
					s.clearBusy(StateReady)
					return nil, err
				}
			case wire.OpEndOfDrawing:
				done = true
			}
		}
		if done {
			break
		}
	}

	dr := asm.Finish(s.device.Address, s.device.Name, sessionID, baseTimestamp)
	s.device.AppendDrawing(dr)

	if err := s.sendCommand(ctx, wire.OpAckData, nil); err != nil {
		s.logger.WithError(err).Warn("fetch succeeded but AckData delete failed; device will re-offer the drawing")
	}

	s.clearBusy(StateReady)
	return dr, nil
}

// StartLive implements spec.md §4.3's live mode: reconfigure the device
// with its family-specific opcode, then forward decoded points to
// pointSink (internal/rpc wires this to a virtual-input writer,
// internal/uhid) until the context is canceled.
func (s *Session) StartLive(ctx context.Context, owner string, pointSink func(x, y, pressure uint32)) error {
	if !s.family.LiveSupported {
		return &wire.OpError{Kind: wire.KindNotReady, Err: fmt.Errorf("family %s does not support live mode", s.family.Tag)}
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	if s.State() == StateServicesResolved {
		if err := s.authenticate(ctx); err != nil {
			return err
		}
		_ = s.queryDeviceInfo(ctx)
	}

	s.mu.Lock()
	s.liveOwner = owner
	s.mu.Unlock()
	s.setBusy(OpLive)

	if err := s.sendCommand(ctx, s.family.LiveStartOpcode, nil); err != nil {
		s.clearBusy(StateReady)
		return err
	}

	liveCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	pen := wire.NewPenDecoder()
	notifyCh := s.notifyCh
	groutine.Go(liveCtx, "live:"+s.device.Address, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-notifyCh:
				if !ok {
					return
				}
				frames, err := s.bulkR.Feed(chunk)
				if err != nil {
					s.logger.WithError(err).Warn("live decode error")
					continue
				}
				for _, frame := range frames {
					payload := frame[2:]
					events, _ := pen.Feed(payload)
					for _, ev := range events {
						if ev.Kind != wire.EventPoint {
							continue
						}
						if pointSink != nil {
							x, y := uint32(ev.Point.X), uint32(ev.Point.Y)
							pointSink(x, y, uint32(ev.Point.Pressure))
						}
					}
				}
			}
		}
	})

	return nil
}

// StopLive cancels the live forwarding goroutine and returns the session
// to Ready.
func (s *Session) StopLive() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.liveOwner = ""
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.clearBusy(StateReady)
}

// LiveOwner returns the client id currently holding live mode, or "".
func (s *Session) LiveOwner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveOwner
}

// Disconnect tears down the transport connection, per spec.md §4.3's
// "Any state -> Disconnected: on ... explicit Stop."
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
	s.onTransportLost()
}
