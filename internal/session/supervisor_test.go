package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/tuhi/internal/registry"
	"github.com/srg/tuhi/internal/transport"
	"github.com/srg/tuhi/internal/transport/transporttest"
	"github.com/srg/tuhi/internal/wire"
)

func responseFrame(op wire.Opcode, status wire.Status, payload []byte) []byte {
	buf := make([]byte, 3+len(payload))
	buf[0] = byte(op)
	buf[1] = byte(status)
	buf[2] = byte(len(payload))
	copy(buf[3:], payload)
	return buf
}

func vendorServices() []transport.Service {
	return []transport.Service{{
		UUID: wire.ServiceUUID,
		Characteristics: []transport.CharacteristicInfo{
			{UUID: wire.CharWriteUUID, WriteResponse: true},
			{UUID: wire.CharNotifyUUID, Notifiable: true},
			{UUID: wire.CharButtonUUID, Notifiable: true},
		},
	}}
}

func newRegisteredSlatePeripheral(address string) *transporttest.Peripheral {
	p := transporttest.NewPeripheral(address, "Bamboo Slate")
	p.Services = vendorServices()
	return p
}

func TestFetchHappyPath(t *testing.T) {
	address := "AA:BB:CC:DD:EE:01"
	p := newRegisteredSlatePeripheral(address)

	p.OnWrite(wire.CharWriteUUID, func(data []byte, push func(string, []byte)) {
		op := wire.Opcode(data[0])
		switch op {
		case wire.OpAckE6:
			push(wire.CharNotifyUUID, responseFrame(wire.OpAckE6, wire.StatusOK, nil))
		case wire.OpGetDimension:
			push(wire.CharNotifyUUID, responseFrame(wire.OpGetDimension, wire.StatusOK, []byte{0x08, 0x52, 0x04, 0x74})) // 21000, 29700 LE
		case wire.OpGetBattery:
			push(wire.CharNotifyUUID, responseFrame(wire.OpGetBattery, wire.StatusOK, []byte{80, 0}))
		case wire.OpStartReading:
			penPayload := append([]byte{0xff}, buildAbsolute(0, 100, 200, 1000)...)
			// The bulk stream uses command-style framing (no status byte).
			push(wire.CharNotifyUUID, wire.EncodeCommand(wire.OpAckData, penPayload))
			push(wire.CharNotifyUUID, wire.EncodeCommand(wire.OpEndOfDrawing, nil))
		}
	})

	tp := transporttest.New()
	tp.Add(p)

	reg := registry.New(nil)
	dir := t.TempDir()
	store := registry.NewFileStore(dir + "/store.yaml")
	require.NoError(t, store.Put(address, registry.Record{UUID: "00112233445566778899aabbccddeeff", Family: wire.TagSlate}))

	sv, err := NewSupervisor(nil, tp, reg, store)
	require.NoError(t, err)

	sv.mu.Lock()
	s := sv.sessions[address]
	sv.mu.Unlock()
	require.NotNil(t, s)

	dr, err := s.Fetch(context.Background(), "sess1", 1700000000)
	require.NoError(t, err)
	require.Len(t, dr.Strokes, 1)
	require.Len(t, dr.Strokes[0].Points, 1)
	// Slate rotates the sensor: (x,y) -> (y, width-x) = (200, 21000-100).
	assert.EqualValues(t, 200, *dr.Strokes[0].Points[0].X)
	assert.EqualValues(t, 21000-100, *dr.Strokes[0].Points[0].Y)
}

func buildAbsolute(t uint16, x, y, p uint16) []byte {
	buf := make([]byte, 9)
	buf[0] = wire.PacketAbsolute
	buf[1], buf[2] = byte(t), byte(t>>8)
	buf[3], buf[4] = byte(x), byte(x>>8)
	buf[5], buf[6] = byte(y), byte(y>>8)
	buf[7], buf[8] = byte(p), byte(p>>8)
	return buf
}

func TestRegisterWaitsForButtonPress(t *testing.T) {
	address := "AA:BB:CC:DD:EE:02"
	p := transporttest.NewPeripheral(address, "Bamboo Spark")
	p.Services = vendorServices()

	p.OnWrite(wire.CharWriteUUID, func(data []byte, push func(string, []byte)) {
		op := wire.Opcode(data[0])
		if op == wire.OpRegister {
			push(wire.CharNotifyUUID, responseFrame(wire.OpRegister, wire.StatusOK, nil))
			go func() {
				time.Sleep(10 * time.Millisecond)
				push(wire.CharButtonUUID, []byte{buttonPressed})
			}()
		}
	})

	tp := transporttest.New()
	tp.Add(p)

	reg := registry.New(nil)
	store := registry.NewFileStore(t.TempDir() + "/store.yaml")
	sv, err := NewSupervisor(nil, tp, reg, store)
	require.NoError(t, err)

	promptFired := false
	errno := sv.Register(context.Background(), address, "Bamboo Spark", wire.TagSpark, func() { promptFired = true })
	require.EqualValues(t, 0, errno)
	assert.True(t, promptFired)

	d, ok := reg.Get(address)
	require.True(t, ok)
	assert.True(t, d.Registered())
}

func TestRegisterRejectedWrongMode(t *testing.T) {
	address := "AA:BB:CC:DD:EE:03"
	p := transporttest.NewPeripheral(address, "Bamboo Slate")
	p.Services = vendorServices()
	p.OnWrite(wire.CharWriteUUID, func(data []byte, push func(string, []byte)) {
		if wire.Opcode(data[0]) == wire.OpRegister {
			push(wire.CharNotifyUUID, responseFrame(wire.OpRegister, wire.Status(0x03), nil))
		}
	})

	tp := transporttest.New()
	tp.Add(p)
	reg := registry.New(nil)
	store := registry.NewFileStore(t.TempDir() + "/store.yaml")
	sv, err := NewSupervisor(nil, tp, reg, store)
	require.NoError(t, err)

	errno := sv.Register(context.Background(), address, "Bamboo Slate", wire.TagSlate, nil)
	assert.EqualValues(t, wire.KindNotReady.Errno(), errno)

	d, ok := reg.Get(address)
	require.True(t, ok)
	assert.False(t, d.Registered(), "a device rejecting registration must not be persisted")
}
