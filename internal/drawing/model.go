// Package drawing implements the normalized in-memory drawing model
// (spec.md §3) and its JSON v1 surface (spec.md §6).
package drawing

import (
	"sync"

	"github.com/srg/tuhi/internal/wire"
)

// BatteryState is Device.BatteryState (spec.md §3).
type BatteryState int

const (
	BatteryUnknown BatteryState = iota
	BatteryCharging
	BatteryDischarging
)

// Point is one recorded pen sample. Position and Pressure are nil when the
// axis was absent in the decoded form (spec.md §3): "unknown axes are
// omitted rather than zero-filled".
type Point struct {
	ToffsetMs uint32
	X, Y      *uint32
	Pressure  *uint32
}

// HasPosition reports whether both X and Y are present.
func (p Point) HasPosition() bool { return p.X != nil && p.Y != nil }

// Stroke is a maximal pen-down..pen-up sequence of Points.
type Stroke struct {
	Points []Point
}

// Drawing is one completed capture (spec.md §3).
type Drawing struct {
	DeviceAddress string
	DeviceName    string
	Timestamp     uint64 // seconds since epoch
	WidthUm       uint32
	HeightUm      uint32
	SessionID     string
	Strokes       []Stroke
}

// Device is the in-memory record for one known SmartPad (spec.md §3).
type Device struct {
	Address  string
	Name     string
	UUID     [16]byte
	WidthUm  uint32
	HeightUm uint32
	Firmware string
	Family   wire.Tag

	mu             sync.Mutex
	batteryPercent uint32
	batteryState   BatteryState
	registered     bool
	drawings       []*Drawing
}

// NewDevice returns a Device discovered during search, not yet registered.
func NewDevice(address, name string, family wire.Tag) *Device {
	return &Device{Address: address, Name: name, Family: family}
}

// SetDimensions records the device's reported physical dimensions
// (spec.md §4.2 GetDimensions).
func (d *Device) SetDimensions(widthUm, heightUm uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WidthUm = widthUm
	d.HeightUm = heightUm
}

// SetFirmware records the device's reported firmware identifier string.
func (d *Device) SetFirmware(fw string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Firmware = fw
}

// SetBattery records the last-known battery reading.
func (d *Device) SetBattery(percent uint32, state BatteryState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batteryPercent = percent
	d.batteryState = state
}

// Battery returns the last-known battery reading.
func (d *Device) Battery() (uint32, BatteryState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batteryPercent, d.batteryState
}

// MarkRegistered promotes the device to persisted, per spec.md §3's
// lifecycle ("promoted to persisted when Register succeeds").
func (d *Device) MarkRegistered(uuid [16]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UUID = uuid
	d.registered = true
}

// Registered reports whether Register has succeeded for this device.
func (d *Device) Registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registered
}

// AppendDrawing appends a completed Drawing, enforcing the timestamp
// uniqueness invariant of spec.md §3: ties are broken by arrival order,
// with the later one incremented by one second (repeatedly, in case the
// bump collides with a still-later existing timestamp).
func (d *Device) AppendDrawing(dr *Drawing) {
	d.mu.Lock()
	defer d.mu.Unlock()

	used := make(map[uint64]struct{}, len(d.drawings))
	for _, existing := range d.drawings {
		used[existing.Timestamp] = struct{}{}
	}
	for {
		if _, taken := used[dr.Timestamp]; !taken {
			break
		}
		dr.Timestamp++
	}
	d.drawings = append(d.drawings, dr)
}

// Drawings returns a snapshot of the device's completed drawings.
func (d *Device) Drawings() []*Drawing {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Drawing, len(d.drawings))
	copy(out, d.drawings)
	return out
}

// DrawingTimestamps returns every completed drawing's timestamp, the form
// spec.md §9's Open Question resolves DrawingsAvailable to (a list of
// timestamps, per the live D-Bus interface, not a count).
func (d *Device) DrawingTimestamps() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, len(d.drawings))
	for i, dr := range d.drawings {
		out[i] = dr.Timestamp
	}
	return out
}

// DrawingByTimestamp looks up a completed drawing for GetJSONData.
func (d *Device) DrawingByTimestamp(ts uint64) (*Drawing, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dr := range d.drawings {
		if dr.Timestamp == ts {
			return dr, true
		}
	}
	return nil, false
}
