package drawing

import "github.com/srg/tuhi/internal/wire"

// Assembler merges a stroke/point event stream into a Drawing (spec.md
// §4.4): reconstructs absolute positions (already done by wire.PenDecoder),
// clamps pressure (already done by wire.PenDecoder), and applies the
// per-family sensor rotation before building Strokes.
type Assembler struct {
	family   wire.Family
	widthUm  uint32
	heightUm uint32

	strokes []Stroke
	cur     *Stroke
}

// NewAssembler returns an Assembler for one fetch, against the device's
// reported dimensions.
func NewAssembler(family wire.Family, widthUm, heightUm uint32) *Assembler {
	return &Assembler{family: family, widthUm: widthUm, heightUm: heightUm}
}

// Feed applies one decoded wire.Event.
func (a *Assembler) Feed(ev wire.Event) {
	switch ev.Kind {
	case wire.EventStrokeDelimiter:
		a.closeStroke()
		a.cur = &Stroke{}
	case wire.EventPoint:
		if a.cur == nil {
			a.cur = &Stroke{}
		}
		a.cur.Points = append(a.cur.Points, a.toPoint(ev.Point))
	}
}

func (a *Assembler) closeStroke() {
	if a.cur != nil && len(a.cur.Points) > 0 {
		a.strokes = append(a.strokes, *a.cur)
	}
	a.cur = nil
}

func (a *Assembler) toPoint(pe wire.PointEvent) Point {
	p := Point{ToffsetMs: pe.ToffsetMs}
	if pe.HasPosition {
		x, y := uint32(pe.X), uint32(pe.Y)
		if a.family.RotatesSensor {
			x, y = rotate(x, y, a.widthUm)
		}
		p.X, p.Y = &x, &y
	}
	if pe.HasPressure {
		pressure := uint32(pe.Pressure)
		p.Pressure = &pressure
	}
	return p
}

// rotate implements spec.md §4.4's sensor-rotation formula for families
// whose sensor is physically rotated 90° CW relative to its long edge:
// (x, y) := (y, width - x).
func rotate(x, y, width uint32) (uint32, uint32) {
	newX := y
	var newY uint32
	if x <= width {
		newY = width - x
	}
	return newX, newY
}

// Finish closes any in-progress stroke and builds the Drawing. timestamp is
// the session base timestamp (spec.md §3); uniqueness-per-device is
// enforced by Device.AppendDrawing, not here.
func (a *Assembler) Finish(deviceAddress, deviceName, sessionID string, timestamp uint64) *Drawing {
	a.closeStroke()
	return &Drawing{
		DeviceAddress: deviceAddress,
		DeviceName:    deviceName,
		Timestamp:     timestamp,
		WidthUm:       a.widthUm,
		HeightUm:      a.heightUm,
		SessionID:     sessionID,
		Strokes:       a.strokes,
	}
}
