package wire

// Pen-data record decoding for the bulk notify channel. A StartReading
// session streams zero or more 0xca ("data") frames whose payload is a
// concatenation of pen-data records, terminated by a top-level 0xc8
// ("end of drawing") frame. Each record is one of:
//
//	0xff                          stroke delimiter (pen-up then pen-down)
//	0xfa t:16 x:16 y:16 p:16      absolute point, all axes present
//	0xfb bitmap:1 <fields...>     absolute point, sparse axes (bitmap selects
//	                              which of time/x/y/pressure follow, in that
//	                              order, each a 16-bit LE value)
//	0x00..0x7f mask <deltas...>   delta point; mask bit layout (resolved
//	                              ambiguity, see DESIGN.md):
//	                                bit0 time-delta present
//	                                bit1 position-delta present (x and y)
//	                                bit2 pressure-delta present
//	                                bit3 time-delta is 16-bit (else 8-bit)
//	                                bit4 position-delta is 16-bit (else 8-bit)
//	                                bit5 pressure-delta is 16-bit (else 8-bit)
//	                              Present deltas follow in order: time, x, y,
//	                              pressure. Deltas are two's-complement.
//
// A new stroke delimiter resets the position/pressure reference but never
// the running time counter. A delta record carrying a position or pressure
// delta before any absolute point in the current stroke is a ProtocolError;
// a time-only delta record is accepted there and yields a point with no
// position and no pressure.
const (
	maskTimePresent     = 1 << 0
	maskPositionPresent = 1 << 1
	maskPressurePresent = 1 << 2
	maskTimeWide        = 1 << 3
	maskPositionWide    = 1 << 4
	maskPressureWide    = 1 << 5

	bitmapTime     = 1 << 0
	bitmapX        = 1 << 1
	bitmapY        = 1 << 2
	bitmapPressure = 1 << 3
)

// EventKind tags a decoded pen-data event.
type EventKind int

const (
	EventStrokeDelimiter EventKind = iota
	EventPoint
)

// PointEvent is a decoded Point, still in device coordinate space (no
// rotation or clamping applied — that is the drawing assembler's job).
type PointEvent struct {
	ToffsetMs   uint32
	HasPosition bool
	X, Y        uint16
	HasPressure bool
	Pressure    uint16
}

// Event is one decoded record from the pen-data stream.
type Event struct {
	Kind  EventKind
	Point PointEvent
}

// PenDecoder decodes the pen-data record stream for a single Drawing fetch.
// Not goroutine-safe; callers serialize Feed calls on the session task loop.
type PenDecoder struct {
	haveAbsolute bool
	time         uint32
	x, y         uint16
	pressure     uint16
}

// NewPenDecoder returns a decoder ready for a fresh fetch.
func NewPenDecoder() *PenDecoder {
	return &PenDecoder{}
}

// Feed decodes every record packed into one 0xca data frame's payload.
func (d *PenDecoder) Feed(payload []byte) ([]Event, error) {
	var events []Event
	i := 0
	for i < len(payload) {
		b := payload[i]
		switch {
		case b == PacketStrokeDelimiter:
			d.haveAbsolute = false
			events = append(events, Event{Kind: EventStrokeDelimiter})
			i++

		case b == PacketAbsolute:
			if i+9 > len(payload) {
				return events, ErrProtocol("truncated absolute point record at offset %d", i)
			}
			d.time = uint32(le16(payload[i+1 : i+3]))
			d.x = le16(payload[i+3 : i+5])
			d.y = le16(payload[i+5 : i+7])
			d.pressure = le16(payload[i+7 : i+9])
			d.haveAbsolute = true
			events = append(events, Event{Kind: EventPoint, Point: PointEvent{
				ToffsetMs: d.time, HasPosition: true, X: d.x, Y: d.y,
				HasPressure: true, Pressure: d.pressure,
			}})
			i += 9

		case b == PacketAbsoluteSparse:
			if i+2 > len(payload) {
				return events, ErrProtocol("truncated sparse point record at offset %d", i)
			}
			bitmap := payload[i+1]
			j := i + 2
			pt := PointEvent{ToffsetMs: d.time}
			if bitmap&bitmapTime != 0 {
				if j+2 > len(payload) {
					return events, ErrProtocol("truncated sparse point time field at offset %d", i)
				}
				d.time = uint32(le16(payload[j : j+2]))
				j += 2
			}
			pt.ToffsetMs = d.time
			if bitmap&bitmapX != 0 {
				if j+2 > len(payload) {
					return events, ErrProtocol("truncated sparse point x field at offset %d", i)
				}
				d.x = le16(payload[j : j+2])
				j += 2
				pt.HasPosition = true
			}
			if bitmap&bitmapY != 0 {
				if j+2 > len(payload) {
					return events, ErrProtocol("truncated sparse point y field at offset %d", i)
				}
				d.y = le16(payload[j : j+2])
				j += 2
				pt.HasPosition = true
			}
			if pt.HasPosition {
				pt.X, pt.Y = d.x, d.y
			}
			if bitmap&bitmapPressure != 0 {
				if j+2 > len(payload) {
					return events, ErrProtocol("truncated sparse point pressure field at offset %d", i)
				}
				d.pressure = le16(payload[j : j+2])
				j += 2
				pt.HasPressure = true
				pt.Pressure = d.pressure
			}
			d.haveAbsolute = true
			events = append(events, Event{Kind: EventPoint, Point: pt})
			i = j

		case b&0x80 == 0:
			mask := b
			j := i + 1

			hasTime := mask&maskTimePresent != 0
			hasPos := mask&maskPositionPresent != 0
			hasPressure := mask&maskPressurePresent != 0

			if (hasPos || hasPressure) && !d.haveAbsolute {
				return events, ErrProtocol("delta record before any absolute point in stroke at offset %d", i)
			}

			if hasTime {
				delta, n, err := readDelta(payload, j, mask&maskTimeWide != 0)
				if err != nil {
					return events, err
				}
				d.time = uint32(int64(d.time) + int64(delta))
				j += n
			}
			if hasPos {
				dx, n, err := readDelta(payload, j, mask&maskPositionWide != 0)
				if err != nil {
					return events, err
				}
				j += n
				dy, n, err := readDelta(payload, j, mask&maskPositionWide != 0)
				if err != nil {
					return events, err
				}
				j += n
				d.x = uint16(int32(d.x) + int32(dx))
				d.y = uint16(int32(d.y) + int32(dy))
			}
			if hasPressure {
				dp, n, err := readDelta(payload, j, mask&maskPressureWide != 0)
				if err != nil {
					return events, err
				}
				j += n
				d.pressure = clampPressure(int32(d.pressure) + int32(dp))
			}

			events = append(events, Event{Kind: EventPoint, Point: PointEvent{
				ToffsetMs: d.time, HasPosition: hasPos, X: d.x, Y: d.y,
				HasPressure: hasPressure, Pressure: d.pressure,
			}})
			i = j

		default:
			return events, ErrProtocol("unknown pen-data packet type 0x%02x at offset %d", b, i)
		}
	}
	return events, nil
}

// readDelta reads a signed 8- or 16-bit two's-complement delta at offset i.
func readDelta(buf []byte, i int, wide bool) (int32, int, error) {
	if wide {
		if i+2 > len(buf) {
			return 0, 0, ErrProtocol("truncated 16-bit delta at offset %d", i)
		}
		return int32(int16(le16(buf[i : i+2]))), 2, nil
	}
	if i+1 > len(buf) {
		return 0, 0, ErrProtocol("truncated 8-bit delta at offset %d", i)
	}
	return int32(int8(buf[i])), 1, nil
}

func clampPressure(p int32) uint16 {
	if p < 0 {
		return 0
	}
	if p > 65535 {
		return 65535
	}
	return uint16(p)
}
