package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDeltaRecord encodes a delta record with the bit layout documented in
// pendata.go: mask byte followed by present deltas in time, x, y, pressure
// order (only the fields the mask's presence bits select), each one byte
// unless the corresponding *Wide bit is set. deltas must always supply all
// four slots (time, x, y, pressure); slots the mask doesn't select are
// dropped rather than encoded.
func buildDeltaRecord(mask byte, deltas ...int16) []byte {
	present := []bool{
		mask&maskTimePresent != 0,
		mask&maskPositionPresent != 0,
		mask&maskPositionPresent != 0,
		mask&maskPressurePresent != 0,
	}
	widths := []bool{
		mask&maskTimeWide != 0,
		mask&maskPositionWide != 0,
		mask&maskPositionWide != 0,
		mask&maskPressureWide != 0,
	}
	buf := []byte{mask}
	for i, d := range deltas {
		if !present[i] {
			continue
		}
		if widths[i] {
			b := make([]byte, 2)
			putLE16(b, uint16(d))
			buf = append(buf, b...)
		} else {
			buf = append(buf, byte(int8(d)))
		}
	}
	return buf
}

func absoluteRecord(t, x, y, p uint16) []byte {
	buf := []byte{PacketAbsolute, 0, 0, 0, 0, 0, 0, 0, 0}
	putLE16(buf[1:3], t)
	putLE16(buf[3:5], x)
	putLE16(buf[5:7], y)
	putLE16(buf[7:9], p)
	return buf
}

// TestFetchOneDrawing mirrors spec.md §8 scenario 2: a stroke delimiter, an
// absolute point, a delta point carrying only a time and pressure delta
// (position inherited), matching "second point with toffset=2 ms and
// pressure=800, position inherited".
func TestFetchOneDrawing(t *testing.T) {
	payload := []byte{PacketStrokeDelimiter}
	payload = append(payload, absoluteRecord(0, 100, 200, 1000)...)
	mask := byte(maskTimePresent | maskPressurePresent | maskPressureWide)
	payload = append(payload, buildDeltaRecord(mask, 2, 0, 0, -200)...)

	d := NewPenDecoder()
	events, err := d.Feed(payload)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, EventStrokeDelimiter, events[0].Kind)

	p1 := events[1].Point
	assert.True(t, p1.HasPosition)
	assert.True(t, p1.HasPressure)
	assert.EqualValues(t, 0, p1.ToffsetMs)
	assert.EqualValues(t, 100, p1.X)
	assert.EqualValues(t, 200, p1.Y)
	assert.EqualValues(t, 1000, p1.Pressure)

	p2 := events[2].Point
	assert.False(t, p2.HasPosition)
	assert.True(t, p2.HasPressure)
	assert.EqualValues(t, 2, p2.ToffsetMs)
	assert.EqualValues(t, 800, p2.Pressure)
}

func TestDeltaBeforeAbsoluteIsProtocolError(t *testing.T) {
	mask := byte(maskTimePresent | maskPositionPresent)
	payload := buildDeltaRecord(mask, 1, 5, 5)

	d := NewPenDecoder()
	_, err := d.Feed(payload)
	require.Error(t, err)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindProtocolError, opErr.Kind)
}

func TestStrokeDelimiterResetsPositionNotTime(t *testing.T) {
	payload := absoluteRecord(10, 50, 60, 500)
	payload = append(payload, PacketStrokeDelimiter)
	mask := byte(maskTimePresent)
	payload = append(payload, buildDeltaRecord(mask, 3, 0, 0, 0)...)

	d := NewPenDecoder()
	events, err := d.Feed(payload)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// The delta record after the stroke delimiter only advances time; it
	// must not carry over stale position/pressure as "present".
	p := events[2].Point
	assert.False(t, p.HasPosition)
	assert.False(t, p.HasPressure)
	assert.EqualValues(t, 13, p.ToffsetMs) // 10 + 3, never reset by the delimiter
}

func TestDeltaBeforeAbsoluteAfterNewStrokeIsProtocolError(t *testing.T) {
	payload := absoluteRecord(0, 0, 0, 0)
	payload = append(payload, PacketStrokeDelimiter)
	mask := byte(maskPositionPresent)
	payload = append(payload, buildDeltaRecord(mask, 0, 1, 1, 0)...)

	d := NewPenDecoder()
	_, err := d.Feed(payload)
	require.Error(t, err)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindProtocolError, opErr.Kind)
}

func TestSparseAbsolutePoint(t *testing.T) {
	// bitmap selects time+x only (y and pressure inherited/absent)
	bitmap := byte(bitmapTime | bitmapX)
	payload := []byte{PacketAbsoluteSparse, bitmap, 0, 0, 0, 0}
	putLE16(payload[2:4], 7)
	putLE16(payload[4:6], 42)

	d := NewPenDecoder()
	events, err := d.Feed(payload)
	require.NoError(t, err)
	require.Len(t, events, 1)

	p := events[0].Point
	assert.EqualValues(t, 7, p.ToffsetMs)
	assert.True(t, p.HasPosition)
	assert.EqualValues(t, 42, p.X)
	assert.False(t, p.HasPressure)
}

func TestSignExtensionOfDeltas(t *testing.T) {
	payload := absoluteRecord(100, 1000, 1000, 30000)
	mask := byte(maskTimePresent | maskPositionPresent | maskPressurePresent | maskPositionWide)
	payload = append(payload, buildDeltaRecord(mask, -1, -2000, 3000, 0)...)

	d := NewPenDecoder()
	events, err := d.Feed(payload)
	require.NoError(t, err)
	require.Len(t, events, 2)

	p := events[1].Point
	assert.EqualValues(t, 99, p.ToffsetMs)
	assert.EqualValues(t, uint16(64536), p.X) // 1000 - 2000, wrapped to uint16
	assert.EqualValues(t, uint16(1000+3000), p.Y)
}

func TestPressureClampedToUint16Range(t *testing.T) {
	payload := absoluteRecord(0, 0, 0, 10)
	mask := byte(maskPressurePresent | maskPressureWide)
	payload = append(payload, buildDeltaRecord(mask, 0, 0, 0, -100)...)

	d := NewPenDecoder()
	events, err := d.Feed(payload)
	require.NoError(t, err)
	p := events[len(events)-1].Point
	assert.EqualValues(t, 0, p.Pressure)
}

func TestTruncatedAbsoluteRecordIsProtocolError(t *testing.T) {
	d := NewPenDecoder()
	_, err := d.Feed([]byte{PacketAbsolute, 0x01, 0x02})
	require.Error(t, err)
}

func TestUnknownPacketTypeIsProtocolError(t *testing.T) {
	d := NewPenDecoder()
	_, err := d.Feed([]byte{0x90})
	require.Error(t, err)
}
