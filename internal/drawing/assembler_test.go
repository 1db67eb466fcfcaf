package drawing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/tuhi/internal/wire"
)

func TestAssemblerBuildsStrokesFromEvents(t *testing.T) {
	a := NewAssembler(wire.Spark, 21000, 29700)
	a.Feed(wire.Event{Kind: wire.EventStrokeDelimiter})
	a.Feed(wire.Event{Kind: wire.EventPoint, Point: wire.PointEvent{
		ToffsetMs: 0, HasPosition: true, X: 100, Y: 200, HasPressure: true, Pressure: 1000,
	}})
	a.Feed(wire.Event{Kind: wire.EventPoint, Point: wire.PointEvent{
		ToffsetMs: 2, HasPressure: true, Pressure: 800,
	}})
	a.Feed(wire.Event{Kind: wire.EventStrokeDelimiter})

	d := a.Finish("AA:BB", "Bamboo Slate", "sess1", 1700000000)
	require.Len(t, d.Strokes, 1)
	require.Len(t, d.Strokes[0].Points, 2)

	p0 := d.Strokes[0].Points[0]
	require.True(t, p0.HasPosition())
	// Spark rotates: (x,y) -> (y, width-x) = (200, 21000-100)
	assert.EqualValues(t, 200, *p0.X)
	assert.EqualValues(t, 21000-100, *p0.Y)

	p1 := d.Strokes[0].Points[1]
	assert.False(t, p1.HasPosition())
	require.NotNil(t, p1.Pressure)
	assert.EqualValues(t, 800, *p1.Pressure)
}

func TestAssemblerNoRotationForIntuosPro(t *testing.T) {
	a := NewAssembler(wire.IntuosPro, 21000, 29700)
	a.Feed(wire.Event{Kind: wire.EventStrokeDelimiter})
	a.Feed(wire.Event{Kind: wire.EventPoint, Point: wire.PointEvent{
		HasPosition: true, X: 100, Y: 200,
	}})
	d := a.Finish("AA:BB", "Intuos Pro", "sess2", 1)
	p0 := d.Strokes[0].Points[0]
	assert.EqualValues(t, 100, *p0.X)
	assert.EqualValues(t, 200, *p0.Y)
}

func TestAssemblerDropsEmptyStrokes(t *testing.T) {
	a := NewAssembler(wire.Slate, 1000, 1000)
	a.Feed(wire.Event{Kind: wire.EventStrokeDelimiter})
	a.Feed(wire.Event{Kind: wire.EventStrokeDelimiter})
	a.Feed(wire.Event{Kind: wire.EventPoint, Point: wire.PointEvent{HasPosition: true, X: 1, Y: 1}})
	d := a.Finish("AA", "Slate", "s", 1)
	require.Len(t, d.Strokes, 1)
}

func TestAppendDrawingEnforcesUniqueTimestamp(t *testing.T) {
	dev := NewDevice("AA:BB:CC:DD:EE:FF", "Slate", wire.TagSlate)
	dev.AppendDrawing(&Drawing{Timestamp: 100})
	dev.AppendDrawing(&Drawing{Timestamp: 100})
	dev.AppendDrawing(&Drawing{Timestamp: 100})

	timestamps := dev.DrawingTimestamps()
	require.Len(t, timestamps, 3)
	seen := make(map[uint64]bool)
	for _, ts := range timestamps {
		assert.False(t, seen[ts], "timestamp %d used twice", ts)
		seen[ts] = true
	}
	assert.ElementsMatch(t, []uint64{100, 101, 102}, timestamps)
}
