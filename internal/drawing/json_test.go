package drawing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32(v uint32) *uint32 { return &v }

func TestJSONRoundTrip(t *testing.T) {
	x, y := uint32(100), uint32(200)
	original := &Drawing{
		DeviceName: "Bamboo Slate",
		SessionID:  "abc123",
		WidthUm:    21000,
		HeightUm:   29700,
		Timestamp:  1700000000,
		Strokes: []Stroke{
			{Points: []Point{
				{ToffsetMs: 0, X: &x, Y: &y, Pressure: u32(1000)},
				{ToffsetMs: 2, Pressure: u32(800)}, // position omitted (inherited)
			}},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Drawing
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.DeviceName, decoded.DeviceName)
	assert.Equal(t, original.SessionID, decoded.SessionID)
	assert.Equal(t, original.WidthUm, decoded.WidthUm)
	assert.Equal(t, original.HeightUm, decoded.HeightUm)
	assert.Equal(t, original.Timestamp, decoded.Timestamp)
	require.Len(t, decoded.Strokes, 1)
	require.Len(t, decoded.Strokes[0].Points, 2)

	p0 := decoded.Strokes[0].Points[0]
	require.NotNil(t, p0.X)
	require.NotNil(t, p0.Y)
	assert.EqualValues(t, 100, *p0.X)
	assert.EqualValues(t, 200, *p0.Y)
	require.NotNil(t, p0.Pressure)
	assert.EqualValues(t, 1000, *p0.Pressure)

	p1 := decoded.Strokes[0].Points[1]
	assert.Nil(t, p1.X)
	assert.Nil(t, p1.Y)
	require.NotNil(t, p1.Pressure)
	assert.EqualValues(t, 800, *p1.Pressure)
}

func TestJSONOmitsAbsentFieldsExactly(t *testing.T) {
	d := &Drawing{
		Strokes: []Stroke{{Points: []Point{{ToffsetMs: 5}}}},
	}
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	strokes := raw["strokes"].([]interface{})
	points := strokes[0].(map[string]interface{})["points"].([]interface{})
	point := points[0].(map[string]interface{})

	_, hasPosition := point["position"]
	_, hasPressure := point["pressure"]
	assert.False(t, hasPosition)
	assert.False(t, hasPressure)
	assert.Contains(t, point, "toffset")
}

func TestJSONVersionField(t *testing.T) {
	d := &Drawing{}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, JSONVersion1, raw["version"])
}

func TestUnknownPointFieldsAreIgnored(t *testing.T) {
	raw := `{"version":1,"devicename":"x","sessionid":"s","dimensions":[1,2],"timestamp":5,
	"strokes":[{"points":[{"toffset":1,"position":[1,2],"pressure":3,"future_field":"ignored"}]}]}`
	var d Drawing
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	require.Len(t, d.Strokes[0].Points, 1)
	assert.EqualValues(t, 1, d.Strokes[0].Points[0].ToffsetMs)
}
