package drawing

import "encoding/json"

// JSONVersion1 is the only file_version this daemon produces (spec.md §6).
const JSONVersion1 = 1

// pointJSON mirrors spec.md §6's per-point JSON shape exactly: "toffset" is
// always present, "position" and "pressure" are omitted (not null, not
// zero-filled) when absent in the decoded Point.
type pointJSON struct {
	Toffset  uint32  `json:"toffset"`
	Position *[2]int `json:"position,omitempty"`
	Pressure *uint32 `json:"pressure,omitempty"`
}

type strokeJSON struct {
	Points []pointJSON `json:"points"`
}

type drawingJSON struct {
	Version    int          `json:"version"`
	DeviceName string       `json:"devicename"`
	SessionID  string       `json:"sessionid"`
	Dimensions [2]uint32    `json:"dimensions"`
	Timestamp  uint64       `json:"timestamp"`
	Strokes    []strokeJSON `json:"strokes"`
}

// MarshalJSON encodes a Drawing as JSON v1 (spec.md §6).
func (d *Drawing) MarshalJSON() ([]byte, error) {
	dj := drawingJSON{
		Version:    JSONVersion1,
		DeviceName: d.DeviceName,
		SessionID:  d.SessionID,
		Dimensions: [2]uint32{d.WidthUm, d.HeightUm},
		Timestamp:  d.Timestamp,
	}
	for _, s := range d.Strokes {
		sj := strokeJSON{Points: make([]pointJSON, len(s.Points))}
		for i, p := range s.Points {
			pj := pointJSON{Toffset: p.ToffsetMs}
			if p.HasPosition() {
				pj.Position = &[2]int{int(*p.X), int(*p.Y)}
			}
			if p.Pressure != nil {
				pj.Pressure = p.Pressure
			}
			sj.Points[i] = pj
		}
		dj.Strokes = append(dj.Strokes, sj)
	}
	return json.Marshal(dj)
}

// UnmarshalJSON decodes a JSON v1 drawing. Unknown point fields are
// silently ignored, per spec.md §6.
func (d *Drawing) UnmarshalJSON(data []byte) error {
	var dj drawingJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return err
	}
	d.DeviceName = dj.DeviceName
	d.SessionID = dj.SessionID
	d.WidthUm = dj.Dimensions[0]
	d.HeightUm = dj.Dimensions[1]
	d.Timestamp = dj.Timestamp
	d.Strokes = make([]Stroke, len(dj.Strokes))
	for i, sj := range dj.Strokes {
		s := Stroke{Points: make([]Point, len(sj.Points))}
		for j, pj := range sj.Points {
			p := Point{ToffsetMs: pj.Toffset}
			if pj.Position != nil {
				x := uint32(pj.Position[0])
				y := uint32(pj.Position[1])
				p.X, p.Y = &x, &y
			}
			if pj.Pressure != nil {
				pressure := *pj.Pressure
				p.Pressure = &pressure
			}
			s.Points[j] = p
		}
		d.Strokes[i] = s
	}
	return nil
}
