package wire

import "encoding/binary"

// Command frames: [opcode:1][length:1][payload:length]. Response frames:
// [opcode:1][status:1][length:1][payload]. Multi-byte fields inside the
// payload are little-endian, per spec.md §4.2.

// EncodeCommand builds a command frame for the write channel.
func EncodeCommand(op Opcode, payload []byte) []byte {
	buf := make([]byte, 2+len(payload))
	buf[0] = byte(op)
	buf[1] = byte(len(payload))
	copy(buf[2:], payload)
	return buf
}

// Response is a decoded response frame.
type Response struct {
	Opcode  Opcode
	Status  Status
	Payload []byte
}

// DecodeResponse parses one complete response frame. It returns
// ErrProtocol if buf is shorter than the declared length.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < 3 {
		return nil, ErrProtocol("response frame too short: %d bytes", len(buf))
	}
	length := int(buf[2])
	if len(buf) < 3+length {
		return nil, ErrProtocol("response frame length mismatch: declared %d, have %d", length, len(buf)-3)
	}
	return &Response{
		Opcode:  Opcode(buf[0]),
		Status:  Status(buf[1]),
		Payload: buf[3 : 3+length],
	}, nil
}

// chunkSize is the fixed BLE notification size some families use to split a
// frame larger than the MTU, per spec.md §4.2.
const chunkSize = 20

// Reassembler accumulates fixed-size notification chunks on the bulk channel
// into complete [opcode][length][payload] frames. It is not goroutine-safe;
// callers serialize all Feed calls on the session's single task loop
// (spec.md §5).
type Reassembler struct {
	buf []byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends one notification chunk and returns every complete
// [opcode][length][payload] frame it can now extract, in arrival order.
// Any trailing partial frame is retained for the next Feed call.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.buf = append(r.buf, chunk...)

	var frames [][]byte
	for {
		if len(r.buf) < 2 {
			break
		}
		length := int(r.buf[1])
		total := 2 + length
		if len(r.buf) < total {
			break
		}
		frames = append(frames, append([]byte(nil), r.buf[:total]...))
		r.buf = r.buf[total:]
	}
	return frames, nil
}

// Reset discards any buffered partial frame, used when a session returns to
// Disconnected or Ready after an error.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

// ResponseReassembler accumulates fixed-size notification chunks into
// complete [opcode][status][length][payload] response frames (spec.md
// §4.2's "Responses" framing). It is the status-byte-bearing counterpart
// to Reassembler, which handles the bulk channel's command-style framing
// instead; the two are never mixed on the same wait, since a session
// always knows from context which kind of reply it is waiting for.
type ResponseReassembler struct {
	buf []byte
}

// NewResponseReassembler returns an empty ResponseReassembler.
func NewResponseReassembler() *ResponseReassembler {
	return &ResponseReassembler{}
}

// Feed appends one notification chunk and returns every complete
// Response it can now extract, in arrival order.
func (r *ResponseReassembler) Feed(chunk []byte) ([]*Response, error) {
	r.buf = append(r.buf, chunk...)

	var out []*Response
	for {
		if len(r.buf) < 3 {
			break
		}
		length := int(r.buf[2])
		total := 3 + length
		if len(r.buf) < total {
			break
		}
		resp, err := DecodeResponse(r.buf[:total])
		if err != nil {
			return out, err
		}
		out = append(out, resp)
		r.buf = r.buf[total:]
	}
	return out, nil
}

// Reset discards any buffered partial frame.
func (r *ResponseReassembler) Reset() {
	r.buf = r.buf[:0]
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

func putLE16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
