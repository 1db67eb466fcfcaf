// Package wire implements the SmartPad on-wire protocol: command/response
// framing, the per-family opcode table and pen-data packet decoding.
package wire

// Opcode identifies a command or response on the nordic-UART-like channel.
type Opcode byte

const (
	OpGetName      Opcode = 0xbb
	OpSetName      Opcode = 0xbb // same opcode, distinguished by payload presence
	OpGetTime      Opcode = 0xb6
	OpSetTime      Opcode = 0xb6
	OpGetFwVersion Opcode = 0xb7
	OpGetBattery   Opcode = 0xb9
	OpGetDimension Opcode = 0xea
	OpRegister     Opcode = 0xe7
	OpAckE6        Opcode = 0xe6
	OpStartReading Opcode = 0xb1
	OpAckData      Opcode = 0xca
	OpEndOfDrawing Opcode = 0xc8
	OpReset        Opcode = 0xb0
)

// Status is the second byte of a response frame.
type Status byte

const (
	StatusOK Status = 0x00
)

// Pen-data packet type bytes on the bulk notify channel.
const (
	PacketStrokeDelimiter byte = 0xff
	PacketAbsolute        byte = 0xfa
	PacketAbsoluteSparse  byte = 0xfb
)

// statusToKind maps a non-zero response status byte to an ErrorKind, per
// spec.md §4.2's opcode/status table.
func statusToKind(s Status) ErrorKind {
	switch s {
	case 0x01:
		return KindBusy
	case 0x02:
		return KindNotAuthorized
	case 0x03:
		return KindNotReady
	case 0x07:
		return KindProtocolError
	default:
		return KindProtocolError
	}
}
