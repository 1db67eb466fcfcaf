package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	buf := EncodeCommand(OpGetBattery, []byte{0x01, 0x02, 0x03})
	assert.Equal(t, []byte{0xb9, 0x03, 0x01, 0x02, 0x03}, buf)
}

func TestEncodeCommandEmptyPayload(t *testing.T) {
	buf := EncodeCommand(OpGetName, nil)
	assert.Equal(t, []byte{0xbb, 0x00}, buf)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte{0xb9, 0x00, 0x01, 0x64})
	require.NoError(t, err)
	assert.Equal(t, OpGetBattery, resp.Opcode)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, []byte{0x64}, resp.Payload)
}

func TestDecodeResponseTooShort(t *testing.T) {
	_, err := DecodeResponse([]byte{0xb9, 0x00})
	require.Error(t, err)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindProtocolError, opErr.Kind)
}

func TestDecodeResponseLengthMismatch(t *testing.T) {
	_, err := DecodeResponse([]byte{0xb9, 0x00, 0x05, 0x01})
	require.Error(t, err)
}

func TestStatusErrorKinds(t *testing.T) {
	cases := map[Status]ErrorKind{
		0x01: KindBusy,
		0x02: KindNotAuthorized,
		0x03: KindNotReady,
		0x07: KindProtocolError,
	}
	for status, kind := range cases {
		err := StatusError(status)
		assert.Equal(t, kind, err.Kind)
	}
}

func TestReassemblerSingleFrame(t *testing.T) {
	r := NewReassembler()
	frames, err := r.Feed([]byte{0xca, 0x03, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xca, 0x03, 0x01, 0x02, 0x03}, frames[0])
}

func TestReassemblerSplitAcrossChunks(t *testing.T) {
	r := NewReassembler()

	frames, err := r.Feed([]byte{0xca, 0x05, 0x01, 0x02})
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = r.Feed([]byte{0x03, 0x04, 0x05})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xca, 0x05, 0x01, 0x02, 0x03, 0x04, 0x05}, frames[0])
}

func TestReassemblerMultipleFramesInOneChunk(t *testing.T) {
	r := NewReassembler()
	chunk := []byte{0xca, 0x01, 0xaa, 0xc8, 0x00}
	frames, err := r.Feed(chunk)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0xca, 0x01, 0xaa}, frames[0])
	assert.Equal(t, []byte{0xc8, 0x00}, frames[1])
}

func TestReassemblerReset(t *testing.T) {
	r := NewReassembler()
	_, _ = r.Feed([]byte{0xca, 0x05, 0x01})
	r.Reset()
	frames, err := r.Feed([]byte{0xc8, 0x00})
	require.NoError(t, err)
	require.Len(t, frames, 1)
}

func TestResponseReassemblerSingleFrame(t *testing.T) {
	r := NewResponseReassembler()
	resps, err := r.Feed([]byte{0xb9, 0x00, 0x01, 0x64})
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, OpGetBattery, resps[0].Opcode)
	assert.Equal(t, StatusOK, resps[0].Status)
	assert.Equal(t, []byte{0x64}, resps[0].Payload)
}

func TestResponseReassemblerSplitAcrossChunks(t *testing.T) {
	r := NewResponseReassembler()
	resps, err := r.Feed([]byte{0xb9, 0x00, 0x02, 0x64})
	require.NoError(t, err)
	assert.Empty(t, resps)

	resps, err = r.Feed([]byte{0x65})
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, []byte{0x64, 0x65}, resps[0].Payload)
}

func TestResponseReassemblerMultipleFramesInOneChunk(t *testing.T) {
	r := NewResponseReassembler()
	chunk := []byte{0xb9, 0x00, 0x01, 0x50, 0xea, 0x00, 0x00}
	resps, err := r.Feed(chunk)
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.Equal(t, OpGetBattery, resps[0].Opcode)
	assert.Equal(t, OpGetDimension, resps[1].Opcode)
}
