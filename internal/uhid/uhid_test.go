package uhid

import (
	"encoding/binary"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWritesCreate2Handshake(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	d, err := Open(w.Fd(), "tuhi-test-pad", nil)
	require.NoError(t, err)
	defer d.Close()

	buf := make([]byte, eventSize)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, evCreate2, binary.LittleEndian.Uint32(buf[0:4]))
	assert.Contains(t, string(buf[4:4+nameMax]), "tuhi-test-pad")
}

func TestWriteEventProducesInput2Frame(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	d, err := Open(w.Fd(), "tuhi-test-pad", nil)
	require.NoError(t, err)
	defer d.Close()

	// drain the create2 handshake first.
	create := make([]byte, eventSize)
	_, err = io.ReadFull(r, create)
	require.NoError(t, err)

	require.NoError(t, d.WriteEvent(100, 200, 512))

	frame := make([]byte, eventSize)
	_ = r.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(r, frame)
	require.NoError(t, err)

	assert.Equal(t, evInput2, binary.LittleEndian.Uint32(frame[0:4]))
	size := binary.LittleEndian.Uint16(frame[4:6])
	require.EqualValues(t, 10, size)
	report := frame[6 : 6+size]
	assert.EqualValues(t, 512, binary.LittleEndian.Uint16(report[0:2]))
	assert.EqualValues(t, 100, binary.LittleEndian.Uint32(report[2:6]))
	assert.EqualValues(t, 200, binary.LittleEndian.Uint32(report[6:10]))
}
