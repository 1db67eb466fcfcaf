// Package uhid writes Linux uhid virtual-input event frames (spec.md §6's
// "Virtual-input stream") to a file descriptor handed to StartLive over the
// RPC surface. Frame layout follows the kernel's uhid ABI
// (Documentation/hid/uhid.rst): a 4-byte event type, followed by a
// type-specific payload padded to the largest member of the kernel's
// uhid_event union.
//
// Writes are queued through a ring buffer and drained by a background
// loop polling the fd for writability, the same non-blocking discipline
// internal/ptyio uses for its PTY master — generalized here from a raw
// byte stream to fixed-size event frames, since /dev/uhid only accepts
// whole uhid_event writes.
package uhid

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"

	"github.com/srg/tuhi/internal/groutine"
)

// Event types this driver emits, from the kernel's uhid_event_type enum.
const (
	evCreate2 uint32 = 11
	evInput2  uint32 = 12
	evDestroy uint32 = 1
)

// Field sizes from struct uhid_create2_req / uhid_input2_req.
const (
	nameMax      = 128
	physMax      = 64
	uniqMax      = 64
	reportDescMax = 4096
	dataMax       = 4096

	// eventSize is sizeof(struct uhid_event): a 4-byte type tag plus the
	// largest union member (uhid_create2_req), which dwarfs uhid_input2_req.
	// The kernel requires every write to be exactly this many bytes.
	eventSize = 4 + nameMax + physMax + uniqMax + 2 + 2 + 4 + 4 + 4 + 4 + reportDescMax
)

// digitizerReportDescriptor is a minimal HID report descriptor for a single
// absolute-position, single-contact digitizer: a 16-bit tip pressure
// (logical 0..32767) and 32-bit X, Y (logical 0..0x7fffffff), matching the
// fields StartLive's pointSink delivers.
var digitizerReportDescriptor = []byte{
	0x05, 0x0d, // Usage Page (Digitizer)
	0x09, 0x02, // Usage (Pen)
	0xa1, 0x01, // Collection (Application)
	0x09, 0x20, //   Usage (Stylus)
	0xa1, 0x00, //   Collection (Physical)
	0x09, 0x30, //     Usage (Tip Pressure)
	0x75, 0x10, //     Report Size (16)
	0x95, 0x01, //     Report Count (1)
	0x16, 0x00, 0x00, //     Logical Minimum (0)
	0x26, 0xff, 0x7f, //     Logical Maximum (32767)
	0x81, 0x02, //     Input (Data,Var,Abs)
	0x05, 0x01, //     Usage Page (Generic Desktop)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x75, 0x20, //     Report Size (32)
	0x95, 0x02, //     Report Count (2)
	0x16, 0x00, 0x00, //     Logical Minimum (0)
	0x27, 0xff, 0xff, 0xff, 0x7f, //     Logical Maximum (0x7fffffff)
	0x81, 0x02, //     Input (Data,Var,Abs)
	0xc0,       //   End Collection
	0xc0, // End Collection
}

// Device is a live virtual-input sink for one SmartPad's live stream.
type Device struct {
	logger *logrus.Logger
	f      *os.File

	writeBuf *ringbuffer.RingBuffer
	ctx      context.Context
	cancel   context.CancelFunc
	closed   uint32
}

// Open writes the UHID_CREATE2 handshake to fd and starts the async write
// loop. fd is the descriptor StartLive(fd) received over D-Bus, already
// opened against /dev/uhid by the caller (spec.md §6 says only that "Frame
// format follows the standard Linux uhid interface" — which device node it
// names is left to the RPC client, so this package just writes frames to
// whatever fd it is given).
func Open(fd uintptr, name string, logger *logrus.Logger) (*Device, error) {
	if logger == nil {
		logger = logrus.New()
	}
	f := os.NewFile(fd, "uhid")
	if f == nil {
		return nil, fmt.Errorf("invalid uhid file descriptor")
	}

	create := make([]byte, eventSize)
	binary.LittleEndian.PutUint32(create[0:4], evCreate2)
	off := 4
	copy(create[off:off+nameMax], name)
	off += nameMax + physMax + uniqMax
	binary.LittleEndian.PutUint16(create[off:off+2], uint16(len(digitizerReportDescriptor)))
	off += 2
	off += 2 // bus
	off += 4 + 4 + 4 + 4 // vendor, product, version, country
	copy(create[off:off+len(digitizerReportDescriptor)], digitizerReportDescriptor)

	if _, err := f.Write(create); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("uhid create2 handshake: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		logger:   logger,
		f:        f,
		writeBuf: ringbuffer.New(64 * eventSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	groutine.Go(ctx, "uhid-write:"+name, d.writeLoop)
	return d, nil
}

// WriteEvent queues one UHID_INPUT2 frame reporting an absolute pen sample,
// matching internal/session.Session.StartLive's pointSink signature.
func (d *Device) WriteEvent(x, y, pressure uint32) error {
	if atomic.LoadUint32(&d.closed) == 1 {
		return os.ErrClosed
	}

	report := make([]byte, 10)
	binary.LittleEndian.PutUint16(report[0:2], uint16(pressure))
	binary.LittleEndian.PutUint32(report[2:6], x)
	binary.LittleEndian.PutUint32(report[6:10], y)

	frame := make([]byte, eventSize)
	binary.LittleEndian.PutUint32(frame[0:4], evInput2)
	binary.LittleEndian.PutUint16(frame[4:6], uint16(len(report)))
	copy(frame[6:6+len(report)], report)

	if _, err := d.writeBuf.Write(frame); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return err
	}
	return nil
}

func (d *Device) writeLoop(ctx context.Context) {
	fd := int(d.f.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	buf := make([]byte, eventSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.writeBuf.Length() < eventSize {
			if _, err := unix.Poll(pollFd, 50); err != nil && !errors.Is(err, syscall.EINTR) {
				d.logger.WithError(err).Warn("uhid write loop poll error")
			}
			continue
		}

		n, err := d.writeBuf.TryRead(buf)
		if err != nil || n < eventSize {
			continue
		}
		if _, err := d.f.Write(buf); err != nil {
			if errors.Is(err, syscall.EBADF) {
				return
			}
			d.logger.WithError(err).Warn("uhid frame write failed")
		}
	}
}

// Close sends UHID_DESTROY and tears down the write loop.
func (d *Device) Close() error {
	if !atomic.CompareAndSwapUint32(&d.closed, 0, 1) {
		return nil
	}
	d.cancel()

	destroy := make([]byte, 4)
	binary.LittleEndian.PutUint32(destroy, evDestroy)
	_, _ = d.f.Write(destroy)

	time.Sleep(10 * time.Millisecond) // let writeLoop observe ctx.Done before Close races its Write
	return d.f.Close()
}
