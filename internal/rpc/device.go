package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/srg/tuhi/internal/uhid"
)

// deviceObject implements one Device object's methods (spec.md §6). The
// registry address it wraps never changes after construction; property
// values live in Server's prop.Properties and are refreshed from
// session.Supervisor whenever the registry publishes a change.
type deviceObject struct {
	s       *Server
	address string

	liveMu   sync.Mutex
	liveUHID *uhid.Device
}

// Register implements Device.Register.
func (d *deviceObject) Register() (int32, *dbus.Error) {
	ref, ok := d.s.pendingRef(d.address)
	if !ok {
		// Not announced by UnregisteredDevice in this process (e.g. loaded
		// from the registration store): take name and family from the
		// registry record, falling back to the address as the display name.
		ref = DeviceRef{Address: d.address, Name: d.address}
		if dev, known := d.s.sv.Device(d.address); known {
			ref.Name, ref.Family = dev.Name, string(dev.Family)
		}
	}
	errno := d.s.sv.Register(context.Background(), d.address, ref.Name, ref.familyTag(), func() {
		d.s.emitButtonPressRequired(d.address)
	})
	return errno, nil
}

// StartListening implements Device.StartListening. It has no return value
// in spec.md §6; a synchronous failure (e.g. Busy) is reported the same
// way an async stop is — a ListeningStopped(errno) signal.
func (d *deviceObject) StartListening(sender dbus.Sender) *dbus.Error {
	owner := string(sender)
	errno := d.s.sv.StartListening(context.Background(), d.address, owner,
		func(timestamp uint64) {
			d.s.emitSyncState(d.address, 1)
		},
		func(stopErrno int32) {
			d.s.emitListeningStopped(d.address, stopErrno)
		},
	)
	if errno != 0 {
		d.s.emitListeningStopped(d.address, errno)
	}
	return nil
}

// StopListening implements Device.StopListening.
func (d *deviceObject) StopListening(sender dbus.Sender) *dbus.Error {
	d.s.sv.StopListening(d.address, string(sender))
	return nil
}

// StartLive implements Device.StartLive: fd is a /dev/uhid descriptor the
// caller already opened (spec.md §6's virtual-input stream only specifies
// the frame format, not which process opens the node).
func (d *deviceObject) StartLive(fd dbus.UnixFD, sender dbus.Sender) (int32, *dbus.Error) {
	dev, err := uhid.Open(uintptr(fd), "Tuhi SmartPad ("+d.address+")", d.s.logger)
	if err != nil {
		d.s.logger.WithError(err).Warn("failed to open uhid sink for live mode")
		return -1, nil // EPERM-ish: fd unusable, no errno in the wire.ErrorKind table fits better
	}

	d.liveMu.Lock()
	d.liveUHID = dev
	d.liveMu.Unlock()

	owner := string(sender)
	errno := d.s.sv.StartLive(context.Background(), d.address, owner, func(x, y, pressure uint32) {
		if werr := dev.WriteEvent(x, y, pressure); werr != nil {
			d.s.logger.WithError(werr).Warn("uhid live write failed")
		}
	})
	if errno != 0 {
		_ = dev.Close()
		d.liveMu.Lock()
		d.liveUHID = nil
		d.liveMu.Unlock()
	}
	return errno, nil
}

// StopLive implements Device.StopLive.
func (d *deviceObject) StopLive() *dbus.Error {
	d.s.sv.StopLive(d.address)

	d.liveMu.Lock()
	dev := d.liveUHID
	d.liveUHID = nil
	d.liveMu.Unlock()
	if dev != nil {
		_ = dev.Close()
	}
	d.s.emitLiveStopped(d.address, 0)
	return nil
}

// GetJSONData implements Device.GetJSONData (spec.md §6's JSON v1 file
// format).
func (d *deviceObject) GetJSONData(fileVersion uint32, timestamp uint64) (string, *dbus.Error) {
	dev, ok := d.s.sv.Device(d.address)
	if !ok {
		return "", dbus.NewError(errorNamePrefix+"NotReady", []interface{}{"unknown device"})
	}
	if fileVersion != 1 {
		return "", dbus.NewError(errorNamePrefix+"ProtocolError", []interface{}{fmt.Sprintf("unsupported file_version %d", fileVersion)})
	}
	dr, ok := dev.DrawingByTimestamp(timestamp)
	if !ok {
		return "", dbus.NewError(errorNamePrefix+"NotReady", []interface{}{"no drawing at that timestamp"})
	}
	data, err := json.Marshal(dr)
	if err != nil {
		return "", dbus.NewError(errorNamePrefix+"ProtocolError", []interface{}{err.Error()})
	}
	return string(data), nil
}
