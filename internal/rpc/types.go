package rpc

import (
	"github.com/godbus/dbus/v5"

	"github.com/srg/tuhi/internal/wire"
)

// DeviceRef is the DeviceRef spec.md §6 leaves undefined beyond its name:
// enough for an RPC client to address the device (its object path) and to
// present it before Register has been called (address/name/family), since
// Manager.Devices lists known (possibly unregistered) devices and
// UnregisteredDevice announces ones not yet in that list.
type DeviceRef struct {
	Device  dbus.ObjectPath
	Address string
	Name    string
	Family  string
}

// dimensions is the (width_um, height_um) pair Device.Dimensions returns.
type dimensions struct {
	WidthUm  uint32
	HeightUm uint32
}

func (r DeviceRef) familyTag() wire.Tag { return wire.Tag(r.Family) }
