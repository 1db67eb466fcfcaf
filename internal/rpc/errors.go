package rpc

import (
	"github.com/godbus/dbus/v5"

	"github.com/srg/tuhi/internal/wire"
)

// errorNamePrefix is the prefix for every error name this surface returns, one
// member per wire.ErrorKind, mirroring the teacher's typed-error-plus-Is
// convention translated to the bus (spec.md §7's kind taxonomy, here as
// D-Bus error names for the void-returning methods that have no int32
// result slot to carry an errno in-band).
const errorNamePrefix = "org.tuhi.Tuhi1.Error."

func dbusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var opErr *wire.OpError
	if e, ok := err.(*wire.OpError); ok {
		opErr = e
	} else {
		opErr = &wire.OpError{Kind: wire.KindProtocolError, Err: err}
	}
	return dbus.NewError(errorNamePrefix+opErr.Kind.String(), []interface{}{opErr.Error()})
}
