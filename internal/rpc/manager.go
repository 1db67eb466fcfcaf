package rpc

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/srg/tuhi/internal/wire"
)

// managerObject implements the Manager singleton's methods (spec.md §6).
// Properties and signals are handled by Server; this type only carries the
// method bodies godbus dispatches to via reflection.
type managerObject struct {
	s *Server
}

// StartSearch implements Manager.StartSearch. The caller's unique bus name
// (injected by godbus via the dbus.Sender parameter) is the "owner" spec.md
// §4.5's search/listen arbitration and §5's implicit-Stop-on-disconnect
// rule are keyed on.
func (m *managerObject) StartSearch(sender dbus.Sender) *dbus.Error {
	owner := string(sender)
	err := m.s.sv.StartSearch(context.Background(), owner,
		func(address, name string, family wire.Tag) {
			m.s.emitUnregisteredDevice(address, name, string(family))
		},
		func(errno int32) {
			m.s.emitSearchStopped(errno)
		},
	)
	return dbusError(err)
}

// StopSearch implements Manager.StopSearch.
func (m *managerObject) StopSearch(sender dbus.Sender) *dbus.Error {
	m.s.sv.StopSearch(string(sender))
	return nil
}
