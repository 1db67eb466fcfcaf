// Package rpc exposes internal/session.Supervisor on the D-Bus session bus
// (spec.md §6): a Manager singleton plus one Device object per known
// device, wired with github.com/godbus/dbus/v5 the way the teacher's CLI
// wires the terminal — a thin, protocol-free mapping onto Supervisor and
// the registry's change feed. This package owns no session-protocol logic.
package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/srg/tuhi/internal/drawing"
	"github.com/srg/tuhi/internal/groutine"
	"github.com/srg/tuhi/internal/registry"
	"github.com/srg/tuhi/internal/session"
)

const (
	managerIface = "org.tuhi.Tuhi1.Manager"
	deviceIface  = "org.tuhi.Tuhi1.Device"
	managerPath  = dbus.ObjectPath("/org/tuhi/Tuhi1")
	devicesPath  = "/org/tuhi/Tuhi1/devices"
)

// Server owns the exported object tree and keeps it in sync with the
// Supervisor's registry via its change-notification channel.
type Server struct {
	conn   *dbus.Conn
	sv     *session.Supervisor
	logger *logrus.Logger

	mu           sync.Mutex
	objects      map[string]*deviceObject       // address -> object
	paths        map[string]dbus.ObjectPath     // address -> object path
	devProps     map[string]*prop.Properties    // address -> exported properties
	pending      map[string]DeviceRef           // address -> metadata from an UnregisteredDevice signal
	nextIndex    int
	managerProps *prop.Properties
}

// NewServer exports the Manager singleton and a Device object for every
// device already in the registry, then starts watching for registry
// changes and RPC client disconnects. It does not request busName itself;
// call RequestName for that once NewServer returns (cmd/tuhid does this
// after wiring logging, matching the teacher's init-then-serve ordering).
func NewServer(conn *dbus.Conn, sv *session.Supervisor, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		conn:     conn,
		sv:       sv,
		logger:   logger,
		objects:  make(map[string]*deviceObject),
		paths:    make(map[string]dbus.ObjectPath),
		devProps: make(map[string]*prop.Properties),
		pending:  make(map[string]DeviceRef),
	}

	if err := s.exportManager(); err != nil {
		return nil, err
	}
	for _, d := range sv.Devices() {
		s.addDeviceObject(d.Address, d.Name, string(d.Family))
	}

	groutine.Go(context.Background(), "rpc:registry-watch", s.watchRegistry)
	groutine.Go(context.Background(), "rpc:disconnect-watch", s.watchDisconnects)
	return s, nil
}

// RequestName requests the well-known bus name (e.g. config.DefaultBusName)
// on the session bus.
func (s *Server) RequestName(name string) error {
	reply, err := s.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already owned by another process", name)
	}
	return nil
}

func (s *Server) exportManager() error {
	mgr := &managerObject{s: s}
	if err := s.conn.Export(mgr, managerPath, managerIface); err != nil {
		return fmt.Errorf("export Manager methods: %w", err)
	}

	propsSpec := map[string]map[string]*prop.Prop{
		managerIface: {
			"Devices":          {Value: []DeviceRef{}, Writable: false, Emit: prop.EmitTrue},
			"Searching":        {Value: false, Writable: false, Emit: prop.EmitTrue},
			"JSONDataVersions": {Value: []uint32{drawing.JSONVersion1}, Writable: false, Emit: prop.EmitFalse},
		},
	}
	props, err := prop.Export(s.conn, managerPath, propsSpec)
	if err != nil {
		return fmt.Errorf("export Manager properties: %w", err)
	}
	s.managerProps = props

	node := &introspect.Node{
		Name: string(managerPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: managerIface,
				Methods: []introspect.Method{
					{Name: "StartSearch"},
					{Name: "StopSearch"},
				},
				Signals: []introspect.Signal{
					{Name: "UnregisteredDevice", Args: []introspect.Arg{{Name: "device", Type: "(osss)", Direction: "out"}}},
					{Name: "SearchStopped", Args: []introspect.Arg{{Name: "status", Type: "i", Direction: "out"}}},
				},
				Properties: props.Introspection(managerIface),
			},
		},
	}
	return s.conn.Export(introspect.NewIntrospectable(node), managerPath, "org.freedesktop.DBus.Introspectable")
}

// addDeviceObject exports a Device object for address if one doesn't
// already exist, returning the (possibly pre-existing) object. Called both
// for devices the registry already knows about and, ephemerally, for
// devices only seen in an UnregisteredDevice signal so far.
func (s *Server) addDeviceObject(address, name, family string) *deviceObject {
	s.mu.Lock()
	if obj, ok := s.objects[address]; ok {
		s.mu.Unlock()
		return obj
	}
	path := dbus.ObjectPath(fmt.Sprintf("%s/%d", devicesPath, s.nextIndex))
	s.nextIndex++
	obj := &deviceObject{s: s, address: address}
	s.objects[address] = obj
	s.paths[address] = path
	s.mu.Unlock()

	if err := s.conn.Export(obj, path, deviceIface); err != nil {
		s.logger.WithError(err).WithField("address", address).Warn("failed to export Device methods")
		return obj
	}

	propsSpec := map[string]map[string]*prop.Prop{
		deviceIface: {
			"BlueZDevice":       {Value: blueZDevicePath(address), Writable: false, Emit: prop.EmitFalse},
			"Dimensions":        {Value: dimensions{}, Writable: false, Emit: prop.EmitTrue},
			"BatteryPercent":    {Value: uint32(0), Writable: false, Emit: prop.EmitTrue},
			"BatteryState":      {Value: uint32(0), Writable: false, Emit: prop.EmitTrue},
			"DrawingsAvailable": {Value: []uint64{}, Writable: false, Emit: prop.EmitTrue},
			"Listening":         {Value: false, Writable: false, Emit: prop.EmitTrue},
			"Live":              {Value: false, Writable: false, Emit: prop.EmitTrue},
		},
	}
	props, err := prop.Export(s.conn, path, propsSpec)
	if err != nil {
		s.logger.WithError(err).WithField("address", address).Warn("failed to export Device properties")
		return obj
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: deviceIface,
				Methods: []introspect.Method{
					{Name: "Register", Args: []introspect.Arg{{Name: "result", Type: "i", Direction: "out"}}},
					{Name: "StartListening"},
					{Name: "StopListening"},
					{Name: "StartLive",
						Args: []introspect.Arg{
							{Name: "fd", Type: "h", Direction: "in"},
							{Name: "result", Type: "i", Direction: "out"},
						}},
					{Name: "StopLive"},
					{Name: "GetJSONData", Args: []introspect.Arg{
						{Name: "file_version", Type: "u", Direction: "in"},
						{Name: "timestamp", Type: "t", Direction: "in"},
						{Name: "data", Type: "s", Direction: "out"},
					}},
				},
				Signals: []introspect.Signal{
					{Name: "ButtonPressRequired"},
					{Name: "ListeningStopped", Args: []introspect.Arg{{Name: "status", Type: "i", Direction: "out"}}},
					{Name: "LiveStopped", Args: []introspect.Arg{{Name: "status", Type: "i", Direction: "out"}}},
					{Name: "SyncState", Args: []introspect.Arg{{Name: "state", Type: "i", Direction: "out"}}},
				},
				Properties: props.Introspection(deviceIface),
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		s.logger.WithError(err).Warn("failed to export Device introspection")
	}

	s.mu.Lock()
	s.devProps[address] = props
	s.mu.Unlock()

	s.refreshDeviceProps(address)
	return obj
}

// blueZDevicePath resolves spec.md §6's "opaque handle to the transport
// adapter's device" for BlueZDevice. This daemon talks to the adapter
// directly through go-ble (internal/transport/goble), not through bluez's
// own D-Bus API, so there is no real bluez object to reference; a stable,
// address-derived path under our own tree stands in for it.
func blueZDevicePath(address string) dbus.ObjectPath {
	sanitized := make([]byte, 0, len(address))
	for _, c := range []byte(address) {
		if c == ':' {
			sanitized = append(sanitized, '_')
		} else {
			sanitized = append(sanitized, c)
		}
	}
	return dbus.ObjectPath(fmt.Sprintf("/org/tuhi/Tuhi1/adapter_devices/%s", sanitized))
}

// refreshDeviceProps recomputes every Device property for address from the
// Supervisor and registry and pushes them through prop.Properties (which
// emits PropertiesChanged for Emit:EmitTrue entries that actually changed).
func (s *Server) refreshDeviceProps(address string) {
	s.mu.Lock()
	props, ok := s.devProps[address]
	s.mu.Unlock()
	if !ok {
		return
	}
	d, ok := s.sv.Device(address)
	if !ok {
		return
	}
	percent, state := d.Battery()
	props.SetMust(deviceIface, "Dimensions", dimensions{WidthUm: d.WidthUm, HeightUm: d.HeightUm})
	props.SetMust(deviceIface, "BatteryPercent", percent)
	props.SetMust(deviceIface, "BatteryState", uint32(state))
	props.SetMust(deviceIface, "DrawingsAvailable", d.DrawingTimestamps())
	props.SetMust(deviceIface, "Listening", s.sv.Listening(address))
	props.SetMust(deviceIface, "Live", s.sv.Live(address))
}

func (s *Server) refreshManagerProps() {
	if s.managerProps == nil {
		return
	}
	var refs []DeviceRef
	for _, d := range s.sv.Devices() {
		s.mu.Lock()
		path := s.paths[d.Address]
		s.mu.Unlock()
		refs = append(refs, DeviceRef{Device: path, Address: d.Address, Name: d.Name, Family: string(d.Family)})
	}
	s.managerProps.SetMust(managerIface, "Devices", refs)
	s.managerProps.SetMust(managerIface, "Searching", s.sv.Searching())
}

// watchRegistry mirrors every registry.Change onto the exported object
// tree: new devices get a Device object, every change refreshes that
// device's (or the Manager's) properties.
func (s *Server) watchRegistry(ctx context.Context) {
	changes := s.sv.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			switch c.Kind {
			case registry.ChangeDeviceAdded:
				if d, ok := s.sv.Device(c.Address); ok {
					s.addDeviceObject(d.Address, d.Name, string(d.Family))
				}
				s.refreshManagerProps()
			case registry.ChangeDeviceUpdated:
				s.refreshDeviceProps(c.Address)
				s.refreshManagerProps()
			case registry.ChangeSearchingChanged:
				s.refreshManagerProps()
			case registry.ChangeListeningChanged, registry.ChangeLiveChanged:
				s.refreshDeviceProps(c.Address)
			}
		}
	}
}

// watchDisconnects subscribes to org.freedesktop.DBus.NameOwnerChanged and
// applies spec.md §5's implicit-Stop-on-disconnect rule: when a unique
// name this daemon has seen as an "owner" drops off the bus, every search
// or listen it started is stopped.
func (s *Server) watchDisconnects(ctx context.Context) {
	if err := s.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		s.logger.WithError(err).Warn("failed to subscribe to NameOwnerChanged; implicit-Stop-on-disconnect is disabled")
		return
	}

	sigCh := make(chan *dbus.Signal, 16)
	s.conn.Signal(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
				continue
			}
			name, _ := sig.Body[0].(string)
			newOwner, _ := sig.Body[2].(string)
			if newOwner == "" && name != "" {
				s.sv.StopAllForClient(name)
			}
		}
	}
}

func (s *Server) emitUnregisteredDevice(address, name, family string) {
	s.addDeviceObject(address, name, family)

	s.mu.Lock()
	path := s.paths[address]
	s.pending[address] = DeviceRef{Device: path, Address: address, Name: name, Family: family}
	s.mu.Unlock()

	ref := DeviceRef{Device: path, Address: address, Name: name, Family: family}
	if err := s.conn.Emit(managerPath, managerIface+".UnregisteredDevice", ref); err != nil {
		s.logger.WithError(err).Warn("failed to emit UnregisteredDevice")
	}
}

func (s *Server) pendingRef(address string) (DeviceRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.pending[address]
	return ref, ok
}

func (s *Server) emitSearchStopped(errno int32) {
	if err := s.conn.Emit(managerPath, managerIface+".SearchStopped", errno); err != nil {
		s.logger.WithError(err).Warn("failed to emit SearchStopped")
	}
	s.refreshManagerProps()
}

func (s *Server) devicePath(address string) dbus.ObjectPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[address]
}

func (s *Server) emitButtonPressRequired(address string) {
	path := s.devicePath(address)
	if path == "" {
		return
	}
	if err := s.conn.Emit(path, deviceIface+".ButtonPressRequired"); err != nil {
		s.logger.WithError(err).Warn("failed to emit ButtonPressRequired")
	}
}

func (s *Server) emitListeningStopped(address string, errno int32) {
	path := s.devicePath(address)
	if path == "" {
		return
	}
	if err := s.conn.Emit(path, deviceIface+".ListeningStopped", errno); err != nil {
		s.logger.WithError(err).Warn("failed to emit ListeningStopped")
	}
	s.refreshDeviceProps(address)
}

func (s *Server) emitLiveStopped(address string, errno int32) {
	path := s.devicePath(address)
	if path == "" {
		return
	}
	if err := s.conn.Emit(path, deviceIface+".LiveStopped", errno); err != nil {
		s.logger.WithError(err).Warn("failed to emit LiveStopped")
	}
	s.refreshDeviceProps(address)
}

func (s *Server) emitSyncState(address string, state int32) {
	path := s.devicePath(address)
	if path == "" {
		return
	}
	if err := s.conn.Emit(path, deviceIface+".SyncState", state); err != nil {
		s.logger.WithError(err).Warn("failed to emit SyncState")
	}
	s.refreshDeviceProps(address)
}
