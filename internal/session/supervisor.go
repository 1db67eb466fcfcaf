package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/tuhi/internal/drawing"
	"github.com/srg/tuhi/internal/groutine"
	"github.com/srg/tuhi/internal/registry"
	"github.com/srg/tuhi/internal/transport"
	"github.com/srg/tuhi/internal/wire"
)

// Supervisor is the single owner spec.md §4.5 and §5 describe: it holds
// the registry, the transport adapter, and one Session per known device,
// and is the only thing that starts sessions or mutates the registry.
// The RPC surface (internal/rpc) talks to it exclusively through this
// type; it never touches a Session or the registry directly.
type Supervisor struct {
	logger    *logrus.Logger
	transport transport.Transport
	registry  *registry.Registry
	store     *registry.FileStore

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSupervisor wires a Supervisor over an already-constructed registry
// and persistent store, loading any previously registered devices into
// the registry as placeholder (offline) Device records.
func NewSupervisor(logger *logrus.Logger, tp transport.Transport, reg *registry.Registry, store *registry.FileStore) (*Supervisor, error) {
	if logger == nil {
		logger = logrus.New()
	}
	sv := &Supervisor{
		logger:    logger,
		transport: tp,
		registry:  reg,
		store:     store,
		sessions:  make(map[string]*Session),
	}

	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load registration store: %w", err)
	}
	for address, rec := range records {
		family, ok := wire.ByTag(rec.Family)
		if !ok {
			logger.WithField("address", address).Warn("registration store names an unknown device family, skipping")
			continue
		}
		var uuid [16]byte
		if decoded, err := hex.DecodeString(rec.UUID); err == nil {
			copy(uuid[:], decoded)
		} else {
			logger.WithField("address", address).Warn("registration store has a malformed uuid, skipping")
			continue
		}
		d := drawing.NewDevice(address, address, rec.Family)
		d.MarkRegistered(uuid)
		sv.registry.Put(d)
		sv.sessionFor(d, family)
	}
	return sv, nil
}

func (sv *Supervisor) sessionFor(d *drawing.Device, family wire.Family) *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	s, ok := sv.sessions[d.Address]
	if !ok {
		s = newSession(sv.logger, sv.transport, d, family)
		sv.sessions[d.Address] = s
	}
	return s
}

// StartSearch implements Manager.StartSearch (spec.md §6): scans for
// pairing-mode advertisements and invokes onUnregistered for each
// newly-seen device, per the UnregisteredDevice signal.
func (sv *Supervisor) StartSearch(ctx context.Context, owner string, onUnregistered func(address, name string, family wire.Tag), onStopped func(errno int32)) error {
	ok, already := sv.registry.TryStartSearch(owner)
	if !ok {
		return &wire.OpError{Kind: wire.KindBusy, Err: fmt.Errorf("a search is already active")}
	}
	if already {
		return nil
	}

	groutine.Go(ctx, "search:"+owner, func(ctx context.Context) {
		defer sv.registry.StopSearch(owner)

		errno := int32(0)
		advs, err := sv.transport.Scan(ctx, searchTimeout)
		if err != nil {
			sv.logger.WithError(err).Warn("search scan failed to start")
			errno = wire.KindTransportLost.Errno()
		} else {
			seen := make(map[string]bool)
			for adv := range advs {
				if _, known := sv.registry.Get(adv.Address); known || seen[adv.Address] {
					continue
				}
				tag, ok := classifyPairingAdvertisement(adv)
				if !ok {
					continue
				}
				seen[adv.Address] = true
				if onUnregistered != nil {
					onUnregistered(adv.Address, adv.Name, tag)
				}
			}
		}
		if onStopped != nil {
			onStopped(errno)
		}
	})
	return nil
}

// StopSearch implements Manager.StopSearch.
func (sv *Supervisor) StopSearch(owner string) {
	sv.registry.StopSearch(owner)
}

// classifyPairingAdvertisement recognizes a SmartPad in pairing mode by
// the presence of the vendor service UUID in its advertisement service
// data, and guesses the family from a substring of the advertised name
// ("spark", "slate", "intuos"), defaulting to slate. Exact
// pairing-mode markers are not specified; this mirrors the "distinct
// appearance / service-data pattern" spec.md §4.3 describes.
func classifyPairingAdvertisement(adv transport.Advertisement) (wire.Tag, bool) {
	if _, ok := adv.ServiceData[wire.ServiceUUID]; !ok {
		return "", false
	}
	name := strings.ToLower(adv.Name)
	switch {
	case strings.Contains(name, "spark"):
		return wire.TagSpark, true
	case strings.Contains(name, "slate"):
		return wire.TagSlate, true
	case strings.Contains(name, "intuos"):
		return wire.TagIntuosPro, true
	default:
		return wire.TagSlate, true
	}
}

// Register implements Device.Register (spec.md §6): address/name/family
// come from a prior UnregisteredDevice signal.
func (sv *Supervisor) Register(ctx context.Context, address, name string, family wire.Tag, onButtonPressRequired func()) int32 {
	fam, ok := wire.ByTag(family)
	if !ok {
		return wire.KindProtocolError.Errno()
	}
	d, known := sv.registry.Get(address)
	if !known {
		d = drawing.NewDevice(address, name, family)
		sv.registry.Put(d)
	}
	s := sv.sessionFor(d, fam)

	if err := s.Register(ctx, onButtonPressRequired); err != nil {
		return errnoOf(err)
	}

	uuidStr := fmt.Sprintf("%x", d.UUID)
	if err := sv.store.Put(address, registry.Record{UUID: uuidStr, Family: family}); err != nil {
		sv.logger.WithError(err).Warn("registration succeeded but persisting the record failed")
	}
	sv.registry.Put(d)
	return 0
}

// StartListening implements Device.StartListening (spec.md §6, §4.3's
// listen semantics): idles until a button press, then fetches and
// repeats until StopListening.
func (sv *Supervisor) StartListening(ctx context.Context, address, owner string, onDrawingFetched func(timestamp uint64), onStopped func(errno int32)) int32 {
	d, known := sv.registry.Get(address)
	if !known {
		return wire.KindNotReady.Errno()
	}
	ok, already := sv.registry.TryStartListening(address, owner)
	if !ok {
		return wire.KindBusy.Errno()
	}
	if already {
		return 0
	}

	fam, _ := wire.ByTag(d.Family)
	s := sv.sessionFor(d, fam)

	groutine.Go(ctx, "listen:"+address, func(ctx context.Context) {
		errno := int32(0)
		for sv.registry.IsListening(address) {
			if err := sv.waitForButtonAdvertisement(ctx, address); err != nil {
				errno = errnoOf(err)
				break
			}
			if !sv.registry.IsListening(address) {
				break
			}
			dr, err := s.Fetch(ctx, randomSessionID(), uint64(nowUnix()))
			if err != nil {
				errno = errnoOf(err)
				break
			}
			if onDrawingFetched != nil {
				onDrawingFetched(dr.Timestamp)
			}
			s.Disconnect()
		}
		sv.registry.StopListening(address, owner)
		if onStopped != nil {
			onStopped(errno)
		}
	})
	return 0
}

// waitForButtonAdvertisement scans in successive windows until address
// advertises its button-pressed service-data marker, or ctx is
// canceled. Listen has no intrinsic timeout (spec.md §5), so this loops
// indefinitely on plain scan timeouts, only returning early on a real
// scan failure or context cancellation.
func (sv *Supervisor) waitForButtonAdvertisement(ctx context.Context, address string) error {
	for {
		select {
		case <-ctx.Done():
			return &wire.OpError{Kind: wire.KindTransportLost, Err: ctx.Err()}
		default:
		}
		advs, err := sv.transport.Scan(ctx, listenPollInterval)
		if err != nil {
			return &wire.OpError{Kind: wire.KindTransportLost, Err: err}
		}
		for adv := range advs {
			if adv.Address != address {
				continue
			}
			if data, ok := adv.ServiceData[wire.ServiceUUID]; ok && len(data) > 0 && data[0] == buttonPressed {
				return nil
			}
		}
	}
}

// StopListening implements Device.StopListening.
func (sv *Supervisor) StopListening(address, owner string) {
	sv.registry.StopListening(address, owner)
}

// StartLive implements Device.StartLive (spec.md §6).
func (sv *Supervisor) StartLive(ctx context.Context, address, owner string, pointSink func(x, y, pressure uint32)) int32 {
	d, known := sv.registry.Get(address)
	if !known {
		return wire.KindNotReady.Errno()
	}
	fam, _ := wire.ByTag(d.Family)
	s := sv.sessionFor(d, fam)

	if err := s.StartLive(ctx, owner, pointSink); err != nil {
		return errnoOf(err)
	}
	return 0
}

// StopLive implements Device.StopLive.
func (sv *Supervisor) StopLive(address string) {
	sv.mu.Lock()
	s, ok := sv.sessions[address]
	sv.mu.Unlock()
	if ok {
		s.StopLive()
	}
}

// StopAllForClient implements spec.md §5's implicit-Stop-on-disconnect
// rule for every session owned by a disconnecting RPC client.
func (sv *Supervisor) StopAllForClient(owner string) {
	sv.registry.StopAllForClient(owner)
}

// Listening reports whether address currently has an active listen,
// for Device.Listening (spec.md §6).
func (sv *Supervisor) Listening(address string) bool {
	return sv.registry.IsListening(address)
}

// Live reports whether address currently has an active live stream, for
// Device.Live (spec.md §6).
func (sv *Supervisor) Live(address string) bool {
	sv.mu.Lock()
	s, ok := sv.sessions[address]
	sv.mu.Unlock()
	return ok && s.LiveOwner() != ""
}

// Device returns the registry snapshot for address, for the RPC surface's
// property reads.
func (sv *Supervisor) Device(address string) (*drawing.Device, bool) {
	return sv.registry.Get(address)
}

// Devices returns every known device, for Manager.Devices.
func (sv *Supervisor) Devices() []*drawing.Device {
	return sv.registry.Devices()
}

// Subscribe exposes the registry's change feed to the RPC surface.
func (sv *Supervisor) Subscribe() <-chan registry.Change {
	return sv.registry.Subscribe()
}

// Searching reports whether a search is currently active, for
// Manager.Searching.
func (sv *Supervisor) Searching() bool {
	return sv.registry.Searching()
}

func errnoOf(err error) int32 {
	if opErr, ok := err.(*wire.OpError); ok {
		return opErr.Kind.Errno()
	}
	return wire.KindProtocolError.Errno()
}
