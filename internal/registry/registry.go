// Package registry implements the device registry of spec.md §4.5: a
// single-owner mapping from Bluetooth address to drawing.Device, with the
// at-most-one-search and at-most-one-listen-per-device invariants.
package registry

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/tuhi/internal/drawing"
)

// ChangeKind tags a registry mutation, for the RPC surface's
// property-changed notifications (spec.md §4.5).
type ChangeKind int

const (
	ChangeDeviceAdded ChangeKind = iota
	ChangeDeviceUpdated
	ChangeSearchingChanged
	ChangeListeningChanged
	ChangeLiveChanged
)

// Change is one registry mutation, published to subscribers.
type Change struct {
	Kind    ChangeKind
	Address string
}

// Registry holds known devices. All mutation goes through the session
// supervisor, from whichever of its goroutines is running; the search and
// listen state is guarded by mu. Get/Devices are safe to call from the RPC
// surface concurrently because cornelk/hashmap (the teacher's choice in
// scanner.go for its device map) tolerates concurrent readers without an
// external lock.
type Registry struct {
	logger *logrus.Logger

	devices *hashmap.Map[string, *drawing.Device]

	mu         sync.Mutex
	searching  bool
	searchOwner string
	listening  map[string]string // address -> owning client id

	subsMu sync.Mutex
	subs   []chan Change
}

// New returns an empty Registry.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		logger:    logger,
		devices:   hashmap.New[string, *drawing.Device](),
		listening: make(map[string]string),
	}
}

// Subscribe returns a channel of Changes; the caller must drain it.
func (r *Registry) Subscribe() <-chan Change {
	ch := make(chan Change, 32)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Registry) publish(c Change) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- c:
		default:
			r.logger.Warn("registry subscriber channel full, dropping change notification")
		}
	}
}

// Put inserts or replaces a device record and notifies subscribers.
func (r *Registry) Put(d *drawing.Device) {
	_, existed := r.devices.Get(d.Address)
	r.devices.Set(d.Address, d)
	kind := ChangeDeviceAdded
	if existed {
		kind = ChangeDeviceUpdated
	}
	r.publish(Change{Kind: kind, Address: d.Address})
}

// Get looks up a device by address.
func (r *Registry) Get(address string) (*drawing.Device, bool) {
	return r.devices.Get(address)
}

// Devices returns a snapshot of every known device.
func (r *Registry) Devices() []*drawing.Device {
	out := make([]*drawing.Device, 0, r.devices.Len())
	r.devices.Range(func(_ string, d *drawing.Device) bool {
		out = append(out, d)
		return true
	})
	return out
}

// TryStartSearch enforces "at most one active search is running across the
// registry" (spec.md §4.5): a second StartSearch by the same owner is a
// silent no-op (ok=true, already=true); by a different owner it fails
// (ok=false).
func (r *Registry) TryStartSearch(owner string) (ok bool, already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.searching {
		r.searching = true
		r.searchOwner = owner
		r.publish(Change{Kind: ChangeSearchingChanged})
		return true, false
	}
	if r.searchOwner == owner {
		return true, true
	}
	return false, false
}

// StopSearch clears the searching flag if owner is the current owner (or
// owner is "" to force-stop on client disconnect, per spec.md §5's implicit
// Stop rule).
func (r *Registry) StopSearch(owner string) {
	r.mu.Lock()
	if !r.searching || (owner != "" && r.searchOwner != owner) {
		r.mu.Unlock()
		return
	}
	r.searching = false
	r.searchOwner = ""
	r.mu.Unlock()
	r.publish(Change{Kind: ChangeSearchingChanged})
}

// Searching reports whether a search is currently running.
func (r *Registry) Searching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searching
}

// TryStartListening enforces "at most one active listen per device"
// (spec.md §4.5).
func (r *Registry) TryStartListening(address, owner string) (ok bool, already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.listening[address]
	if !exists {
		r.listening[address] = owner
		r.publish(Change{Kind: ChangeListeningChanged, Address: address})
		return true, false
	}
	if current == owner {
		return true, true
	}
	return false, false
}

// StopListening clears the listening flag for address if owner matches (or
// owner is "").
func (r *Registry) StopListening(address, owner string) {
	r.mu.Lock()
	current, exists := r.listening[address]
	if !exists || (owner != "" && current != owner) {
		r.mu.Unlock()
		return
	}
	delete(r.listening, address)
	r.mu.Unlock()
	r.publish(Change{Kind: ChangeListeningChanged, Address: address})
}

// IsListening reports whether address currently has an active listen.
func (r *Registry) IsListening(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listening[address]
	return ok
}

// StopAllForClient implements spec.md §5's "client disconnect from the RPC
// surface is treated as an implicit Stop for every session owned by that
// client".
func (r *Registry) StopAllForClient(owner string) {
	r.StopSearch(owner)
	r.mu.Lock()
	var toStop []string
	for addr, o := range r.listening {
		if o == owner {
			toStop = append(toStop, addr)
		}
	}
	r.mu.Unlock()
	for _, addr := range toStop {
		r.StopListening(addr, owner)
	}
}
