package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/tuhi/internal/drawing"
	"github.com/srg/tuhi/internal/wire"
)

func TestPutAndGet(t *testing.T) {
	r := New(nil)
	d := drawing.NewDevice("AA:BB:CC:DD:EE:FF", "Slate", wire.TagSlate)
	r.Put(d)

	got, ok := r.Get("AA:BB:CC:DD:EE:FF")
	require.True(t, ok)
	assert.Equal(t, d, got)
	assert.Len(t, r.Devices(), 1)
}

func TestOnlyOneActiveSearch(t *testing.T) {
	r := New(nil)

	ok, already := r.TryStartSearch("client-a")
	assert.True(t, ok)
	assert.False(t, already)

	ok, already = r.TryStartSearch("client-a")
	assert.True(t, ok)
	assert.True(t, already, "same owner retrying StartSearch is a silent no-op")

	ok, already = r.TryStartSearch("client-b")
	assert.False(t, ok, "a different client must be refused while a search is active")
	assert.False(t, already)

	r.StopSearch("client-a")
	assert.False(t, r.Searching())

	ok, _ = r.TryStartSearch("client-b")
	assert.True(t, ok)
}

func TestOnlyOneActiveListenPerDevice(t *testing.T) {
	r := New(nil)
	addr := "AA:BB:CC:DD:EE:FF"

	ok, already := r.TryStartListening(addr, "client-a")
	assert.True(t, ok)
	assert.False(t, already)

	ok, _ = r.TryStartListening(addr, "client-b")
	assert.False(t, ok, "concurrent listen scenario: client B must be refused (spec.md §8 scenario 4)")

	assert.True(t, r.IsListening(addr))
	r.StopListening(addr, "client-b") // no-op, wrong owner
	assert.True(t, r.IsListening(addr))

	r.StopListening(addr, "client-a")
	assert.False(t, r.IsListening(addr))
}

func TestStopAllForClientDisconnect(t *testing.T) {
	r := New(nil)
	r.TryStartSearch("client-a")
	r.TryStartListening("dev1", "client-a")
	r.TryStartListening("dev2", "client-b")

	r.StopAllForClient("client-a")

	assert.False(t, r.Searching())
	assert.False(t, r.IsListening("dev1"))
	assert.True(t, r.IsListening("dev2"), "other clients' sessions must survive")
}

func TestSubscribePublishesChanges(t *testing.T) {
	r := New(nil)
	ch := r.Subscribe()

	d := drawing.NewDevice("AA:BB", "Spark", wire.TagSpark)
	r.Put(d)

	change := <-ch
	assert.Equal(t, ChangeDeviceAdded, change.Kind)
	assert.Equal(t, "AA:BB", change.Address)
}
