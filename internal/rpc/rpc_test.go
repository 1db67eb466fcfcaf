package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/tuhi/internal/wire"
)

func TestDBusErrorNil(t *testing.T) {
	assert.Nil(t, dbusError(nil))
}

func TestDBusErrorWrapsOpError(t *testing.T) {
	err := &wire.OpError{Kind: wire.KindBusy, Err: errors.New("already scanning")}

	dErr := dbusError(err)

	require.NotNil(t, dErr)
	assert.Equal(t, errorNamePrefix+"Busy", dErr.Name)
	require.Len(t, dErr.Body, 1)
	assert.Contains(t, dErr.Body[0], "already scanning")
}

func TestDBusErrorWrapsPlainError(t *testing.T) {
	dErr := dbusError(errors.New("boom"))

	require.NotNil(t, dErr)
	assert.Equal(t, errorNamePrefix+"ProtocolError", dErr.Name)
}

func TestBlueZDevicePathSanitizesColons(t *testing.T) {
	path := blueZDevicePath("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, "/org/tuhi/Tuhi1/adapter_devices/AA_BB_CC_DD_EE_FF", string(path))
}

func TestDeviceRefFamilyTag(t *testing.T) {
	ref := DeviceRef{Family: string(wire.TagSlate)}
	assert.Equal(t, wire.TagSlate, ref.familyTag())
}
