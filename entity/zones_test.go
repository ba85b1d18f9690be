package entity

import (
	"context"
	"testing"

	lares "github.com/caarlos0/homekit-lares"
	"github.com/stretchr/testify/require"
)

type bypassCall struct {
	zone   int
	pin    string
	bypass bool
}

type fakeBypasser struct {
	calls []bypassCall
}

func (f *fakeBypasser) SetZoneBypass(_ context.Context, zone int, pin string, bypass bool) error {
	f.calls = append(f.calls, bypassCall{zone, pin, bypass})
	return nil
}

func TestZoneAdapters(t *testing.T) {
	zones := []lares.Zone{
		{Status: lares.ZoneStatusNormal, Bypass: lares.BypassOn},
		{Status: lares.ZoneStatusAlarm, Bypass: lares.BypassOff},
		{Status: lares.ZoneStatusNotUsed, Bypass: lares.BypassOff},
		{Status: lares.ZoneStatusTamper, Bypass: "SOMETHING_ELSE"},
	}

	require.Equal(t, []bool{false, true, false, false}, mapZones(zones, Intrusion))
	require.Equal(t, []bool{true, true, false, true}, mapZones(zones, Used))
	require.Equal(t, []bool{true, false, false, false}, mapZones(zones, Bypassed))

	for i, z := range zones {
		sw := NewBypassSwitch(nil, i, "")
		require.Equal(t, z.Bypass == lares.BypassOn, sw.IsOn(zones))
	}
	require.False(t, NewBypassSwitch(nil, 10, "").IsOn(zones))
}

func mapZones(zones []lares.Zone, fn func(lares.Zone) bool) []bool {
	result := make([]bool, len(zones))
	for i, z := range zones {
		result[i] = fn(z)
	}
	return result
}

func TestBypassSwitch(t *testing.T) {
	fake := &fakeBypasser{}
	sw := NewBypassSwitch(fake, 2, "1234")
	require.Equal(t, 2, sw.Index())

	require.NoError(t, sw.TurnOn(context.Background()))
	require.NoError(t, sw.TurnOff(context.Background()))
	require.Equal(t, []bypassCall{
		{2, "1234", true},
		{2, "1234", false},
	}, fake.calls)
}

func TestBypassSwitchWithoutPin(t *testing.T) {
	fake := &fakeBypasser{}
	sw := NewBypassSwitch(fake, 0, "")
	require.ErrorIs(t, sw.TurnOn(context.Background()), ErrNoPin)
	require.Empty(t, fake.calls)
}

func TestPartitions(t *testing.T) {
	require.Len(t, PartitionOptions, 6)
	require.Equal(t, lares.PartitionStatusPending, PartitionValue(lares.Partition{Status: lares.PartitionStatusPending}))
	require.False(t, PartitionVisible(""))
	require.True(t, PartitionVisible("Ground floor"))
}

func TestIDs(t *testing.T) {
	require.Equal(t, "lares_zones_3", ZoneID(3))
	require.Equal(t, "lares_bypass_3", BypassID(3))
	require.Equal(t, "lares_partitions_0", PartitionID(0))
}
