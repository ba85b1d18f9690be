package hass

import (
	"context"
	"sync"
	"testing"
	"time"

	lares "github.com/caarlos0/homekit-lares"
	"github.com/caarlos0/homekit-lares/coordinator"
	"github.com/caarlos0/homekit-lares/entity"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mu         sync.Mutex
	published  map[string]Message
	subscribed []string
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string]Message{}
	}
	f.published[topic] = Message{Topic: topic, Payload: payload.([]byte), Retained: retained}
	return fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return fakeToken{}
}

func (f *fakeClient) payload(t *testing.T, topic string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.published[topic]
	require.True(t, ok, "nothing published to %s", topic)
	require.True(t, msg.Retained)
	return string(msg.Payload)
}

type fakePanel struct {
	scenarios []string
	activated []int
	bypasses  []string
}

func (f *fakePanel) ScenarioDescriptions(context.Context) ([]string, error) {
	return f.scenarios, nil
}

func (f *fakePanel) ScenarioOptions(context.Context) ([]lares.ScenarioOption, error) {
	return nil, nil
}

func (f *fakePanel) ActivateScenario(_ context.Context, scenario int, _ string) error {
	f.activated = append(f.activated, scenario)
	return nil
}

func (f *fakePanel) SetZoneBypass(_ context.Context, zone int, _ string, bypass bool) error {
	state := "off"
	if bypass {
		state = "on"
	}
	f.bypasses = append(f.bypasses, string(rune('0'+zone))+state)
	return nil
}

var testInfo = lares.Info{
	Name:    "LARES 48IP",
	Version: "1",
	ID:      "AA:BB:CC:DD:EE:FF",
	MAC:     "AA:BB:CC:DD:EE:FF",
}

func newTestBridge(client Client, panel *fakePanel) *Bridge {
	return newTestBridgeWithRefresh(client, panel, nil)
}

func newTestBridgeWithRefresh(client Client, panel *fakePanel, refresh func()) *Bridge {
	opts := entity.Options{
		AwayPartitions: []string{"Ground", "First"},
		HomePartitions: []string{"Ground"},
		AwayScenario:   "Away",
		HomeScenario:   "Home",
		DisarmScenario: "Off",
	}
	return New(client, Config{}, Device{
		Info:       testInfo,
		Zones:      []string{"Door", "Window"},
		Partitions: []string{"Ground", "First"},
	}, opts, entity.NewPanel(panel, opts), panel, "1234", refresh)
}

func testSnapshot() *coordinator.Snapshot {
	return &coordinator.Snapshot{
		Zones: []lares.Zone{
			{Status: lares.ZoneStatusAlarm, Bypass: lares.BypassOff},
			{Status: lares.ZoneStatusNotUsed, Bypass: lares.BypassOn},
		},
		Partitions: []lares.Partition{
			{Status: lares.PartitionStatusArmed},
			{Status: lares.PartitionStatusDisarmed},
		},
	}
}

func TestNodeID(t *testing.T) {
	require.Equal(t, "aa_bb_cc_dd_ee_ff", NodeID(testInfo))
	require.Equal(t, "10_0_0_2_4202", NodeID(lares.Info{ID: "10.0.0.2:4202"}))
	require.Equal(t, "lares/aa_bb_cc_dd_ee_ff/availability", AvailabilityTopic(Config{}, testInfo))
}

func TestDiscovery(t *testing.T) {
	bridge := newTestBridge(nil, &fakePanel{})
	messages := bridge.Discovery(testSnapshot())
	require.Len(t, messages, 1+2*2+2)

	configs := map[string]map[string]any{}
	for _, m := range messages {
		require.True(t, m.Retained)
		var cfg map[string]any
		require.NoError(t, json.Unmarshal(m.Payload, &cfg))
		configs[m.Topic] = cfg
	}

	panel := configs["homeassistant/alarm_control_panel/aa_bb_cc_dd_ee_ff/panel/config"]
	require.NotNil(t, panel)
	require.Equal(t, "lares_panel_LARES_48IP", panel["unique_id"])
	require.Equal(t, []any{"arm_away", "arm_home"}, panel["supported_features"])
	require.Equal(t, "lares/aa_bb_cc_dd_ee_ff/alarm/set", panel["command_topic"])
	device := panel["device"].(map[string]any)
	require.Equal(t, "Ksenia", device["manufacturer"])
	require.Equal(t, []any{"AA:BB:CC:DD:EE:FF"}, device["identifiers"])

	door := configs["homeassistant/binary_sensor/aa_bb_cc_dd_ee_ff/lares_zones_0/config"]
	require.Equal(t, "Door", door["name"])
	require.Equal(t, "motion", door["device_class"])
	require.Equal(t, true, door["enabled_by_default"])

	window := configs["homeassistant/binary_sensor/aa_bb_cc_dd_ee_ff/lares_zones_1/config"]
	require.Equal(t, false, window["enabled_by_default"])

	bypass := configs["homeassistant/switch/aa_bb_cc_dd_ee_ff/lares_bypass_1/config"]
	require.Equal(t, "config", bypass["entity_category"])
	require.Equal(t, "mdi:shield-off", bypass["icon"])

	partition := configs["homeassistant/sensor/aa_bb_cc_dd_ee_ff/lares_partitions_0/config"]
	require.Equal(t, "enum", partition["device_class"])
	require.Len(t, partition["options"], 6)
}

func TestStates(t *testing.T) {
	client := &fakeClient{}
	bridge := newTestBridge(client, &fakePanel{})
	bridge.Update(testSnapshot())

	require.Equal(t, "armed_home", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/alarm/state"))
	require.Equal(t, "ON", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/zone/0/state"))
	require.Equal(t, "OFF", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/zone/1/state"))
	require.Equal(t, "OFF", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/zone/0/bypass"))
	require.Equal(t, "ON", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/zone/1/bypass"))
	require.Equal(t, "ARMED", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/partition/0/state"))
	require.Equal(t, "online", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/availability"))

	bridge.Unavailable(lares.ErrUnavailable)
	require.Equal(t, "offline", client.payload(t, "lares/aa_bb_cc_dd_ee_ff/availability"))
}

func TestStart(t *testing.T) {
	client := &fakeClient{}
	bridge := newTestBridge(client, &fakePanel{})
	require.NoError(t, bridge.Start(testSnapshot()))
	require.Equal(t, []string{
		"lares/aa_bb_cc_dd_ee_ff/alarm/set",
		"lares/aa_bb_cc_dd_ee_ff/zone/+/bypass/set",
	}, client.subscribed)
	require.Len(t, client.published, 7+1+2*2+2+1)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("arm", func(t *testing.T) {
		panel := &fakePanel{scenarios: []string{"Off", "Home", "Away"}}
		var refreshes int
		bridge := newTestBridgeWithRefresh(nil, panel, func() { refreshes++ })
		require.NoError(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/alarm/set", []byte("ARM_AWAY")))
		require.NoError(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/alarm/set", []byte("DISARM")))
		require.Equal(t, []int{2, 0}, panel.activated)
		require.Equal(t, 2, refreshes)
	})

	t.Run("refresh only on success", func(t *testing.T) {
		panel := &fakePanel{scenarios: []string{"Off", "Home", "Away"}}
		var refreshes int
		bridge := newTestBridgeWithRefresh(nil, panel, func() { refreshes++ })
		require.Error(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/alarm/set", []byte("ARM_NIGHT")))
		require.Error(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/zone/9/bypass/set", []byte("ON")))
		require.NoError(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/zone/0/bypass/set", []byte("ON")))
		require.Equal(t, 1, refreshes)
	})

	t.Run("arm not configured", func(t *testing.T) {
		panel := &fakePanel{scenarios: []string{"Off", "Home", "Away"}}
		bridge := newTestBridge(nil, panel)
		err := bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/alarm/set", []byte("ARM_NIGHT"))
		require.ErrorIs(t, err, entity.ErrNotConfigured)
		require.Empty(t, panel.activated)
	})

	t.Run("unknown alarm command", func(t *testing.T) {
		bridge := newTestBridge(nil, &fakePanel{})
		require.ErrorIs(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/alarm/set", []byte("PANIC")), errUnknownCommand)
	})

	t.Run("bypass", func(t *testing.T) {
		panel := &fakePanel{}
		bridge := newTestBridge(nil, panel)
		require.NoError(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/zone/1/bypass/set", []byte("ON")))
		require.NoError(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/zone/0/bypass/set", []byte("OFF")))
		require.Equal(t, []string{"1on", "0off"}, panel.bypasses)
	})

	t.Run("invalid zone", func(t *testing.T) {
		panel := &fakePanel{}
		bridge := newTestBridge(nil, panel)
		require.ErrorIs(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/zone/5/bypass/set", []byte("ON")), errUnknownCommand)
		require.ErrorIs(t, bridge.Handle(ctx, "lares/aa_bb_cc_dd_ee_ff/zone/x/bypass/set", []byte("ON")), errUnknownCommand)
		require.ErrorIs(t, bridge.Handle(ctx, "lares/other", []byte("ON")), errUnknownCommand)
		require.Empty(t, panel.bypasses)
	})
}
