// Package hass exposes the panel to Home Assistant through MQTT discovery.
package hass

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	lares "github.com/caarlos0/homekit-lares"
	"github.com/caarlos0/homekit-lares/coordinator"
	"github.com/caarlos0/homekit-lares/entity"
	logp "github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "hass",
})

// SetLogLevel sets the level of the package logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

const (
	manufacturer = "Ksenia"
	qos          = 1

	payloadOn      = "ON"
	payloadOff     = "OFF"
	payloadOnline  = "online"
	payloadOffline = "offline"

	commandTimeout = 10 * time.Second
	tokenTimeout   = 10 * time.Second
)

// Client is the subset of paho.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

type Config struct {
	DiscoveryPrefix string
	Topic           string
}

// Device is the static description of the panel.
type Device struct {
	Info       lares.Info
	Zones      []string
	Partitions []string
}

type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type Bridge struct {
	client  Client
	cfg     Config
	device  Device
	opts    entity.Options
	panel   *entity.Panel
	bypass  entity.Bypasser
	pin     string
	refresh func()
	base    string
}

func New(
	client Client,
	cfg Config,
	device Device,
	opts entity.Options,
	panel *entity.Panel,
	bypass entity.Bypasser,
	pin string,
	refresh func(),
) *Bridge {
	if refresh == nil {
		refresh = func() {}
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.Topic == "" {
		cfg.Topic = "lares"
	}
	return &Bridge{
		client:  client,
		cfg:     cfg,
		device:  device,
		opts:    opts,
		panel:   panel,
		bypass:  bypass,
		pin:     pin,
		refresh: refresh,
		base:    cfg.Topic + "/" + NodeID(device.Info),
	}
}

// NodeID is the MQTT safe version of the panel id.
func NodeID(info lares.Info) string {
	return strings.ToLower(strings.NewReplacer(":", "_", ".", "_", " ", "_").Replace(info.ID))
}

// AvailabilityTopic is also the topic the broker should use as last will.
func AvailabilityTopic(cfg Config, info lares.Info) string {
	topic := cfg.Topic
	if topic == "" {
		topic = "lares"
	}
	return topic + "/" + NodeID(info) + "/availability"
}

// Start announces the entities, publishes the first states and listens for
// commands.
func (b *Bridge) Start(snap *coordinator.Snapshot) error {
	messages := b.Discovery(snap)
	messages = append(messages, b.States(snap)...)
	messages = append(messages, b.availability(payloadOnline))
	if err := b.publish(messages...); err != nil {
		return err
	}

	if err := wait(b.client.Subscribe(b.base+"/alarm/set", qos, b.onMessage)); err != nil {
		return fmt.Errorf("could not subscribe to alarm commands: %w", err)
	}
	if err := wait(b.client.Subscribe(b.base+"/zone/+/bypass/set", qos, b.onMessage)); err != nil {
		return fmt.Errorf("could not subscribe to bypass commands: %w", err)
	}
	log.Info("home assistant bridge started", "topic", b.base, "zones", len(b.device.Zones))
	return nil
}

// Update publishes the states of a new snapshot.
func (b *Bridge) Update(snap *coordinator.Snapshot) {
	messages := append(b.States(snap), b.availability(payloadOnline))
	if err := b.publish(messages...); err != nil {
		log.Error("could not publish states", "err", err)
	}
}

// Unavailable marks all entities unavailable until the next update.
func (b *Bridge) Unavailable(err error) {
	log.Debug("marking entities unavailable", "err", err)
	if err := b.publish(b.availability(payloadOffline)); err != nil {
		log.Error("could not publish availability", "err", err)
	}
}

func (b *Bridge) availability(payload string) Message {
	return Message{Topic: b.base + "/availability", Payload: []byte(payload), Retained: true}
}

type deviceConfig struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections,omitempty"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	SWVersion    string      `json:"sw_version"`
}

type entityConfig struct {
	Name              string        `json:"name"`
	UniqueID          string        `json:"unique_id"`
	StateTopic        string        `json:"state_topic"`
	CommandTopic      string        `json:"command_topic,omitempty"`
	AvailabilityTopic string        `json:"availability_topic"`
	DeviceClass       string        `json:"device_class,omitempty"`
	EntityCategory    string        `json:"entity_category,omitempty"`
	Icon              string        `json:"icon,omitempty"`
	PayloadOn         string        `json:"payload_on,omitempty"`
	PayloadOff        string        `json:"payload_off,omitempty"`
	Options           []string      `json:"options,omitempty"`
	SupportedFeatures []string      `json:"supported_features,omitempty"`
	CodeArmRequired   *bool         `json:"code_arm_required,omitempty"`
	CodeDisarmReq     *bool         `json:"code_disarm_required,omitempty"`
	EnabledByDefault  bool          `json:"enabled_by_default"`
	Device            *deviceConfig `json:"device"`
}

type discoveryConfig struct {
	component string
	id        string
	cfg       entityConfig
}

func (b *Bridge) deviceConfig() *deviceConfig {
	info := b.device.Info
	dev := &deviceConfig{
		Identifiers:  []string{info.ID},
		Name:         info.Name,
		Manufacturer: manufacturer,
		Model:        info.Name,
		SWVersion:    info.Firmware(),
	}
	if info.MAC != "" {
		dev.Connections = [][2]string{{"mac", strings.ToLower(info.MAC)}}
	}
	return dev
}

// Discovery returns the retained config messages for every entity.
// snap decides which zone entities are enabled by default.
func (b *Bridge) Discovery(snap *coordinator.Snapshot) []Message {
	dev := b.deviceConfig()
	node := NodeID(b.device.Info)
	availability := b.base + "/availability"
	no := false

	var features []string
	for _, m := range b.panel.Supported() {
		features = append(features, "arm_"+m.String())
	}

	configs := []discoveryConfig{{
		component: "alarm_control_panel",
		id:        "panel",
		cfg: entityConfig{
			Name:              "Panel " + b.device.Info.Name,
			UniqueID:          entity.PanelID(b.device.Info),
			StateTopic:        b.base + "/alarm/state",
			CommandTopic:      b.base + "/alarm/set",
			AvailabilityTopic: availability,
			SupportedFeatures: features,
			CodeArmRequired:   &no,
			CodeDisarmReq:     &no,
			EnabledByDefault:  true,
			Device:            dev,
		},
	}}

	for i, name := range b.device.Zones {
		used := true
		if snap != nil && i < len(snap.Zones) {
			used = entity.Used(snap.Zones[i])
		}
		configs = append(configs, discoveryConfig{
			component: "binary_sensor",
			id:        entity.ZoneID(i),
			cfg: entityConfig{
				Name:              name,
				UniqueID:          entity.ZoneID(i),
				StateTopic:        fmt.Sprintf("%s/zone/%d/state", b.base, i),
				AvailabilityTopic: availability,
				DeviceClass:       "motion",
				PayloadOn:         payloadOn,
				PayloadOff:        payloadOff,
				EnabledByDefault:  used,
				Device:            dev,
			},
		}, discoveryConfig{
			component: "switch",
			id:        entity.BypassID(i),
			cfg: entityConfig{
				Name:              name + " bypass",
				UniqueID:          entity.BypassID(i),
				StateTopic:        fmt.Sprintf("%s/zone/%d/bypass", b.base, i),
				CommandTopic:      fmt.Sprintf("%s/zone/%d/bypass/set", b.base, i),
				AvailabilityTopic: availability,
				DeviceClass:       "switch",
				EntityCategory:    "config",
				Icon:              "mdi:shield-off",
				PayloadOn:         payloadOn,
				PayloadOff:        payloadOff,
				EnabledByDefault:  used,
				Device:            dev,
			},
		})
	}

	options := make([]string, len(entity.PartitionOptions))
	for i, o := range entity.PartitionOptions {
		options[i] = string(o)
	}
	for i, name := range b.device.Partitions {
		configs = append(configs, discoveryConfig{
			component: "sensor",
			id:        entity.PartitionID(i),
			cfg: entityConfig{
				Name:              name,
				UniqueID:          entity.PartitionID(i),
				StateTopic:        fmt.Sprintf("%s/partition/%d/state", b.base, i),
				AvailabilityTopic: availability,
				DeviceClass:       "enum",
				Icon:              "mdi:shield",
				Options:           options,
				EnabledByDefault:  entity.PartitionVisible(name),
				Device:            dev,
			},
		})
	}

	messages := make([]Message, 0, len(configs))
	for _, c := range configs {
		payload, err := json.Marshal(c.cfg)
		if err != nil {
			log.Error("could not encode discovery config", "entity", c.id, "err", err)
			continue
		}
		messages = append(messages, Message{
			Topic:    fmt.Sprintf("%s/%s/%s/%s/config", b.cfg.DiscoveryPrefix, c.component, node, c.id),
			Payload:  payload,
			Retained: true,
		})
	}
	return messages
}

// States returns the retained state messages for the snapshot.
func (b *Bridge) States(snap *coordinator.Snapshot) []Message {
	if snap == nil {
		return nil
	}
	onOff := func(v bool) []byte {
		if v {
			return []byte(payloadOn)
		}
		return []byte(payloadOff)
	}

	state := entity.PanelState(snap.Partitions, b.device.Partitions, b.opts)
	messages := []Message{{
		Topic:    b.base + "/alarm/state",
		Payload:  []byte(state.String()),
		Retained: true,
	}}
	for i, z := range snap.Zones {
		messages = append(messages, Message{
			Topic:    fmt.Sprintf("%s/zone/%d/state", b.base, i),
			Payload:  onOff(entity.Intrusion(z)),
			Retained: true,
		}, Message{
			Topic:    fmt.Sprintf("%s/zone/%d/bypass", b.base, i),
			Payload:  onOff(entity.Bypassed(z)),
			Retained: true,
		})
	}
	for i, p := range snap.Partitions {
		messages = append(messages, Message{
			Topic:    fmt.Sprintf("%s/partition/%d/state", b.base, i),
			Payload:  []byte(entity.PartitionValue(p)),
			Retained: true,
		})
	}
	return messages
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := b.Handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			log.Error("command failed", "topic", msg.Topic(), "err", err)
		}
	}()
}

var errUnknownCommand = errors.New("unknown command")

// Handle runs the command received on the given topic and refreshes the
// panel status when it succeeds.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) error {
	if err := b.handle(ctx, topic, payload); err != nil {
		return err
	}
	b.refresh()
	return nil
}

func (b *Bridge) handle(ctx context.Context, topic string, payload []byte) error {
	cmd := strings.TrimSpace(string(payload))
	if topic == b.base+"/alarm/set" {
		var mode entity.Mode
		switch cmd {
		case "ARM_AWAY":
			mode = entity.ModeAway
		case "ARM_HOME":
			mode = entity.ModeHome
		case "ARM_NIGHT":
			mode = entity.ModeNight
		case "DISARM":
			mode = entity.ModeDisarm
		default:
			return fmt.Errorf("%w: %q", errUnknownCommand, cmd)
		}
		return b.panel.Arm(ctx, mode, b.pin)
	}

	rest, ok := strings.CutPrefix(topic, b.base+"/zone/")
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", errUnknownCommand, topic)
	}
	rest, ok = strings.CutSuffix(rest, "/bypass/set")
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", errUnknownCommand, topic)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 || idx >= len(b.device.Zones) {
		return fmt.Errorf("%w: invalid zone %q", errUnknownCommand, rest)
	}

	sw := entity.NewBypassSwitch(b.bypass, idx, b.pin)
	switch cmd {
	case payloadOn:
		return sw.TurnOn(ctx)
	case payloadOff:
		return sw.TurnOff(ctx)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd)
	}
}

func (b *Bridge) publish(messages ...Message) error {
	var errs []error
	for _, m := range messages {
		if err := wait(b.client.Publish(m.Topic, qos, m.Retained, m.Payload)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Topic, err))
		}
	}
	return errors.Join(errs...)
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(tokenTimeout) {
		return errors.New("timeout waiting for broker")
	}
	return token.Error()
}
