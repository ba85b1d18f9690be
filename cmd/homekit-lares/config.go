package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brutella/hap/characteristic"
	lares "github.com/caarlos0/homekit-lares"
	"github.com/caarlos0/homekit-lares/coordinator"
	"github.com/caarlos0/homekit-lares/entity"
	"golang.org/x/exp/slices"
)

type Config struct {
	Host            string        `env:"HOST,notEmpty"`
	Port            string        `env:"PORT"                  envDefault:"4202"`
	Username        string        `env:"USERNAME,notEmpty"`
	Password        string        `env:"PASSWORD,notEmpty"`
	Pin             string        `env:"PIN"`
	AwayPartitions  []string      `env:"PARTITIONS_AWAY"`
	HomePartitions  []string      `env:"PARTITIONS_HOME"`
	NightPartitions []string      `env:"PARTITIONS_NIGHT"`
	AwayScenario    string        `env:"SCENARIO_AWAY"`
	HomeScenario    string        `env:"SCENARIO_HOME"`
	NightScenario   string        `env:"SCENARIO_NIGHT"`
	DisarmScenario  string        `env:"SCENARIO_DISARM"`
	Scenarios       []string      `env:"SCENARIOS"`
	ContactZones    []string      `env:"CONTACT"`
	PollInterval    time.Duration `env:"POLL_INTERVAL"         envDefault:"10s"`
	Timeout         time.Duration `env:"TIMEOUT"               envDefault:"10s"`
	Retries         uint64        `env:"RETRIES"               envDefault:"2"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL"        envDefault:"500ms"`
	Address         string        `env:"LISTEN"                envDefault:":9009"`
	LogLevel        string        `env:"LOG_LEVEL"             envDefault:"info"`
	MQTT            MQTTConfig    `envPrefix:"MQTT_"`
}

type MQTTConfig struct {
	Broker          string `env:"BROKER"`
	Username        string `env:"USERNAME"`
	Password        string `env:"PASSWORD"`
	DiscoveryPrefix string `env:"DISCOVERY_PREFIX" envDefault:"homeassistant"`
	Topic           string `env:"TOPIC"            envDefault:"lares"`
}

func (c Config) options() entity.Options {
	return entity.Options{
		AwayPartitions:  c.AwayPartitions,
		HomePartitions:  c.HomePartitions,
		NightPartitions: c.NightPartitions,
		AwayScenario:    c.AwayScenario,
		HomeScenario:    c.HomeScenario,
		NightScenario:   c.NightScenario,
		DisarmScenario:  c.DisarmScenario,
	}
}

func (c Config) coordinatorOptions() coordinator.Options {
	return coordinator.Options{
		Interval:      c.PollInterval,
		Timeout:       c.Timeout,
		Retries:       c.Retries,
		RetryInterval: c.RetryInterval,
	}
}

type zoneKind uint8

const (
	kindMotion zoneKind = iota + 1
	kindContact
)

func (z zoneKind) String() string {
	switch z {
	case kindContact:
		return "contact"
	default:
		return "motion"
	}
}

func (c Config) zoneKind(description string) zoneKind {
	if slices.Contains(c.ContactZones, description) {
		return kindContact
	}
	return kindMotion
}

func (c Config) zoneName(idx int, description string) string {
	if description != "" {
		return description
	}
	return fmt.Sprintf("Zone %d", idx+1)
}

func (c Config) zonesSummary(descriptions []string) string {
	var zones []string
	for i, desc := range descriptions {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", i+1, c.zoneName(i, desc), c.zoneKind(desc)),
		)
	}
	return strings.Join(zones, "\n")
}

// getAlarmState maps the panel state into the HomeKit current state, -1
// meaning the state has no HomeKit representation.
func (c Config) getAlarmState(partitions []lares.Partition, descriptions []string) int {
	if slices.ContainsFunc(partitions, func(p lares.Partition) bool {
		return p.Status == lares.PartitionStatusAlarm
	}) {
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	}

	switch entity.PanelState(partitions, descriptions, c.options()) {
	case entity.StateDisarmed:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case entity.StateArmedAway:
		return characteristic.SecuritySystemCurrentStateAwayArm
	case entity.StateArmedHome:
		return characteristic.SecuritySystemCurrentStateStayArm
	case entity.StateArmedNight:
		return characteristic.SecuritySystemCurrentStateNightArm
	default:
		return -1
	}
}

func targetMode(v int) (entity.Mode, bool) {
	switch v {
	case characteristic.SecuritySystemTargetStateStayArm:
		return entity.ModeHome, true
	case characteristic.SecuritySystemTargetStateAwayArm:
		return entity.ModeAway, true
	case characteristic.SecuritySystemTargetStateNightArm:
		return entity.ModeNight, true
	case characteristic.SecuritySystemTargetStateDisarm:
		return entity.ModeDisarm, true
	default:
		return 0, false
	}
}

// targetState is the HomeKit target matching the current state, -1 when
// there is none.
func targetState(current int) int {
	switch current {
	case characteristic.SecuritySystemCurrentStateStayArm:
		return characteristic.SecuritySystemTargetStateStayArm
	case characteristic.SecuritySystemCurrentStateAwayArm:
		return characteristic.SecuritySystemTargetStateAwayArm
	case characteristic.SecuritySystemCurrentStateNightArm:
		return characteristic.SecuritySystemTargetStateNightArm
	case characteristic.SecuritySystemCurrentStateDisarmed:
		return characteristic.SecuritySystemTargetStateDisarm
	default:
		return -1
	}
}
