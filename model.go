package lares

import (
	"fmt"
	"strings"
)

// Info is the identity of the panel.
type Info struct {
	Name     string
	Info     string
	Version  string
	Revision string
	Build    string
	MAC      string
	// ID is the MAC address when it could be resolved, host:port otherwise.
	ID string
}

func (i Info) Firmware() string {
	return fmt.Sprintf("%s.%s.%s", i.Version, i.Revision, i.Build)
}

// Model is the panel size, it selects which XML variant is requested for
// zones and partitions.
type Model string

const (
	Model16IP  Model = "16IP"
	Model48IP  Model = "48IP"
	Model128IP Model = "128IP"
)

func modelFromName(name string) Model {
	switch {
	case strings.HasSuffix(name, string(Model128IP)):
		return Model128IP
	case strings.HasSuffix(name, string(Model48IP)):
		return Model48IP
	default:
		return Model16IP
	}
}

type ZoneStatus string

const (
	ZoneStatusNormal  ZoneStatus = "NORMAL"
	ZoneStatusAlarm   ZoneStatus = "ALARM"
	ZoneStatusTamper  ZoneStatus = "TAMPER"
	ZoneStatusMask    ZoneStatus = "MASK"
	ZoneStatusNotUsed ZoneStatus = "NOT_USED"
)

type Bypass string

const (
	BypassOn  Bypass = "BYP"
	BypassOff Bypass = "UN_BYP"
)

func (b Bypass) On() bool {
	return b == BypassOn
}

// Zone is the status of a single zone. Its position in the slice returned
// by the client is the zone index.
type Zone struct {
	Status ZoneStatus
	Bypass Bypass
}

type PartitionStatus string

const (
	PartitionStatusDisarmed       PartitionStatus = "DISARMED"
	PartitionStatusArmed          PartitionStatus = "ARMED"
	PartitionStatusArmedImmediate PartitionStatus = "ARMED_IMMEDIATE"
	PartitionStatusArming         PartitionStatus = "ARMING"
	PartitionStatusPending        PartitionStatus = "PENDING"
	PartitionStatusAlarm          PartitionStatus = "ALARM"
)

// PartitionStatuses returns every status a partition can report.
func PartitionStatuses() []PartitionStatus {
	return []PartitionStatus{
		PartitionStatusDisarmed,
		PartitionStatusArmed,
		PartitionStatusArmedImmediate,
		PartitionStatusArming,
		PartitionStatusPending,
		PartitionStatusAlarm,
	}
}

// Armed reports whether the partition is armed, immediate or not.
func (s PartitionStatus) Armed() bool {
	return s == PartitionStatusArmed || s == PartitionStatusArmedImmediate
}

type Partition struct {
	Status PartitionStatus
}

type ScenarioOption struct {
	Enabled bool
	NoPin   bool
}
