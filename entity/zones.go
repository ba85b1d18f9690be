package entity

import (
	"context"
	"fmt"

	lares "github.com/caarlos0/homekit-lares"
)

// Intrusion is the state of the zone binary sensor.
func Intrusion(z lares.Zone) bool {
	return z.Status == lares.ZoneStatusAlarm
}

// Used is false for zone slots that are not provisioned in the panel.
// Their entities are still created, but hidden and disabled by default.
func Used(z lares.Zone) bool {
	return z.Status != lares.ZoneStatusNotUsed
}

func Bypassed(z lares.Zone) bool {
	return z.Bypass.On()
}

func ZoneID(idx int) string {
	return fmt.Sprintf("lares_zones_%d", idx)
}

func BypassID(idx int) string {
	return fmt.Sprintf("lares_bypass_%d", idx)
}

type Bypasser interface {
	SetZoneBypass(ctx context.Context, zone int, pin string, bypass bool) error
}

// BypassSwitch adds and removes the bypass of a single zone.
type BypassSwitch struct {
	client Bypasser
	index  int
	pin    string
}

func NewBypassSwitch(client Bypasser, index int, pin string) *BypassSwitch {
	return &BypassSwitch{
		client: client,
		index:  index,
		pin:    pin,
	}
}

func (s *BypassSwitch) Index() int {
	return s.index
}

// IsOn reports whether the zone is bypassed in the given zone statuses.
func (s *BypassSwitch) IsOn(zones []lares.Zone) bool {
	if s.index >= len(zones) {
		return false
	}
	return Bypassed(zones[s.index])
}

func (s *BypassSwitch) TurnOn(ctx context.Context) error {
	return s.set(ctx, true)
}

func (s *BypassSwitch) TurnOff(ctx context.Context) error {
	return s.set(ctx, false)
}

func (s *BypassSwitch) set(ctx context.Context, bypass bool) error {
	if s.pin == "" {
		log.Warn("skipping bypass, no pin configured", "zone", s.index)
		return ErrNoPin
	}
	log.Info("set zone bypass", "zone", s.index, "bypass", bypass)
	return s.client.SetZoneBypass(ctx, s.index, s.pin, bypass)
}
