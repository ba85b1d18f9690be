package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-lares/coordinator"
	"github.com/caarlos0/homekit-lares/entity"
)

const (
	faultNone = iota
	faultGeneral
)

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	Fault          *characteristic.StatusFault

	cfg          Config
	descriptions []string
	panel        *entity.Panel
	refresh      func()
}

func NewSecuritySystem(
	info accessory.Info,
	cfg Config,
	descriptions []string,
	panel *entity.Panel,
	refresh func(),
) *SecuritySystem {
	a := &SecuritySystem{
		cfg:          cfg,
		descriptions: descriptions,
		panel:        panel,
		refresh:      refresh,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(snap *coordinator.Snapshot) {
	if v := faultNone; a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "fault", false)
	}

	v := a.cfg.getAlarmState(snap.Partitions, a.descriptions)
	armStateGauge.Set(float64(v))
	if v < 0 {
		log.Debug("alarm state has no homekit equivalent",
			"state", entity.PanelState(snap.Partitions, a.descriptions, a.cfg.options()))
		return
	}
	if a.SecuritySystem.SecuritySystemCurrentState.Value() != v {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(v)
		log.Info("set current state", "state", v, "err", err)
	}
	if t := targetState(v); t >= 0 && a.SecuritySystem.SecuritySystemTargetState.Value() != t {
		err := a.SecuritySystem.SecuritySystemTargetState.SetValue(t)
		log.Info("set target state", "state", t, "err", err)
	}
}

// Unavailable flags the accessory while the panel cannot be polled.
func (a *SecuritySystem) Unavailable(err error) {
	if v := faultGeneral; a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Warn("alarm status", "fault", true, "err", err)
	}
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	mode, ok := targetMode(v.(int))
	if !ok {
		return nil, hap.JsonStatusResourceDoesNotExist
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	log.Info("set target state", "mode", mode)
	if err := a.panel.Arm(ctx, mode, a.cfg.Pin); err != nil {
		log.Error("could not set target state", "mode", mode, "err", err)
		if errors.Is(err, entity.ErrNotConfigured) {
			return nil, hap.JsonStatusResourceDoesNotExist
		}
		return nil, hap.JsonStatusResourceBusy
	}
	go a.refresh()
	return nil, hap.JsonStatusSuccess
}
