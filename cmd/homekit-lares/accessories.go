package main

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	lares "github.com/caarlos0/homekit-lares"
	"github.com/caarlos0/homekit-lares/entity"
)

type ZoneSensor struct {
	*accessory.A
	Index   int
	Kind    zoneKind
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Bypass  *service.Switch
	Active  *characteristic.StatusActive
}

func (sensor *ZoneSensor) Update(zone lares.Zone) {
	name := sensor.Name()
	zoneAlarmGauge.WithLabelValues(name).Set(boolToFloat(entity.Intrusion(zone)))
	zoneBypassGauge.WithLabelValues(name).Set(boolToFloat(entity.Bypassed(zone)))

	if used := entity.Used(zone); sensor.Active.Value() != used {
		log.Info("active", "zone", name, "status", used)
		sensor.Active.SetValue(used)
	}

	if bypassed := entity.Bypassed(zone); sensor.Bypass.On.Value() != bypassed {
		log.Info("bypass", "zone", name, "status", bypassed)
		sensor.Bypass.On.SetValue(bypassed)
	}

	current := entity.Intrusion(zone)
	switch sensor.Kind {
	case kindContact:
		v := boolToInt(current)
		if sensor.Contact.ContactSensorState.Value() == v {
			return
		}
		_ = sensor.Contact.ContactSensorState.SetValue(v)
	case kindMotion:
		if sensor.Motion.MotionDetected.Value() == current {
			return
		}
		sensor.Motion.MotionDetected.SetValue(current)
	}
	log.Info(
		sensor.Kind.String(),
		"zone", name,
		"status", zone.Status,
		"alarm", current,
	)
}

func newZoneSensor(info accessory.Info, index int, kind zoneKind) *ZoneSensor {
	a := ZoneSensor{
		Index: index,
		Kind:  kind,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.Active = characteristic.NewStatusActive()
	a.Active.SetValue(true)

	switch kind {
	case kindContact:
		a.Contact = service.NewContactSensor()
		a.Contact.AddC(a.Active.C)
		a.AddS(a.Contact.S)
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.Motion.AddC(a.Active.C)
		a.AddS(a.Motion.S)
	}

	a.Bypass = service.NewSwitch()
	a.AddS(a.Bypass.S)

	return &a
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
