package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	lares "github.com/caarlos0/homekit-lares"
	"github.com/caarlos0/homekit-lares/entity"
)

func setupZones(
	bypasser entity.Bypasser,
	cfg Config,
	descriptions []string,
	zones []lares.Zone,
	refresh func(),
) []*ZoneSensor {
	var sensors []*ZoneSensor
	for i, desc := range descriptions {
		if i >= len(zones) {
			log.Warn("zone has a description but no status", "zone", i+1, "description", desc)
			break
		}

		name := cfg.zoneName(i, desc)
		sw := entity.NewBypassSwitch(bypasser, i, cfg.Pin)
		a := newZoneSensor(accessory.Info{
			Name:         name,
			Manufacturer: manufacturer,
		}, i, cfg.zoneKind(desc))
		a.Update(zones[i])
		a.Bypass.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
			v := value.(bool)
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()

			var err error
			if v {
				err = sw.TurnOn(ctx)
			} else {
				err = sw.TurnOff(ctx)
			}
			if err != nil {
				log.Error("failed to set bypass", "zone", name, "value", v, "err", err)
				return nil, hap.JsonStatusResourceBusy
			}
			go refresh()
			return nil, hap.JsonStatusSuccess
		}
		sensors = append(sensors, a)
	}
	return sensors
}

func updateZones(sensors []*ZoneSensor, zones []lares.Zone) {
	for _, sensor := range sensors {
		if sensor.Index < len(zones) {
			sensor.Update(zones[sensor.Index])
		}
	}
}
