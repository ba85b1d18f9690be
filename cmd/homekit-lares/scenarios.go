package main

import (
	"context"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/homekit-lares/entity"
)

// setupScenarios creates a momentary switch for each configured scenario.
func setupScenarios(cfg Config, panel *entity.Panel, refresh func()) []*accessory.Switch {
	var switches []*accessory.Switch
	for _, name := range cfg.Scenarios {
		a := accessory.NewSwitch(accessory.Info{
			Name:         name,
			Manufacturer: manufacturer,
		})
		a.Switch.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
			if !value.(bool) {
				return nil, hap.JsonStatusSuccess
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			log.Info("activating scenario", "scenario", name)
			if err := panel.Activate(ctx, name, cfg.Pin); err != nil {
				log.Error("failed to activate scenario", "scenario", name, "err", err)
				return nil, hap.JsonStatusResourceBusy
			}

			time.AfterFunc(time.Second, func() {
				a.Switch.On.SetValue(false)
			})
			go refresh()
			return nil, hap.JsonStatusSuccess
		}
		switches = append(switches, a)
	}
	return switches
}
