package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	lares "github.com/caarlos0/homekit-lares"
	"github.com/caarlos0/homekit-lares/coordinator"
	"github.com/caarlos0/homekit-lares/entity"
	"github.com/caarlos0/homekit-lares/hass"
	logp "github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "Ksenia"

func main() {
	log.Info(
		"homekit-lares",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Ksenia Lares alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}
	if level, err := logp.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
		lares.SetLogLevel(level)
		coordinator.SetLogLevel(level)
		entity.SetLogLevel(level)
		hass.SetLogLevel(level)
	} else {
		log.Warn("invalid log level", "level", cfg.LogLevel, "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := lares.New(
		cfg.Host, cfg.Port, cfg.Username, cfg.Password,
		lares.WithTimeout(cfg.Timeout),
		lares.WithHTTPClient(&http.Client{
			Transport: instrumentedTransport(http.DefaultTransport),
		}),
	)

	info, err := cli.Info(ctx)
	if err != nil {
		log.Fatal("could not get alarm system information", "err", err)
	}
	model, err := cli.Model(ctx)
	if err != nil {
		log.Warn("could not resolve the panel model", "err", err)
	}
	log.Info(
		"got alarm system information",
		"manufacturer", manufacturer,
		"name", info.Name,
		"model", model,
		"firmware", info.Firmware(),
		"id", info.ID,
		"mac", info.MAC,
	)

	zoneDescriptions, err := cli.ZoneDescriptions(ctx)
	if err != nil {
		log.Fatal("could not get zone descriptions", "err", err)
	}
	partitionDescriptions, err := cli.PartitionDescriptions(ctx)
	if err != nil {
		log.Fatal("could not get partition descriptions", "err", err)
	}

	log.Info(
		"loading accessories",
		"partitions",
		strings.Join([]string{
			fmt.Sprintf("home: %v", cfg.HomePartitions),
			fmt.Sprintf("away: %v", cfg.AwayPartitions),
			fmt.Sprintf("night: %v", cfg.NightPartitions),
		}, "\n"),
		"zones", cfg.zonesSummary(zoneDescriptions),
	)

	coord := coordinator.New(cli, cfg.coordinatorOptions())
	if err := coord.Refresh(ctx); err != nil {
		log.Fatal("could not init accessories", "err", err)
	}
	snap := coord.Snapshot()
	refresh := func() {
		if err := coord.Refresh(ctx); err != nil {
			log.Error("could not refresh after command", "err", err)
		}
	}

	opts := cfg.options()
	panel := entity.NewPanel(cli, opts)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	alarm := NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: info.ID,
		Manufacturer: manufacturer,
		Model:        info.Name,
		Firmware:     info.Firmware(),
	}, cfg, partitionDescriptions, panel, refresh)
	alarm.Id = 2
	alarm.Update(snap)

	sensors := setupZones(cli, cfg, zoneDescriptions, snap.Zones, refresh)
	scenarios := setupScenarios(cfg, panel, refresh)

	update := func(snap *coordinator.Snapshot) {
		pollCounter.Inc()
		lastSuccessGauge.Set(float64(snap.UpdatedAt.Unix()))
		alarm.Update(snap)
		updateZones(sensors, snap.Zones)
		updatePartitions(partitionDescriptions, snap.Partitions)
	}
	update(snap)
	coord.Subscribe(update)
	coord.OnFailure(func(err error) {
		pollErrorCounter.Inc()
		alarm.Unavailable(err)
	})

	if cfg.MQTT.Broker != "" {
		mqtt := setupMQTT(ctx, cfg, hass.Device{
			Info:       info,
			Zones:      zoneDescriptions,
			Partitions: partitionDescriptions,
		}, opts, panel, cli, coord)
		defer mqtt.Disconnect(250)
	}

	fs := hap.NewFsStore("./db")

	server, err := hap.NewServer(
		fs, bridge.A,
		securityAccessories(sensors, scenarios, alarm)...,
	)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/", statusPage(info, zoneDescriptions, partitionDescriptions, coord, cfg))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	go coord.Run(ctx)

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

func setupMQTT(
	ctx context.Context,
	cfg Config,
	device hass.Device,
	opts entity.Options,
	panel *entity.Panel,
	bypasser entity.Bypasser,
	coord *coordinator.Coordinator,
) paho.Client {
	hcfg := hass.Config{
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		Topic:           cfg.MQTT.Topic,
	}

	var ha *hass.Bridge
	client := paho.NewClient(mqttOptions(cfg, hcfg, device.Info, func() {
		if err := ha.Start(coord.Snapshot()); err != nil {
			log.Error("could not start home assistant bridge", "err", err)
		}
	}))
	ha = hass.New(client, hcfg, device, opts, panel, bypasser, cfg.Pin, func() {
		if err := coord.Refresh(ctx); err != nil {
			log.Error("could not refresh after command", "err", err)
		}
	})
	coord.Subscribe(ha.Update)
	coord.OnFailure(ha.Unavailable)

	token := client.Connect()
	switch {
	case !token.WaitTimeout(cfg.Timeout):
		log.Warn("mqtt broker not reachable yet, retrying in background", "broker", cfg.MQTT.Broker)
	case token.Error() != nil:
		log.Error("could not connect to mqtt broker", "broker", cfg.MQTT.Broker, "err", token.Error())
	}
	return client
}

const mqttConnectRetryInterval = 10 * time.Second

// mqttOptions retries the first connection as well as lost ones, and
// announces the bridge on every (re)connection.
func mqttOptions(cfg Config, hcfg hass.Config, info lares.Info, onConnect func()) *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID("homekit-lares-"+hass.NodeID(info)).
		SetUsername(cfg.MQTT.Username).
		SetPassword(cfg.MQTT.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(mqttConnectRetryInterval).
		SetWill(hass.AvailabilityTopic(hcfg, info), "offline", 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Info("connected to mqtt broker", "broker", cfg.MQTT.Broker)
			go onConnect()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("lost connection to mqtt broker", "err", err)
		})
}

func updatePartitions(descriptions []string, partitions []lares.Partition) {
	for i, p := range partitions {
		name := fmt.Sprintf("Partition %d", i+1)
		if i < len(descriptions) && descriptions[i] != "" {
			name = descriptions[i]
		}
		for _, status := range entity.PartitionOptions {
			partitionGauge.WithLabelValues(name, string(status)).Set(boolToFloat(p.Status == status))
		}
	}
}

func securityAccessories(
	sensors []*ZoneSensor,
	scenarios []*accessory.Switch,
	alarm *SecuritySystem,
) []*accessory.A {
	result := []*accessory.A{
		alarm.A,
	}
	for _, c := range sensors {
		result = append(result, c.A)
	}
	for _, c := range scenarios {
		result = append(result, c.A)
	}
	return result
}

type PageItem struct {
	Number   int
	Name     string
	Status   string
	Alarm    bool
	Bypassed bool
	Used     bool
}

func statusPage(
	info lares.Info,
	zones, partitions []string,
	coord *coordinator.Coordinator,
	cfg Config,
) http.Handler {
	tpl := template.Must(template.New("index").Parse(string(index)))
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		snap := coord.Snapshot()
		health := coord.Health()

		var hZones []PageItem
		for i, z := range snap.Zones {
			name := ""
			if i < len(zones) {
				name = zones[i]
			}
			hZones = append(hZones, PageItem{
				Number:   i + 1,
				Name:     cfg.zoneName(i, name),
				Status:   string(z.Status),
				Alarm:    entity.Intrusion(z),
				Bypassed: entity.Bypassed(z),
				Used:     entity.Used(z),
			})
		}

		var hPartitions []PageItem
		for i, p := range snap.Partitions {
			name := ""
			if i < len(partitions) {
				name = partitions[i]
			}
			hPartitions = append(hPartitions, PageItem{
				Number: i + 1,
				Name:   name,
				Status: string(entity.PartitionValue(p)),
				Used:   entity.PartitionVisible(name),
			})
		}

		lastError := ""
		if health.LastError != nil {
			lastError = health.LastError.Error()
		}

		_ = tpl.Execute(w, struct {
			Name       string
			Firmware   string
			State      string
			UpdatedAt  time.Time
			LastError  string
			Failures   int
			Zones      []PageItem
			Partitions []PageItem
		}{
			Name:       info.Name,
			Firmware:   info.Firmware(),
			State:      entity.PanelState(snap.Partitions, partitions, cfg.options()).String(),
			UpdatedAt:  snap.UpdatedAt,
			LastError:  lastError,
			Failures:   health.Failures,
			Zones:      hZones,
			Partitions: hPartitions,
		})
	})
}
