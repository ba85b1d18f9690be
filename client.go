package lares

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/sync/cio"
	logp "github.com/charmbracelet/log"
	"github.com/j-keck/arping"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "lares",
})

// SetLogLevel sets the level of the package logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

// DefaultPort is the port the panel serves its XML API on.
const DefaultPort = "4202"

const defaultTimeout = 10 * time.Second

var (
	// ErrUnavailable is returned, possibly wrapped, by every read that
	// could not get a usable answer from the panel.
	ErrUnavailable     = errors.New("panel unavailable")
	ErrUnauthorized    = fmt.Errorf("%w: unauthorized", ErrUnavailable)
	ErrMalformed       = fmt.Errorf("%w: malformed response", ErrUnavailable)
	ErrCommandRejected = errors.New("command rejected by panel")
)

type Client struct {
	host     string
	port     string
	username string
	password string
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	mac      func(host string) (string, error)

	info                  cached[Info]
	model                 cached[Model]
	zoneDescriptions      cached[[]string]
	partitionDescriptions cached[[]string]
	scenarioDescriptions  cached[[]string]
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client used to talk to the panel.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		c.http = cli
	}
}

// WithTimeout bounds every request to the panel, body included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMacResolver replaces the ARP based MAC lookup.
func WithMacResolver(fn func(host string) (string, error)) Option {
	return func(c *Client) {
		c.mac = fn
	}
}

func New(host, port, username, password string, opts ...Option) *Client {
	if port == "" {
		port = DefaultPort
	}
	cli := &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		baseURL:  "http://" + net.JoinHostPort(host, port),
		timeout:  defaultTimeout,
		http:     http.DefaultClient,
		mac:      MacAddress,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// MacAddress resolves the hardware address of the given host via ARP.
func MacAddress(host string) (string, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return "", fmt.Errorf("could not resolve %s: %w", host, err)
		}
		ip = ips[0]
	}
	hw, _, err := arping.Ping(ip)
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}

// Info returns the panel identity. It is fetched once.
func (c *Client) Info(ctx context.Context) (Info, error) {
	return c.info.get(ctx, func(ctx context.Context) (Info, error) {
		b, err := c.get(ctx, pathInfo)
		if err != nil {
			return Info{}, err
		}
		info, err := parseInfo(b)
		if err != nil {
			return Info{}, err
		}

		info.ID = fmt.Sprintf("%s:%s", c.host, c.port)
		mac, err := c.mac(c.host)
		if err != nil {
			log.Warn(
				"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
				"err", err,
			)
			return info, nil
		}
		info.MAC = mac
		info.ID = mac
		return info, nil
	})
}

// Model returns the panel size derived from its product name.
func (c *Client) Model(ctx context.Context) (Model, error) {
	return c.model.get(ctx, func(ctx context.Context) (Model, error) {
		info, err := c.Info(ctx)
		if err != nil {
			return "", err
		}
		model := modelFromName(info.Name)
		log.Debug("resolved model", "name", info.Name, "model", model)
		return model, nil
	})
}

func (c *Client) Zones(ctx context.Context) ([]Zone, error) {
	model, err := c.Model(ctx)
	if err != nil {
		return nil, err
	}
	b, err := c.get(ctx, zoneStatusPath(model))
	if err != nil {
		return nil, err
	}
	return parseZones(b)
}

func (c *Client) Partitions(ctx context.Context) ([]Partition, error) {
	model, err := c.Model(ctx)
	if err != nil {
		return nil, err
	}
	b, err := c.get(ctx, partitionStatusPath(model))
	if err != nil {
		return nil, err
	}
	return parsePartitions(b)
}

func (c *Client) ScenarioOptions(ctx context.Context) ([]ScenarioOption, error) {
	b, err := c.get(ctx, pathScenarioOptions)
	if err != nil {
		return nil, err
	}
	return parseScenarioOptions(b)
}

func (c *Client) ZoneDescriptions(ctx context.Context) ([]string, error) {
	return c.zoneDescriptions.get(ctx, func(ctx context.Context) ([]string, error) {
		model, err := c.Model(ctx)
		if err != nil {
			return nil, err
		}
		return c.descriptions(ctx, zoneDescriptionsPath(model), &zonesDescriptionDoc{})
	})
}

func (c *Client) PartitionDescriptions(ctx context.Context) ([]string, error) {
	return c.partitionDescriptions.get(ctx, func(ctx context.Context) ([]string, error) {
		model, err := c.Model(ctx)
		if err != nil {
			return nil, err
		}
		return c.descriptions(ctx, partitionDescriptionsPath(model), &partitionsDescriptionDoc{})
	})
}

func (c *Client) ScenarioDescriptions(ctx context.Context) ([]string, error) {
	return c.scenarioDescriptions.get(ctx, func(ctx context.Context) ([]string, error) {
		return c.descriptions(ctx, pathScenarioDescriptions, &scenariosDescriptionDoc{})
	})
}

// ActivateScenario runs the scenario at the given index.
func (c *Client) ActivateScenario(ctx context.Context, scenario int, pin string) error {
	if scenario < 0 {
		return fmt.Errorf("invalid scenario: %d", scenario)
	}
	log.Debug("activate scenario", "scenario", scenario)
	if err := c.command(ctx, macroCommand(scenario, pin)); err != nil {
		return fmt.Errorf("could not activate scenario %d: %w", scenario, err)
	}
	return nil
}

// SetZoneBypass adds or removes the bypass of the zone at the given index.
func (c *Client) SetZoneBypass(ctx context.Context, zone int, pin string, bypass bool) error {
	if zone < 0 {
		return fmt.Errorf("invalid zone: %d", zone)
	}
	log.Debug("set zone bypass", "zone", zone, "bypass", bypass)
	if err := c.command(ctx, bypassCommand(zone, pin, bypass)); err != nil {
		return fmt.Errorf("could not set bypass=%v on zone %d: %w", bypass, zone, err)
	}
	return nil
}

func (c *Client) descriptions(ctx context.Context, path string, doc any) ([]string, error) {
	b, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return parseDescriptions(b, doc)
}

func (c *Client) command(ctx context.Context, path string) error {
	b, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	return parseCommandReply(b)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// commands carry the pin in the query
	resource, _, _ := strings.Cut(path, "?")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/xml/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("request failed", "path", resource, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resource, resp.Status)
	}

	b, err := io.ReadAll(cio.TimeoutReader(resp.Body, c.timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, resource, err)
	}
	log.Debug("request", "path", resource, "bytes", len(b))
	return b, nil
}
