// Package entity maps the panel status to the states shown to users and
// turns user actions into panel commands.
package entity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	lares "github.com/caarlos0/homekit-lares"
	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "entity",
})

// SetLogLevel sets the level of the package logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

var (
	ErrNotConfigured     = errors.New("no scenario configured")
	ErrNoPin             = errors.New("no pin configured")
	ErrScenarioNotFound  = errors.New("scenario not found")
	ErrAmbiguousScenario = errors.New("scenario name is not unique")
	ErrScenarioDisabled  = errors.New("scenario is disabled")
)

// Options maps the arm modes to partition and scenario descriptions.
type Options struct {
	AwayPartitions  []string
	HomePartitions  []string
	NightPartitions []string

	AwayScenario   string
	HomeScenario   string
	NightScenario  string
	DisarmScenario string
}

type State uint8

const (
	StateDisarmed State = iota
	StateArming
	StateArmedAway
	StateArmedHome
	StateArmedNight
	StateArmedCustomBypass
)

func (s State) String() string {
	switch s {
	case StateArming:
		return "arming"
	case StateArmedAway:
		return "armed_away"
	case StateArmedHome:
		return "armed_home"
	case StateArmedNight:
		return "armed_night"
	case StateArmedCustomBypass:
		return "armed_custom_bypass"
	default:
		return "disarmed"
	}
}

// PanelState derives the alarm state from the partitions status.
// descriptions must be index aligned with partitions.
func PanelState(partitions []lares.Partition, descriptions []string, opts Options) State {
	if anyPartition(partitions, func(s lares.PartitionStatus) bool {
		return s == lares.PartitionStatusArming
	}) {
		return StateArming
	}

	if groupArmed(partitions, descriptions, opts.AwayPartitions) {
		return StateArmedAway
	}
	if groupArmed(partitions, descriptions, opts.HomePartitions) {
		return StateArmedHome
	}
	if groupArmed(partitions, descriptions, opts.NightPartitions) {
		return StateArmedNight
	}

	// an armed partition that is not part of a fully armed group
	if anyPartition(partitions, lares.PartitionStatus.Armed) {
		return StateArmedCustomBypass
	}

	return StateDisarmed
}

func anyPartition(partitions []lares.Partition, fn func(lares.PartitionStatus) bool) bool {
	return slices.ContainsFunc(partitions, func(p lares.Partition) bool {
		return fn(p.Status)
	})
}

// groupArmed is true when the group resolves to at least one partition and
// all of them are armed.
func groupArmed(partitions []lares.Partition, descriptions []string, group []string) bool {
	if len(group) == 0 {
		return false
	}

	var matched int
	for idx, name := range descriptions {
		if !slices.Contains(group, name) {
			continue
		}
		matched++
		if idx >= len(partitions) || !partitions[idx].Status.Armed() {
			return false
		}
	}
	if matched == 0 {
		log.Debug("arm group matches no partition", "group", group)
	}
	return matched > 0
}

type Mode uint8

const (
	ModeAway Mode = iota + 1
	ModeHome
	ModeNight
	ModeDisarm
)

func (m Mode) String() string {
	switch m {
	case ModeAway:
		return "away"
	case ModeHome:
		return "home"
	case ModeNight:
		return "night"
	case ModeDisarm:
		return "disarm"
	default:
		return "unknown"
	}
}

func (o Options) scenario(m Mode) string {
	switch m {
	case ModeAway:
		return o.AwayScenario
	case ModeHome:
		return o.HomeScenario
	case ModeNight:
		return o.NightScenario
	case ModeDisarm:
		return o.DisarmScenario
	default:
		return ""
	}
}

// ResolveScenario returns the index of the only scenario with the given name.
func ResolveScenario(descriptions []string, name string) (int, error) {
	idx := -1
	var matches int
	for i, d := range descriptions {
		if d == name {
			idx = i
			matches++
		}
	}
	switch matches {
	case 0:
		return -1, fmt.Errorf("%w: %q", ErrScenarioNotFound, name)
	case 1:
		return idx, nil
	default:
		return -1, fmt.Errorf("%w: %q matches %d scenarios", ErrAmbiguousScenario, name, matches)
	}
}

// Scenarios is what the panel adapter needs from the client.
type Scenarios interface {
	ScenarioDescriptions(ctx context.Context) ([]string, error)
	ScenarioOptions(ctx context.Context) ([]lares.ScenarioOption, error)
	ActivateScenario(ctx context.Context, scenario int, pin string) error
}

// Panel arms and disarms the alarm through the configured scenarios.
type Panel struct {
	scenarios Scenarios
	opts      Options
}

func NewPanel(scenarios Scenarios, opts Options) *Panel {
	return &Panel{
		scenarios: scenarios,
		opts:      opts,
	}
}

// Supported returns the arm modes that have a scenario configured.
func (p *Panel) Supported() []Mode {
	var modes []Mode
	for _, m := range []Mode{ModeAway, ModeHome, ModeNight} {
		if p.opts.scenario(m) != "" {
			modes = append(modes, m)
		}
	}
	return modes
}

// Arm activates the scenario configured for the given mode.
func (p *Panel) Arm(ctx context.Context, mode Mode, pin string) error {
	name := p.opts.scenario(mode)
	if name == "" {
		log.Warn("skipping command, no scenario configured", "mode", mode)
		return fmt.Errorf("%w: %s", ErrNotConfigured, mode)
	}
	return p.Activate(ctx, name, pin)
}

// Activate resolves the scenario name to its current index and runs it.
func (p *Panel) Activate(ctx context.Context, name, pin string) error {
	descriptions, err := p.scenarios.ScenarioDescriptions(ctx)
	if err != nil {
		return fmt.Errorf("could not get scenarios: %w", err)
	}
	idx, err := ResolveScenario(descriptions, strings.TrimSpace(name))
	if err != nil {
		log.Error("skipping command", "scenario", name, "err", err)
		return err
	}

	if pin == "" {
		if err := p.checkNoPin(ctx, idx); err != nil {
			log.Error("skipping command", "scenario", name, "err", err)
			return err
		}
	}

	log.Info("activating scenario", "scenario", name, "index", idx)
	return p.scenarios.ActivateScenario(ctx, idx, pin)
}

func (p *Panel) checkNoPin(ctx context.Context, idx int) error {
	options, err := p.scenarios.ScenarioOptions(ctx)
	if err != nil {
		return fmt.Errorf("could not get scenario options: %w", err)
	}
	if idx >= len(options) {
		return ErrNoPin
	}
	if !options[idx].Enabled {
		return ErrScenarioDisabled
	}
	if !options[idx].NoPin {
		return ErrNoPin
	}
	return nil
}

// PanelID is the stable id of the alarm panel entity.
func PanelID(info lares.Info) string {
	return "lares_panel_" + strings.ReplaceAll(info.Name, " ", "_")
}
