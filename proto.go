package lares

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

const (
	pathInfo                 = "info/generalInfo.xml"
	pathScenarioOptions      = "scenarios/scenariosOptions.xml"
	pathScenarioDescriptions = "scenarios/scenariosDescription.xml"
	pathCommand              = "cmd/cmdOk.xml"
	pathCommandError         = "/xml/cmd/cmdError.xml"

	cmdSetMacro  = "setMacro"
	cmdSetBypass = "setByPassZone"

	cmdSent = "cmdSent"
)

func zoneDescriptionsPath(m Model) string {
	return "zones/zonesDescription" + string(m) + ".xml"
}

func zoneStatusPath(m Model) string {
	return "zones/zonesStatus" + string(m) + ".xml"
}

func partitionDescriptionsPath(m Model) string {
	return "partitions/partitionsDescription" + string(m) + ".xml"
}

func partitionStatusPath(m Model) string {
	return "partitions/partitionsStatus" + string(m) + ".xml"
}

type generalInfoDoc struct {
	XMLName      xml.Name `xml:"generalInfo"`
	ProductName  *string  `xml:"productName"`
	Info1        string   `xml:"info1"`
	HighRevision string   `xml:"productHighRevision"`
	LowRevision  string   `xml:"productLowRevision"`
	Build        string   `xml:"productBuildRevision"`
}

type zonesStatusDoc struct {
	XMLName xml.Name `xml:"zonesStatus"`
	Zones   []struct {
		Status *string `xml:"status"`
		Bypass *string `xml:"bypass"`
	} `xml:"zone"`
}

type partitionsStatusDoc struct {
	XMLName    xml.Name `xml:"partitionsStatus"`
	Partitions []string `xml:"partition"`
}

type scenariosOptionsDoc struct {
	XMLName   xml.Name `xml:"scenariosOptions"`
	Scenarios []struct {
		Abil  *string `xml:"abil"`
		NoPin *string `xml:"nopin"`
	} `xml:"scenario"`
}

type zonesDescriptionDoc struct {
	XMLName xml.Name `xml:"zonesDescription"`
	Zones   []string `xml:"zone"`
}

type partitionsDescriptionDoc struct {
	XMLName    xml.Name `xml:"partitionsDescription"`
	Partitions []string `xml:"partition"`
}

type scenariosDescriptionDoc struct {
	XMLName   xml.Name `xml:"scenariosDescription"`
	Scenarios []string `xml:"scenario"`
}

type cmdDoc struct {
	XMLName xml.Name `xml:"cmd"`
	Result  string   `xml:",chardata"`
}

// unmarshal honors the encoding declared in the XML prolog.
func unmarshal(b []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}

func decode(b []byte, v any) error {
	if err := unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

func parseInfo(b []byte) (Info, error) {
	var doc generalInfoDoc
	if err := decode(b, &doc); err != nil {
		return Info{}, err
	}
	if doc.ProductName == nil {
		return Info{}, fmt.Errorf("%w: missing productName", ErrMalformed)
	}
	return Info{
		Name:     strings.TrimSpace(*doc.ProductName),
		Info:     strings.TrimSpace(doc.Info1),
		Version:  strings.TrimSpace(doc.HighRevision),
		Revision: strings.TrimSpace(doc.LowRevision),
		Build:    strings.TrimSpace(doc.Build),
	}, nil
}

func parseZones(b []byte) ([]Zone, error) {
	var doc zonesStatusDoc
	if err := decode(b, &doc); err != nil {
		return nil, err
	}
	zones := make([]Zone, len(doc.Zones))
	for i, z := range doc.Zones {
		if z.Status == nil || z.Bypass == nil {
			return nil, fmt.Errorf("%w: zone %d: missing status or bypass", ErrMalformed, i)
		}
		zones[i] = Zone{
			Status: ZoneStatus(strings.TrimSpace(*z.Status)),
			Bypass: Bypass(strings.TrimSpace(*z.Bypass)),
		}
	}
	return zones, nil
}

func parsePartitions(b []byte) ([]Partition, error) {
	var doc partitionsStatusDoc
	if err := decode(b, &doc); err != nil {
		return nil, err
	}
	partitions := make([]Partition, len(doc.Partitions))
	for i, p := range doc.Partitions {
		partitions[i] = Partition{Status: PartitionStatus(strings.TrimSpace(p))}
	}
	return partitions, nil
}

func parseScenarioOptions(b []byte) ([]ScenarioOption, error) {
	var doc scenariosOptionsDoc
	if err := decode(b, &doc); err != nil {
		return nil, err
	}
	options := make([]ScenarioOption, len(doc.Scenarios))
	for i, s := range doc.Scenarios {
		if s.Abil == nil || s.NoPin == nil {
			return nil, fmt.Errorf("%w: scenario %d: missing abil or nopin", ErrMalformed, i)
		}
		enabled, err := parseFlag(*s.Abil)
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		noPin, err := parseFlag(*s.NoPin)
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		options[i] = ScenarioOption{Enabled: enabled, NoPin: noPin}
	}
	return options, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	default:
		return false, fmt.Errorf("%w: invalid flag %q", ErrMalformed, s)
	}
}

func parseDescriptions(b []byte, doc any) ([]string, error) {
	if err := decode(b, doc); err != nil {
		return nil, err
	}
	var names []string
	switch d := doc.(type) {
	case *zonesDescriptionDoc:
		names = d.Zones
	case *partitionsDescriptionDoc:
		names = d.Partitions
	case *scenariosDescriptionDoc:
		names = d.Scenarios
	}
	result := make([]string, len(names))
	for i, n := range names {
		result[i] = strings.TrimSpace(n)
	}
	return result, nil
}

// parseCommandReply returns nil only when the panel confirmed the command.
func parseCommandReply(b []byte) error {
	var doc cmdDoc
	if err := unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: %q", ErrCommandRejected, truncate(string(b), 64))
	}
	if got := strings.TrimSpace(doc.Result); got != cmdSent {
		return fmt.Errorf("%w: %q", ErrCommandRejected, got)
	}
	return nil
}

// commandPath builds the command request. The parameter order matters to
// the panel, so url.Values (which sorts) is not used.
func commandPath(cmd, pin string, extra ...string) string {
	var sb strings.Builder
	sb.WriteString(pathCommand)
	sb.WriteString("?cmd=")
	sb.WriteString(url.QueryEscape(cmd))
	sb.WriteString("&pin=")
	sb.WriteString(url.QueryEscape(pin))
	sb.WriteString("&redirectPage=")
	sb.WriteString(pathCommandError)
	for i := 0; i+1 < len(extra); i += 2 {
		sb.WriteString("&")
		sb.WriteString(url.QueryEscape(extra[i]))
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(extra[i+1]))
	}
	return sb.String()
}

func macroCommand(scenario int, pin string) string {
	return commandPath(cmdSetMacro, pin, "macroId", strconv.Itoa(scenario))
}

// bypassCommand encodes the zone 1-based, as the panel expects.
func bypassCommand(zone int, pin string, bypass bool) string {
	value := "0"
	if bypass {
		value = "1"
	}
	return commandPath(
		cmdSetBypass, pin,
		"zoneId", strconv.Itoa(zone+1),
		"zoneValue", value,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
