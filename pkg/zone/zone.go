// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package zone manages Fibre Channel zones for volume connections. The
// Manager turns the initiator-target map of an FC connection into zones
// on every configured fabric, through a Client that speaks the management
// protocol of the fabric switch.
package zone

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/go-ini/ini"
)

// Zoning policies
const (
	PolicyInitiatorTarget = "initiator-target"
	PolicyInitiator       = "initiator"
)

// Southbound protocols
const (
	ProtocolSSH       = "SSH"
	ProtocolHTTP      = "HTTP"
	ProtocolHTTPS     = "HTTPS"
	ProtocolRESTHTTP  = "REST_HTTP"
	ProtocolRESTHTTPS = "REST_HTTPS"
)

// Configuration sections
const (
	ManagerSection      = "fc-zone-manager"
	FabricSectionPrefix = "fabric:"
)

// Defaults
const (
	ZoneNamePrefixDefault = "openstack"
	// ZoneConfigDefault is the name of the zone configuration created when a fabric has none
	ZoneConfigDefault = "OpenStack_Cfg"
	ZoneNameMaxLen    = 64
)

// UpdateOp selects how UpdateZones changes the members of existing zones
type UpdateOp int

// UpdateOp values
const (
	ZoneAdd UpdateOp = iota
	ZoneRemove
)

func (op UpdateOp) String() string {
	if op == ZoneRemove {
		return "remove"
	}
	return "add"
}

// ZoneSet is the effective zone configuration of a fabric. Members are lower case colon separated WWNs.
type ZoneSet struct {
	ActiveCfg string
	Zones     map[string][]string
}

// Client is the interface to the zoning service of a fabric
type Client interface {
	GetActiveZoneSet(ctx context.Context) (*ZoneSet, error)
	// AddZones creates zones and adds them to the active configuration, creating it if needed
	AddZones(ctx context.Context, zones map[string][]string, activate bool, active *ZoneSet) error
	UpdateZones(ctx context.Context, zones map[string][]string, activate bool, op UpdateOp, active *ZoneSet) error
	// DeleteZones removes zones; removing the last zone of the active configuration disables and deletes it
	DeleteZones(ctx context.Context, names []string, activate bool, active *ZoneSet) error
	// GetNameServerInfo returns the port WWNs logged in to the fabric
	GetNameServerInfo(ctx context.Context) ([]string, error)
	IsSupportedFirmware(ctx context.Context) (bool, error)
	Close() error
}

// Fabric describes one fabric and the switch used to manage it
type Fabric struct {
	Name               string `ini:"-"`
	Address            string `ini:"fc_fabric_address"`
	User               string `ini:"fc_fabric_user"`
	Password           string `ini:"fc_fabric_password"`
	Port               int    `ini:"fc_fabric_port"`
	Protocol           string `ini:"fc_southbound_protocol"`
	PrincipalSwitchWWN string `ini:"principal_switch_wwn"`
	VirtualFabricID    string `ini:"fc_virtual_fabric_id"`
	SSHHostKey         string `ini:"fc_fabric_ssh_host_key"`
	CACert             string `ini:"fc_fabric_ssl_cert_path"`
	Insecure           bool   `ini:"fc_fabric_ssl_insecure"`
	ZoneNamePrefix     string `ini:"zone_name_prefix"`
	ZoningPolicy       string `ini:"zoning_policy"`
	ZoneActivate       bool   `ini:"zone_activate"`
	ZoneConfig         string `ini:"zone_config_name"`
}

// Config is the zone manager configuration
type Config struct {
	ZoningPolicy      string    `ini:"zoning_policy"`
	FabricNames       string    `ini:"fc_fabric_names"`
	ZoneNamePrefix    string    `ini:"zone_name_prefix"`
	ZoneActivate      bool      `ini:"zone_activate"`
	FriendlyZoneNames bool      `ini:"enable_friendly_zone_names"`
	Fabrics           []*Fabric `ini:"-"`
}

func validPolicy(p string) bool {
	return p == PolicyInitiatorTarget || p == PolicyInitiator
}

func defaultPort(protocol string) int {
	switch protocol {
	case ProtocolSSH:
		return 22
	case ProtocolHTTPS, ProtocolRESTHTTPS:
		return 443
	}
	return 80
}

// LoadConfig reads the zone manager section and the sections of the listed fabrics.
// A source without the manager section returns nil, meaning FC zoning is disabled.
func LoadConfig(source interface{}) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{}, source)
	if err != nil {
		return nil, fmt.Errorf("zone config: %w", err)
	}
	sec, err := f.GetSection(ManagerSection)
	if err != nil {
		return nil, nil
	}
	cfg := &Config{ZoningPolicy: PolicyInitiatorTarget, ZoneNamePrefix: ZoneNamePrefixDefault, ZoneActivate: true}
	if err = sec.MapTo(cfg); err != nil {
		return nil, fmt.Errorf("zone config: [%s]: %w", ManagerSection, err)
	}
	if !validPolicy(cfg.ZoningPolicy) {
		return nil, fmt.Errorf("zone config: invalid zoning_policy %q", cfg.ZoningPolicy)
	}
	for _, name := range util.SplitList(cfg.FabricNames) {
		fs, err := f.GetSection(FabricSectionPrefix + name)
		if err != nil {
			return nil, fmt.Errorf("zone config: section [%s%s] not found", FabricSectionPrefix, name)
		}
		fabric := &Fabric{
			Name:           name,
			Protocol:       ProtocolHTTP,
			ZoneNamePrefix: cfg.ZoneNamePrefix,
			ZoningPolicy:   cfg.ZoningPolicy,
			ZoneActivate:   cfg.ZoneActivate,
			ZoneConfig:     ZoneConfigDefault,
		}
		if err = fs.MapTo(fabric); err != nil {
			return nil, fmt.Errorf("zone config: [%s%s]: %w", FabricSectionPrefix, name, err)
		}
		if fabric.Address == "" {
			return nil, fmt.Errorf("zone config: fabric %s: fc_fabric_address is required", name)
		}
		fabric.Protocol = strings.ToUpper(fabric.Protocol)
		switch fabric.Protocol {
		case ProtocolSSH, ProtocolHTTP, ProtocolHTTPS, ProtocolRESTHTTP, ProtocolRESTHTTPS:
		default:
			return nil, fmt.Errorf("zone config: fabric %s: unsupported fc_southbound_protocol %q", name, fabric.Protocol)
		}
		if !validPolicy(fabric.ZoningPolicy) {
			return nil, fmt.Errorf("zone config: fabric %s: invalid zoning_policy %q", name, fabric.ZoningPolicy)
		}
		if fabric.Port == 0 {
			fabric.Port = defaultPort(fabric.Protocol)
		}
		if fabric.Password, err = util.RevealSecret(fabric.Password); err != nil {
			return nil, fmt.Errorf("zone config: fabric %s: %w", name, err)
		}
		cfg.Fabrics = append(cfg.Fabrics, fabric)
	}
	if len(cfg.Fabrics) == 0 {
		return nil, fmt.Errorf("zone config: fc_fabric_names is empty")
	}
	return cfg, nil
}

var illegalZoneChars = regexp.MustCompile(`[^a-zA-Z0-9_$^-]`)

func sanitize(name string) string {
	name = illegalZoneChars.ReplaceAllString(name, "_")
	if len(name) > ZoneNameMaxLen {
		name = name[:ZoneNameMaxLen]
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// ZoneName returns the name of the zone for an initiator and target; the target is ignored by the initiator policy
func ZoneName(policy, prefix, initiator, target string) string {
	name := prefix + util.NormalizeWWN(initiator)
	if policy == PolicyInitiatorTarget {
		name += util.NormalizeWWN(target)
	}
	return sanitize(name)
}

// FriendlyZoneName includes the host and storage system names when known
func FriendlyZoneName(policy, prefix, initiator, target, host, storage string) string {
	if policy == PolicyInitiatorTarget {
		host, storage = truncate(host, 14), truncate(storage, 14)
		if host == "" || storage == "" {
			return ZoneName(policy, prefix, initiator, target)
		}
		return sanitize(host + "_" + util.NormalizeWWN(initiator) + "_" + storage + "_" + util.NormalizeWWN(target))
	}
	host = truncate(host, 47)
	if host == "" {
		return ZoneName(policy, prefix, initiator, target)
	}
	return sanitize(host + "_" + util.NormalizeWWN(initiator))
}
