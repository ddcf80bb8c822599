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


package driver

import (
	"fmt"

	"github.com/Nuvoloso/volumed/pkg/objects"
)

// Connection types
const (
	ConnISCSI = "iscsi"
	ConnFC    = "fibre_channel"
	ConnLocal = "local"
)

// VolumeSpec is the driver view of a volume
type VolumeSpec struct {
	ID               string
	Name             string
	SizeGiB          int64
	Host             string
	Pool             string
	VolumeType       string
	ProviderLocation string
	ProviderID       string
	ProviderAuth     string
	Metadata         map[string]string
	// ExtraSpecs are volume type properties such as "provisioning:type"
	ExtraSpecs map[string]string
}

// SpecFromVolume returns the driver view of a volume
func SpecFromVolume(v *objects.Volume, extraSpecs map[string]string) *VolumeSpec {
	if extraSpecs == nil {
		extraSpecs = map[string]string{}
	}
	return &VolumeSpec{
		ID:               v.ID,
		Name:             v.Name,
		SizeGiB:          v.Size,
		Host:             v.Host,
		Pool:             v.Pool(),
		VolumeType:       v.VolumeType,
		ProviderLocation: v.ProviderLocation,
		ProviderID:       v.ProviderID,
		ProviderAuth:     v.ProviderAuth,
		Metadata:         v.Metadata,
		ExtraSpecs:       extraSpecs,
	}
}

// SnapshotSpec is the driver view of a snapshot
type SnapshotSpec struct {
	ID               string
	Name             string
	VolumeID         string
	VolumeSizeGiB    int64
	ProviderLocation string
	ProviderID       string
	// Volume is the source volume
	Volume *VolumeSpec
}

// SpecFromSnapshot returns the driver view of a snapshot
func SpecFromSnapshot(s *objects.Snapshot, vol *VolumeSpec) *SnapshotSpec {
	return &SnapshotSpec{
		ID:               s.ID,
		Name:             s.Name,
		VolumeID:         s.VolumeID,
		VolumeSizeGiB:    s.VolumeSize,
		ProviderLocation: s.ProviderLocation,
		ProviderID:       s.ProviderID,
		Volume:           vol,
	}
}

// ModelUpdate carries the values a driver wants persisted after an operation. Empty fields are ignored.
type ModelUpdate struct {
	ProviderLocation string            `json:"provider_location,omitempty"`
	ProviderID       string            `json:"provider_id,omitempty"`
	ProviderAuth     string            `json:"provider_auth,omitempty"`
	SizeGiB          int64             `json:"size,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	AdminMetadata    map[string]string `json:"admin_metadata,omitempty"`
	Progress         string            `json:"progress,omitempty"`
}

// ApplyToVolume records the update in a volume
func (mu *ModelUpdate) ApplyToVolume(v *objects.Volume) {
	if mu == nil {
		return
	}
	if mu.ProviderLocation != "" || mu.ProviderID != "" || mu.ProviderAuth != "" {
		loc, id, auth := v.ProviderLocation, v.ProviderID, v.ProviderAuth
		if mu.ProviderLocation != "" {
			loc = mu.ProviderLocation
		}
		if mu.ProviderID != "" {
			id = mu.ProviderID
		}
		if mu.ProviderAuth != "" {
			auth = mu.ProviderAuth
		}
		v.SetProvider(loc, id, auth)
	}
	if mu.SizeGiB > 0 && mu.SizeGiB != v.Size {
		v.SetSize(mu.SizeGiB)
	}
	if len(mu.Metadata) > 0 {
		md := map[string]string{}
		for k, val := range v.Metadata {
			md[k] = val
		}
		for k, val := range mu.Metadata {
			md[k] = val
		}
		objects.Set(v, "metadata", md)
	}
	for k, val := range mu.AdminMetadata {
		v.SetAdminMetadata(k, val)
	}
}

// ApplyToSnapshot records the update in a snapshot
func (mu *ModelUpdate) ApplyToSnapshot(s *objects.Snapshot) {
	if mu == nil {
		return
	}
	if mu.ProviderLocation != "" || mu.ProviderID != "" {
		loc, id := s.ProviderLocation, s.ProviderID
		if mu.ProviderLocation != "" {
			loc = mu.ProviderLocation
		}
		if mu.ProviderID != "" {
			id = mu.ProviderID
		}
		s.SetProvider(loc, id)
	}
	if mu.Progress != "" {
		s.SetProgress(mu.Progress)
	}
}

// Connector describes the host a volume is attached to
type Connector struct {
	Host       string   `json:"host"`
	Initiator  string   `json:"initiator,omitempty"`
	WWPNs      []string `json:"wwpns,omitempty"`
	WWNNs      []string `json:"wwnns,omitempty"`
	IP         string   `json:"ip,omitempty"`
	Multipath  bool     `json:"multipath"`
	Platform   string   `json:"platform,omitempty"`
	OSType     string   `json:"os_type,omitempty"`
	InstanceID string   `json:"instance_id,omitempty"`
}

// Validate checks that the connector can be used for the connection type
func (c *Connector) Validate(connType string) error {
	if c == nil || c.Host == "" {
		return NewError(CodeInvalidInput, "connector", "host is required")
	}
	switch connType {
	case ConnISCSI:
		if c.Initiator == "" {
			return NewError(CodeInvalidInput, "connector", "initiator is required for iSCSI")
		}
	case ConnFC:
		if len(c.WWPNs) == 0 {
			return NewError(CodeInvalidInput, "connector", "wwpns are required for FC")
		}
	case ConnLocal:
		if c.InstanceID == "" {
			return NewError(CodeInvalidInput, "connector", "instance_id is required")
		}
	}
	return nil
}

// ConnectionInfo is returned by InitializeConnection
type ConnectionInfo struct {
	DriverVolumeType string         `json:"driver_volume_type"`
	Data             ConnectionData `json:"data"`
}

// ConnectionData contains the protocol specific connection properties
type ConnectionData struct {
	VolumeID         string `json:"volume_id,omitempty"`
	TargetDiscovered bool   `json:"target_discovered"`
	// iSCSI
	TargetIQN     string   `json:"target_iqn,omitempty"`
	TargetPortal  string   `json:"target_portal,omitempty"`
	TargetLUN     int      `json:"target_lun"`
	TargetIQNs    []string `json:"target_iqns,omitempty"`
	TargetPortals []string `json:"target_portals,omitempty"`
	TargetLUNs    []int    `json:"target_luns,omitempty"`
	AuthMethod    string   `json:"auth_method,omitempty"`
	AuthUsername  string   `json:"auth_username,omitempty"`
	AuthPassword  string   `json:"auth_password,omitempty"`
	// FC
	TargetWWN          []string            `json:"target_wwn,omitempty"`
	InitiatorTargetMap map[string][]string `json:"initiator_target_map,omitempty"`
	// local
	DevicePath string `json:"device_path,omitempty"`
}

// ISCSIConnection returns iSCSI connection info, setting the multipath lists when there is more than one portal
func ISCSIConnection(volID string, iqns, portals []string, lun int, multipath bool) (*ConnectionInfo, error) {
	if len(iqns) == 0 || len(iqns) != len(portals) {
		return nil, NewError(CodeBackendAPI, "initialize connection", fmt.Sprintf("no usable iSCSI target (%d iqns, %d portals)", len(iqns), len(portals)))
	}
	ci := &ConnectionInfo{
		DriverVolumeType: ConnISCSI,
		Data: ConnectionData{
			VolumeID:     volID,
			TargetIQN:    iqns[0],
			TargetPortal: portals[0],
			TargetLUN:    lun,
		},
	}
	if multipath && len(iqns) > 1 {
		ci.Data.TargetIQNs = iqns
		ci.Data.TargetPortals = portals
		ci.Data.TargetLUNs = make([]int, len(iqns))
		for i := range ci.Data.TargetLUNs {
			ci.Data.TargetLUNs[i] = lun
		}
	}
	return ci, nil
}

// BackendStats reports the capacity of a backend
type BackendStats struct {
	BackendName     string       `json:"volume_backend_name"`
	VendorName      string       `json:"vendor_name"`
	DriverVersion   string       `json:"driver_version"`
	StorageProtocol string       `json:"storage_protocol"`
	Capabilities    Capabilities `json:"capabilities"`
	Pools           []*PoolStats `json:"pools"`
}

// PoolStats reports the capacity of a pool
type PoolStats struct {
	Name                     string  `json:"pool_name"`
	TotalCapacityGiB         float64 `json:"total_capacity_gb"`
	FreeCapacityGiB          float64 `json:"free_capacity_gb"`
	ProvisionedCapacityGiB   float64 `json:"provisioned_capacity_gb"`
	ReservedPercentage       int     `json:"reserved_percentage"`
	MaxOverSubscriptionRatio float64 `json:"max_over_subscription_ratio"`
	ThinProvisioning         bool    `json:"thin_provisioning_support"`
	ThickProvisioning        bool    `json:"thick_provisioning_support"`
	MultiAttach              bool    `json:"multiattach"`
}

// UsableGiB returns the capacity available for new volumes after the reserved percentage.
// Thin pools may be over subscribed up to the ratio.
func (p *PoolStats) UsableGiB() float64 {
	reserved := p.TotalCapacityGiB * float64(p.ReservedPercentage) / 100
	if p.ThinProvisioning && p.MaxOverSubscriptionRatio > 1 {
		return p.TotalCapacityGiB*p.MaxOverSubscriptionRatio - p.ProvisionedCapacityGiB - reserved
	}
	return p.FreeCapacityGiB - reserved
}
