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


package api

import (
	"time"

	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
)

// VolumeView is the external form of a volume
type VolumeView struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	Size             int64                `json:"size"`
	Status           string               `json:"status"`
	AttachStatus     string               `json:"attach_status"`
	MigrationStatus  *string              `json:"migration_status"`
	Host             string               `json:"os-vol-host-attr:host"`
	AvailabilityZone string               `json:"availability_zone"`
	VolumeType       string               `json:"volume_type"`
	SnapshotID       *string              `json:"snapshot_id"`
	SourceVolID      *string              `json:"source_volid"`
	Metadata         map[string]string    `json:"metadata"`
	ClusterName      string               `json:"cluster_name,omitempty"`
	CreatedAt        strfmt.DateTime      `json:"created_at"`
	UpdatedAt        *strfmt.DateTime     `json:"updated_at"`
	Attachments      []*volume.Attachment `json:"attachments"`
}

// SnapshotView is the external form of a snapshot
type SnapshotView struct {
	ID          string            `json:"id"`
	VolumeID    string            `json:"volume_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	Progress    string            `json:"os-extended-snapshot-attributes:progress"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   strfmt.DateTime   `json:"created_at"`
	UpdatedAt   *strfmt.DateTime  `json:"updated_at"`
}

// ServiceView is the external form of a service
type ServiceView struct {
	ID             int64            `json:"id"`
	Binary         string           `json:"binary"`
	Host           string           `json:"host"`
	Cluster        *string          `json:"cluster"`
	Status         string           `json:"status"`
	State          string           `json:"state"`
	DisabledReason *string          `json:"disabled_reason"`
	UpdatedAt      *strfmt.DateTime `json:"updated_at"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return swag.String(s)
}

func optTime(t time.Time) *strfmt.DateTime {
	if t.IsZero() {
		return nil
	}
	dt := strfmt.DateTime(t)
	return &dt
}

func volumeView(v *objects.Volume, ats []*volume.Attachment) *VolumeView {
	if ats == nil {
		ats = []*volume.Attachment{}
	}
	return &VolumeView{
		ID:               v.ID,
		Name:             v.Name,
		Description:      v.Description,
		Size:             v.Size,
		Status:           v.Status,
		AttachStatus:     v.AttachStatus,
		MigrationStatus:  optString(v.MigrationStatus),
		Host:             v.Host,
		AvailabilityZone: v.AvailabilityZone,
		VolumeType:       v.VolumeType,
		SnapshotID:       optString(v.SnapshotID),
		SourceVolID:      optString(v.SourceVolID),
		Metadata:         v.Metadata,
		ClusterName:      v.ClusterName,
		CreatedAt:        strfmt.DateTime(v.CreatedAt),
		UpdatedAt:        optTime(v.UpdatedAt),
		Attachments:      ats,
	}
}

func snapshotView(sn *objects.Snapshot) *SnapshotView {
	return &SnapshotView{
		ID:          sn.ID,
		VolumeID:    sn.VolumeID,
		Name:        sn.Name,
		Description: sn.Description,
		Status:      sn.Status,
		Progress:    sn.Progress,
		Size:        sn.VolumeSize,
		Metadata:    sn.Metadata,
		CreatedAt:   strfmt.DateTime(sn.CreatedAt),
		UpdatedAt:   optTime(sn.UpdatedAt),
	}
}

func serviceView(svc *store.Service, up bool) *ServiceView {
	sv := &ServiceView{
		ID:             svc.ID,
		Binary:         svc.Binary,
		Host:           svc.Host,
		Cluster:        optString(svc.ClusterName),
		Status:         "enabled",
		State:          "down",
		DisabledReason: optString(svc.DisabledReason),
		UpdatedAt:      optTime(svc.UpdatedAt),
	}
	if svc.Disabled {
		sv.Status = "disabled"
	}
	if up {
		sv.State = "up"
	}
	return sv
}

// render returns the versioned primitive of an object if the client requested version caps,
// else the view
func render(o objects.Object, caps objects.VersionCaps, view interface{}) (interface{}, error) {
	if caps == nil {
		return view, nil
	}
	return objects.ToPrimitive(o, caps)
}
