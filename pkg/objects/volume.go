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


package objects

import (
	"time"
)

// Volume status values
const (
	VolumeCreating       = "creating"
	VolumeAvailable      = "available"
	VolumeAttaching      = "attaching"
	VolumeInUse          = "in-use"
	VolumeDetaching      = "detaching"
	VolumeDeleting       = "deleting"
	VolumeError          = "error"
	VolumeErrorDeleting  = "error_deleting"
	VolumeExtending      = "extending"
	VolumeErrorExtending = "error_extending"
	VolumeDownloading    = "downloading"
	VolumeUploading      = "uploading"
	VolumeMaintenance    = "maintenance"
	VolumeErrorManaging  = "error_managing"
	VolumeManaging       = "managing"
	VolumeRetyping       = "retyping"
	VolumeReserved       = "reserved"
	VolumeUnmanaging     = "unmanaging"
	VolumeDeleted        = "deleted"
)

// Volume attach status values
const (
	AttachDetached  = "detached"
	AttachAttaching = "attaching"
	AttachAttached  = "attached"
	AttachDetaching = "detaching"
	AttachError     = "error_attaching"
)

// Volume migration status values
const (
	MigrationNone      = ""
	MigrationStarting  = "starting"
	MigrationMigrating = "migrating"
	MigrationSuccess   = "success"
	MigrationError     = "error"
)

// VolumeObjName is the registered name of Volume
const VolumeObjName = "Volume"

// Volume is a block device provisioned on a backend
type Volume struct {
	Base             `json:"-"`
	ID               string            `json:"id"`
	Name             string            `json:"display_name"`
	Description      string            `json:"display_description"`
	Size             int64             `json:"size"`
	Status           string            `json:"status"`
	AttachStatus     string            `json:"attach_status"`
	MigrationStatus  string            `json:"migration_status"`
	Host             string            `json:"host"`
	AvailabilityZone string            `json:"availability_zone"`
	VolumeType       string            `json:"volume_type"`
	ProviderLocation string            `json:"provider_location"`
	ProviderID       string            `json:"provider_id"`
	ProviderAuth     string            `json:"provider_auth"`
	SnapshotID       string            `json:"snapshot_id"`
	SourceVolID      string            `json:"source_volid"`
	Metadata         map[string]string `json:"metadata"`
	AdminMetadata    map[string]string `json:"admin_metadata"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	DeletedAt        *time.Time        `json:"deleted_at"`
	Deleted          bool              `json:"deleted"`
	ClusterName      string            `json:"cluster_name"`
	ServiceUUID      string            `json:"service_uuid"`
	SharedTargets    bool              `json:"shared_targets"`
	GroupID          string            `json:"group_id"`
}

func init() {
	Register(&TypeInfo{
		Name:    VolumeObjName,
		Version: "1.4",
		Added: map[string]string{
			"cluster_name":   "1.1",
			"service_uuid":   "1.2",
			"shared_targets": "1.3",
			"group_id":       "1.4",
		},
		New: func() Object { return &Volume{} },
	})
}

// ObjName returns the object name
func (v *Volume) ObjName() string {
	return VolumeObjName
}

// ResourceID is the cleanable resource identifier
func (v *Volume) ResourceID() string {
	return v.ID
}

// ResourceStatus is the cleanable resource status
func (v *Volume) ResourceStatus() string {
	return v.Status
}

// SetStatus changes the status
func (v *Volume) SetStatus(s string) {
	v.Status = s
	v.markChanged("status")
}

// SetAttachStatus changes the attach status
func (v *Volume) SetAttachStatus(s string) {
	v.AttachStatus = s
	v.markChanged("attach_status")
}

// SetMigrationStatus changes the migration status
func (v *Volume) SetMigrationStatus(s string) {
	v.MigrationStatus = s
	v.markChanged("migration_status")
}

// SetProvider records the backend identity of the volume
func (v *Volume) SetProvider(location, id, auth string) {
	v.ProviderLocation, v.ProviderID, v.ProviderAuth = location, id, auth
	v.markChanged("provider_location", "provider_id", "provider_auth")
}

// SetSize changes the size in GiB
func (v *Volume) SetSize(gib int64) {
	v.Size = gib
	v.markChanged("size")
}

// SetHost places the volume on a backend pool ("host@backend#pool")
func (v *Volume) SetHost(host string) {
	v.Host = host
	v.markChanged("host")
}

// SetAdminMetadata sets an admin metadata key
func (v *Volume) SetAdminMetadata(k, val string) {
	if v.AdminMetadata == nil {
		v.AdminMetadata = map[string]string{}
	}
	v.AdminMetadata[k] = val
	v.markChanged("admin_metadata")
}

// Backend returns the backend part of the host ("host@backend#pool")
func (v *Volume) Backend() string {
	return HostBackend(v.Host)
}

// Pool returns the pool part of the host
func (v *Volume) Pool() string {
	return HostPool(v.Host)
}

// IsAttached reports whether the volume has active attachments
func (v *Volume) IsAttached() bool {
	return v.AttachStatus == AttachAttached || v.Status == VolumeInUse
}
