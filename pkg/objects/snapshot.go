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

// Snapshot status values
const (
	SnapshotCreating      = "creating"
	SnapshotAvailable     = "available"
	SnapshotDeleting      = "deleting"
	SnapshotError         = "error"
	SnapshotErrorDeleting = "error_deleting"
	SnapshotUnmanaging    = "unmanaging"
	SnapshotDeleted       = "deleted"
)

// SnapshotObjName is the registered name of Snapshot
const SnapshotObjName = "Snapshot"

// Snapshot is a point in time copy of a volume
type Snapshot struct {
	Base             `json:"-"`
	ID               string            `json:"id"`
	VolumeID         string            `json:"volume_id"`
	Name             string            `json:"display_name"`
	Description      string            `json:"display_description"`
	Status           string            `json:"status"`
	Progress         string            `json:"progress"`
	VolumeSize       int64             `json:"volume_size"`
	ProviderID       string            `json:"provider_id"`
	ProviderLocation string            `json:"provider_location"`
	CGSnapshotID     string            `json:"cgsnapshot_id"`
	Metadata         map[string]string `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	DeletedAt        *time.Time        `json:"deleted_at"`
	Deleted          bool              `json:"deleted"`
	GroupSnapshotID  string            `json:"group_snapshot_id"`
	UseQuota         bool              `json:"use_quota"`
}

func init() {
	Register(&TypeInfo{
		Name:    SnapshotObjName,
		Version: "1.2",
		Added: map[string]string{
			"group_snapshot_id": "1.1",
			"use_quota":         "1.2",
		},
		New: func() Object { return &Snapshot{} },
	})
}

// ObjName returns the object name
func (s *Snapshot) ObjName() string {
	return SnapshotObjName
}

// ResourceID is the cleanable resource identifier
func (s *Snapshot) ResourceID() string {
	return s.ID
}

// ResourceStatus is the cleanable resource status
func (s *Snapshot) ResourceStatus() string {
	return s.Status
}

// SetStatus changes the status
func (s *Snapshot) SetStatus(st string) {
	s.Status = st
	s.markChanged("status")
}

// SetProgress changes the progress string, e.g. "100%"
func (s *Snapshot) SetProgress(p string) {
	s.Progress = p
	s.markChanged("progress")
}

// SetProvider records the backend identity of the snapshot
func (s *Snapshot) SetProvider(location, id string) {
	s.ProviderLocation, s.ProviderID = location, id
	s.markChanged("provider_location", "provider_id")
}

// CGSnapshotObjName is the registered name of CGSnapshot
const CGSnapshotObjName = "CGSnapshot"

// CGSnapshot is a consistency group snapshot, a set of snapshots taken together
type CGSnapshot struct {
	Base               `json:"-"`
	ID                 string   `json:"id"`
	ConsistencyGroupID string   `json:"consistencygroup_id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Status             string   `json:"status"`
	SnapshotIDs        []string `json:"snapshot_ids"`
}

func init() {
	Register(&TypeInfo{
		Name:    CGSnapshotObjName,
		Version: "1.1",
		Added:   map[string]string{"snapshot_ids": "1.1"},
		New:     func() Object { return &CGSnapshot{} },
	})
}

// ObjName returns the object name
func (c *CGSnapshot) ObjName() string {
	return CGSnapshotObjName
}
