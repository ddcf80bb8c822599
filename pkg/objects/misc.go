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

// RequestSpecObjName is the registered name of RequestSpec
const RequestSpecObjName = "RequestSpec"

// RequestSpec carries the parameters of a volume placement request
type RequestSpec struct {
	Base               `json:"-"`
	VolumeID           string            `json:"volume_id"`
	SnapshotID         string            `json:"snapshot_id"`
	SourceVolID        string            `json:"source_volid"`
	VolumeType         string            `json:"volume_type"`
	Size               int64             `json:"size"`
	AvailabilityZone   string            `json:"availability_zone"`
	ResourceProperties map[string]string `json:"resource_properties"`
	GroupID            string            `json:"group_id"`
	BackendName        string            `json:"backend_name"`
	Operation          string            `json:"operation"`
}

func init() {
	Register(&TypeInfo{
		Name:    RequestSpecObjName,
		Version: "1.3",
		Added: map[string]string{
			"group_id":     "1.1",
			"backend_name": "1.2",
			"operation":    "1.3",
		},
		New: func() Object { return &RequestSpec{} },
	})
}

// ObjName returns the object name
func (r *RequestSpec) ObjName() string {
	return RequestSpecObjName
}

// ManageableVolumeObjName is the registered name of ManageableVolume
const ManageableVolumeObjName = "ManageableVolume"

// ManageableVolume describes a backend volume that could be brought under management
type ManageableVolume struct {
	Base          `json:"-"`
	Reference     map[string]string `json:"reference"`
	Size          int64             `json:"size"`
	SafeToManage  bool              `json:"safe_to_manage"`
	ReasonNotSafe string            `json:"reason_not_safe"`
	CinderID      string            `json:"cinder_id"`
	ExtraInfo     string            `json:"extra_info"`
}

func init() {
	Register(&TypeInfo{
		Name:    ManageableVolumeObjName,
		Version: "1.0",
		New:     func() Object { return &ManageableVolume{} },
	})
}

// ObjName returns the object name
func (m *ManageableVolume) ObjName() string {
	return ManageableVolumeObjName
}

// ManageableSnapshotObjName is the registered name of ManageableSnapshot
const ManageableSnapshotObjName = "ManageableSnapshot"

// ManageableSnapshot describes a backend snapshot that could be brought under management
type ManageableSnapshot struct {
	Base            `json:"-"`
	Reference       map[string]string `json:"reference"`
	Size            int64             `json:"size"`
	SafeToManage    bool              `json:"safe_to_manage"`
	ReasonNotSafe   string            `json:"reason_not_safe"`
	CinderID        string            `json:"cinder_id"`
	ExtraInfo       string            `json:"extra_info"`
	SourceReference map[string]string `json:"source_reference"`
}

func init() {
	Register(&TypeInfo{
		Name:    ManageableSnapshotObjName,
		Version: "1.0",
		New:     func() Object { return &ManageableSnapshot{} },
	})
}

// ObjName returns the object name
func (m *ManageableSnapshot) ObjName() string {
	return ManageableSnapshotObjName
}

// CleanupRequestObjName is the registered name of CleanupRequest
const CleanupRequestObjName = "CleanupRequest"

// CleanupRequest selects the services and resources whose interrupted work must be cleaned up.
// Empty fields do not filter.
type CleanupRequest struct {
	Base         `json:"-"`
	ServiceID    int64      `json:"service_id"`
	ClusterName  string     `json:"cluster_name"`
	Host         string     `json:"host"`
	Binary       string     `json:"binary"`
	IsUp         *bool      `json:"is_up"`
	Disabled     *bool      `json:"disabled"`
	ResourceID   string     `json:"resource_id"`
	ResourceType string     `json:"resource_type"`
	Until        *time.Time `json:"until"`
}

func init() {
	Register(&TypeInfo{
		Name:    CleanupRequestObjName,
		Version: "1.0",
		New:     func() Object { return &CleanupRequest{} },
	})
}

// ObjName returns the object name
func (c *CleanupRequest) ObjName() string {
	return CleanupRequestObjName
}

// LogLevelObjName is the registered name of LogLevel
const LogLevelObjName = "LogLevel"

// LogLevel is the level of the loggers whose module name starts with Prefix
type LogLevel struct {
	Base   `json:"-"`
	Prefix string `json:"prefix"`
	Level  string `json:"level"`
	Host   string `json:"host"`
	Binary string `json:"binary"`
}

func init() {
	Register(&TypeInfo{
		Name:    LogLevelObjName,
		Version: "1.0",
		New:     func() Object { return &LogLevel{} },
	})
}

// ObjName returns the object name
func (l *LogLevel) ObjName() string {
	return LogLevelObjName
}
