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


// Package driver defines the interface implemented by every storage backend
// and the helpers shared by the vendor drivers: the capability table, the
// error taxonomy, a uniform retry and polling policy and backend configuration.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/objects"
	logging "github.com/op/go-logging"
)

// Driver is the interface every backend implements
type Driver interface {
	Type() string
	// Setup validates the configuration and connects to the backend
	Setup(ctx context.Context, cfg *Config) error
	// Stats returns the backend capacity; cached values may be returned unless refresh is set
	Stats(ctx context.Context, refresh bool) (*BackendStats, error)
	CreateVolume(ctx context.Context, vol *VolumeSpec) (*ModelUpdate, error)
	// DeleteVolume succeeds if the backend volume does not exist
	DeleteVolume(ctx context.Context, vol *VolumeSpec) error
	InitializeConnection(ctx context.Context, vol *VolumeSpec, conn *Connector) (*ConnectionInfo, error)
	// TerminateConnection returns the connection info of the removed mapping. It is used to
	// remove FC zones and may be nil.
	TerminateConnection(ctx context.Context, vol *VolumeSpec, conn *Connector) (*ConnectionInfo, error)
}

// Snapshotter is implemented by drivers that support snapshots
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, snap *SnapshotSpec) (*ModelUpdate, error)
	DeleteSnapshot(ctx context.Context, snap *SnapshotSpec) error
	CreateVolumeFromSnapshot(ctx context.Context, vol *VolumeSpec, snap *SnapshotSpec) (*ModelUpdate, error)
}

// Cloner is implemented by drivers that can copy a volume
type Cloner interface {
	CreateClonedVolume(ctx context.Context, vol *VolumeSpec, src *VolumeSpec) (*ModelUpdate, error)
}

// Extender is implemented by drivers that can grow a volume
type Extender interface {
	ExtendVolume(ctx context.Context, vol *VolumeSpec, newSizeGiB int64) error
}

// Manager is implemented by drivers that can adopt and release existing backend volumes
type Manager interface {
	ManageExistingGetSize(ctx context.Context, vol *VolumeSpec, ref map[string]string) (int64, error)
	ManageExisting(ctx context.Context, vol *VolumeSpec, ref map[string]string) (*ModelUpdate, error)
	GetManageableVolumes(ctx context.Context) ([]*objects.ManageableVolume, error)
	UnmanageVolume(ctx context.Context, vol *VolumeSpec) error
}

// Migrator is implemented by drivers that can move a volume to another pool of the same backend.
// It returns false if the move must be done generically.
type Migrator interface {
	MigrateVolume(ctx context.Context, vol *VolumeSpec, destPool string) (bool, *ModelUpdate, error)
}

// Capabilities is the table of optional operations a driver supports
type Capabilities struct {
	Snapshot bool `json:"snapshot"`
	Clone    bool `json:"clone"`
	Extend   bool `json:"extend"`
	Manage   bool `json:"manage"`
	Migrate  bool `json:"migrate"`
}

// CapabilitiesOf returns the capability table of a driver
func CapabilitiesOf(d Driver) Capabilities {
	_, snap := d.(Snapshotter)
	_, clone := d.(Cloner)
	_, extend := d.(Extender)
	_, manage := d.(Manager)
	_, migrate := d.(Migrator)
	return Capabilities{Snapshot: snap, Clone: clone, Extend: extend, Manage: manage, Migrate: migrate}
}

// Factory creates a driver instance
type Factory func(log *logging.Logger) Driver

var registry = map[string]Factory{}
var registryMux sync.Mutex

// Register makes a driver type available. It is called from the init function of the driver package.
func Register(typ string, f Factory) {
	registryMux.Lock()
	defer registryMux.Unlock()
	registry[typ] = f
}

// New returns a new driver of the given type
func New(typ string, log *logging.Logger) (Driver, error) {
	registryMux.Lock()
	f, ok := registry[typ]
	registryMux.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported volume driver %q", typ)
	}
	return f(log), nil
}

// Types returns the registered driver types in sorted order
func Types() []string {
	registryMux.Lock()
	defer registryMux.Unlock()
	res := make([]string, 0, len(registry))
	for t := range registry {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}
