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


// Package volume is the volume manager. It places volumes on backend pools,
// drives the status transitions of volumes and snapshots and calls the
// backend drivers.
//
// Operations that change a volume are split in two parts. The request part
// validates the request and moves the resource to a transitional status with
// a conditional update, so concurrent requests on the same resource fail
// instead of racing. The backend part runs as a task and ends by moving the
// resource to a stable status. Driver calls are made while the service owns
// the cleanable worker row of the resource, so the work of a service that
// dies can be finished by another.
package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/cleanable"
	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	logging "github.com/op/go-logging"
)

// Binary is the service binary name recorded in the services table
const Binary = "volumed"

// Errors
var (
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoValidBackend  = errors.New("no valid backend")
	ErrNotStarted      = errors.New("volume manager not started")
)

// Defaults
const (
	HeartbeatPeriodDefault  = 10 * time.Second
	StatsIntervalDefault    = 60 * time.Second
	VersionLogPeriodDefault = 30 * time.Minute
)

// ZoneManager adds and removes the FC zones of a connection
type ZoneManager interface {
	AddConnection(ctx context.Context, ci *driver.ConnectionInfo, host, storage string) error
	RemoveConnection(ctx context.Context, ci *driver.ConnectionInfo, host, storage string) error
}

// DriverFactory creates an unconfigured driver of a type
type DriverFactory func(typ string, log *logging.Logger) (driver.Driver, error)

// Args contains the arguments to create a Manager
type Args struct {
	Host             string
	ClusterName      string
	Backends         []*driver.Config
	Store            store.Store
	Notifier         notify.Notifier
	Tasks            tasks.TaskScheduler
	Zones            ZoneManager
	Log              *logging.Logger
	NewDriver        DriverFactory
	HeartbeatPeriod  time.Duration
	StatsInterval    time.Duration
	ServiceDownTime  time.Duration
	VersionLogPeriod time.Duration
	InvocationArgs   string
}

// Manager is the volume manager
type Manager struct {
	Args
	mux      sync.Mutex
	backends map[string]*backend
	order    []string
	service  *store.Service
	cleaner  *cleanable.Manager
	hb       *heartbeat
	started  bool
}

// NewManager returns a Manager. Call Start to register the service and set up the backends.
func NewManager(args *Args) (*Manager, error) {
	if args == nil || args.Host == "" || args.Store == nil || args.Notifier == nil || args.Tasks == nil || args.Log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	m := &Manager{Args: *args, backends: map[string]*backend{}}
	if m.NewDriver == nil {
		m.NewDriver = driver.New
	}
	if m.HeartbeatPeriod <= 0 {
		m.HeartbeatPeriod = HeartbeatPeriodDefault
	}
	if m.StatsInterval <= 0 {
		m.StatsInterval = StatsIntervalDefault
	}
	if m.ServiceDownTime <= 0 {
		m.ServiceDownTime = cleanable.ServiceDownTimeDefault
	}
	if m.VersionLogPeriod <= 0 {
		m.VersionLogPeriod = VersionLogPeriodDefault
	}
	for _, cfg := range m.Backends {
		if _, ok := m.backends[cfg.Name]; ok {
			return nil, fmt.Errorf("backend %s defined twice", cfg.Name)
		}
		drv, err := m.NewDriver(cfg.Driver(), m.Log)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.Name, err)
		}
		m.backends[cfg.Name] = newBackend(m, cfg, drv)
		m.order = append(m.order, cfg.Name)
	}
	m.registerAnimators()
	return m, nil
}

// Start registers the service, cleans up the work interrupted by a previous run of
// this service, and starts the heartbeat and the backend stats workers
func (m *Manager) Start(ctx context.Context) error {
	m.mux.Lock()
	started := m.started
	m.mux.Unlock()
	if started {
		return nil
	}
	if err := m.register(ctx); err != nil {
		return err
	}
	for _, name := range m.order {
		m.backends[name].setup(ctx)
	}
	svc := m.Service()
	if _, _, err := m.cleaner.WorkCleanup(ctx, &objects.CleanupRequest{ServiceID: svc.ID}); err != nil {
		m.Log.Errorf("Startup cleanup: %s", err.Error())
	}
	m.hb = newHeartbeat(m)
	m.hb.worker.Start()
	for _, name := range m.order {
		m.backends[name].worker.Start()
	}
	m.mux.Lock()
	m.started = true
	m.mux.Unlock()
	return nil
}

// register creates or loads the service record and the worker manager bound to it
func (m *Manager) register(ctx context.Context) error {
	svc, err := m.Store.ServiceCreateOrGet(ctx, m.Host, Binary, m.ClusterName, objects.Version(&objects.Volume{}))
	if err != nil {
		return fmt.Errorf("service registration: %w", err)
	}
	m.Log.Infof("Service %d (%s) on %s", svc.ID, svc.UUID, m.Host)
	cleaner, err := cleanable.New(&cleanable.Args{
		Store:           m.Store,
		Log:             m.Log,
		ServiceID:       svc.ID,
		ClusterName:     m.ClusterName,
		ServiceDownTime: m.ServiceDownTime,
	})
	if err != nil {
		return err
	}
	cleaner.Register(objects.VolumeObjName, m.loadVolume, m.cleanupVolume)
	cleaner.Register(objects.SnapshotObjName, m.loadSnapshot, m.cleanupSnapshot)
	m.mux.Lock()
	defer m.mux.Unlock()
	m.service = svc
	m.cleaner = cleaner
	return nil
}

// Stop terminates the workers and the running tasks
func (m *Manager) Stop() {
	m.mux.Lock()
	if !m.started {
		m.mux.Unlock()
		return
	}
	m.started = false
	m.mux.Unlock()
	for _, name := range m.order {
		m.backends[name].worker.Stop()
	}
	m.hb.worker.Stop()
	m.Tasks.Terminate()
}

// Service returns the service record of this manager
func (m *Manager) Service() *store.Service {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.service == nil {
		return nil
	}
	svc := *m.service
	return &svc
}

func (m *Manager) worker() (*cleanable.Manager, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.cleaner == nil {
		return nil, ErrNotStarted
	}
	return m.cleaner, nil
}

// backendHost returns "host@backend"
func (m *Manager) backendHost(name string) string {
	return objects.MakeHost(m.Host, name, "")
}

// backendOf returns the backend of a volume placed on this service or on
// another service of the same cluster
func (m *Manager) backendOf(v *objects.Volume) (*backend, error) {
	sameCluster := m.ClusterName != "" && v.ClusterName == m.ClusterName
	if objects.HostName(v.Host) != m.Host && !sameCluster {
		return nil, fmt.Errorf("volume %s: host %q is not served here: %w", v.ID, v.Host, ErrNoValidBackend)
	}
	b, ok := m.backends[v.Backend()]
	if !ok {
		return nil, fmt.Errorf("volume %s: backend %q not found: %w", v.ID, v.Backend(), ErrNoValidBackend)
	}
	return b, nil
}

// BackendNames returns the names of the configured backends
func (m *Manager) BackendNames() []string {
	return append([]string{}, m.order...)
}

// Cleanup cleans up the interrupted work of the services selected by req
func (m *Manager) Cleanup(ctx context.Context, req *objects.CleanupRequest) (cleaning, unavailable []*store.Service, err error) {
	cleaner, err := m.worker()
	if err != nil {
		return nil, nil, err
	}
	return cleaner.WorkCleanup(ctx, req)
}

func (m *Manager) notify(resourceType, id, action, phase string, payload interface{}) {
	ev := &notify.Event{
		EventType:    notify.EventType(resourceType, action, phase),
		ResourceType: resourceType,
		ResourceID:   id,
		Scope:        map[string]string{"host": m.Host},
		Payload:      payload,
	}
	if phase == notify.PhaseError {
		ev.Priority = notify.PriorityError
	}
	if err := m.Notifier.Notify(ev); err != nil {
		m.Log.Warningf("Notify %s: %s", ev.EventType, err.Error())
	}
}

func (m *Manager) volumeEvent(v *objects.Volume, action, phase string) {
	m.notify("volume", v.ID, action, phase, map[string]interface{}{
		"status":        v.Status,
		"attach_status": v.AttachStatus,
		"host":          v.Host,
		"size":          v.Size,
	})
}

func (m *Manager) snapshotEvent(s *objects.Snapshot, action, phase string) {
	m.notify("snapshot", s.ID, action, phase, map[string]interface{}{
		"status":    s.Status,
		"volume_id": s.VolumeID,
	})
}

// statusError returns an ErrInvalidStatus error
func statusError(objName, id, status string, expected []string) error {
	return fmt.Errorf("%s %s is %s, must be one of %v: %w", objName, id, status, expected, ErrInvalidStatus)
}

// saveLogged saves a volume, logging a failure
func (m *Manager) saveLogged(ctx context.Context, v *objects.Volume) {
	if err := m.Store.VolumeSave(ctx, v); err != nil {
		m.Log.Errorf("Volume %s: save: %s", v.ID, err.Error())
	}
}

func (m *Manager) saveSnapshotLogged(ctx context.Context, s *objects.Snapshot) {
	if err := m.Store.SnapshotSave(ctx, s); err != nil {
		m.Log.Errorf("Snapshot %s: save: %s", s.ID, err.Error())
	}
}

// guard runs fn owning the worker rows of the cleanable resources
func (m *Manager) guard(ctx context.Context, fn func() error, resources ...objects.Cleanable) error {
	cleaner, err := m.worker()
	if err != nil {
		return err
	}
	return cleaner.Guard(ctx, resources, fn)
}

// createWorker creates the worker row of a resource that entered a cleanable status
func (m *Manager) createWorker(ctx context.Context, res objects.Cleanable) {
	cleaner, err := m.worker()
	if err != nil {
		return
	}
	if _, err := cleaner.CreateWorker(ctx, res, ""); err != nil {
		m.Log.Warningf("%s %s: create worker: %s", res.ObjName(), res.ResourceID(), err.Error())
	}
}
