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


// Package cleanable tracks which service owns a resource while the resource
// is in a transitional status, so that work interrupted by a service failure
// can be found and cleaned up by a surviving service.
//
// Ownership is a row in the workers table keyed on (resource type, resource id).
// A row is taken over with an update filtered on the previous owner, status and
// race preventer, so at most one contender succeeds.
package cleanable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	logging "github.com/op/go-logging"
)

// ErrInUse is returned when another service owns the resource
var ErrInUse = errors.New("resource is in use by another service")

// Defaults
const (
	MaxRetriesDefault      = 5
	RetryDelayDefault      = 100 * time.Millisecond
	ServiceDownTimeDefault = 60 * time.Second
)

// LoadFunc loads a resource by id
type LoadFunc func(ctx context.Context, id string) (objects.Cleanable, error)

// CleanupFunc finishes or rolls back the interrupted work on a resource. The worker row is
// deleted afterwards unless keep is true or an error is returned.
type CleanupFunc func(ctx context.Context, res objects.Cleanable, w *store.Worker) (keep bool, err error)

// Args contains the manager arguments
type Args struct {
	Store           store.Store
	Log             *logging.Logger
	ServiceID       int64
	ClusterName     string
	ServiceDownTime time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
}

type resourceType struct {
	load    LoadFunc
	cleanup CleanupFunc
}

// Manager manages the worker rows of one service
type Manager struct {
	Args
	mux   sync.Mutex
	types map[string]resourceType
}

// nowHook is replaced in UTs
var nowHook = func() time.Time { return time.Now().UTC() }

// New returns a Manager
func New(args *Args) (*Manager, error) {
	if args == nil || args.Store == nil || args.Log == nil || args.ServiceID == 0 {
		return nil, fmt.Errorf("invalid arguments")
	}
	m := &Manager{Args: *args, types: map[string]resourceType{}}
	if m.ServiceDownTime <= 0 {
		m.ServiceDownTime = ServiceDownTimeDefault
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = MaxRetriesDefault
	}
	if m.RetryDelay <= 0 {
		m.RetryDelay = RetryDelayDefault
	}
	return m, nil
}

// Register sets the loader and cleanup handler of a resource type
func (m *Manager) Register(objName string, load LoadFunc, cleanup CleanupFunc) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.types[objName] = resourceType{load: load, cleanup: cleanup}
}

func (m *Manager) resourceType(objName string) (resourceType, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	rt, ok := m.types[objName]
	return rt, ok
}

// retry calls fn until it succeeds, fails with an error that is not a conflict or attempts are exhausted
func (m *Manager) retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < m.MaxRetries; i++ {
		if err = fn(); err == nil || !store.IsConflict(err) {
			return err
		}
		m.Log.Debugf("Retrying after conflict: %s", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.RetryDelay):
		}
	}
	return err
}

// SetWorker makes this service the owner of res in its current status
func (m *Manager) SetWorker(ctx context.Context, res objects.Cleanable) (*store.Worker, error) {
	var w *store.Worker
	err := m.retry(ctx, func() error {
		var err error
		w, err = m.setWorker(ctx, res)
		return err
	})
	return w, err
}

func (m *Manager) setWorker(ctx context.Context, res objects.Cleanable) (*store.Worker, error) {
	status := res.ResourceStatus()
	w, err := m.Store.WorkerGet(ctx, &store.WorkerFilter{ResourceType: res.ObjName(), ResourceID: res.ResourceID()})
	if err == nil {
		if w.ServiceID == m.ServiceID && w.Status == status {
			return w, nil
		}
		prevSvc, rp := w.ServiceID, w.RacePreventer
		f := &store.WorkerFilter{Status: w.Status, ServiceID: &prevSvc, RacePreventer: &rp}
		err = m.Store.WorkerUpdate(ctx, w, &store.WorkerValues{Status: &status, ServiceID: &m.ServiceID}, f)
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%s %s: %w", res.ObjName(), res.ResourceID(), ErrInUse)
		}
		return w, err
	}
	if !store.IsNotFound(err) {
		return nil, err
	}
	w = &store.Worker{ResourceType: res.ObjName(), ResourceID: res.ResourceID(), Status: status, ServiceID: m.ServiceID}
	if err = m.Store.WorkerCreate(ctx, w); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("%s %s: %w", res.ObjName(), res.ResourceID(), ErrInUse)
		}
		return nil, err
	}
	return w, nil
}

// CreateWorker creates the worker row of a resource that was just created in a cleanable
// status. It returns false if no row was created: the status is not cleanable, pinned is
// an object version too old to support workers, or the row already exists.
func (m *Manager) CreateWorker(ctx context.Context, res objects.Cleanable, pinned string) (bool, error) {
	if !objects.IsCleanableStatus(res.ObjName(), res.ResourceStatus()) {
		return false, nil
	}
	if pinned != "" {
		pv, err := semver.NewVersion(pinned)
		if err != nil {
			return false, fmt.Errorf("invalid version %q: %w", pinned, err)
		}
		if minV, ok := objects.CleanableMinVersion[res.ObjName()]; ok {
			if mv, err := semver.NewVersion(minV); err == nil && pv.LessThan(mv) {
				return false, nil
			}
		}
	}
	w := &store.Worker{ResourceType: res.ObjName(), ResourceID: res.ResourceID(), Status: res.ResourceStatus(), ServiceID: m.ServiceID}
	if err := m.Store.WorkerCreate(ctx, w); err != nil {
		if errors.Is(err, store.ErrExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UnsetWorker releases this service's row of res in status
func (m *Manager) UnsetWorker(ctx context.Context, res objects.Cleanable, status string) error {
	return m.retry(ctx, func() error {
		_, err := m.Store.WorkerDestroy(ctx, &store.WorkerFilter{ResourceType: res.ObjName(), ResourceID: res.ResourceID(), Status: status, ServiceID: &m.ServiceID})
		return err
	})
}

// Guard claims the resources that are in a cleanable status, calls fn, then releases each
// resource whose status changed. Resources still in the claimed status keep their row so a
// cleanup can find them.
func (m *Manager) Guard(ctx context.Context, resources []objects.Cleanable, fn func() error) error {
	type claim struct {
		res    objects.Cleanable
		status string
	}
	claims := []claim{}
	release := func() {
		for _, c := range claims {
			if c.res.ResourceStatus() == c.status {
				continue
			}
			if err := m.UnsetWorker(ctx, c.res, c.status); err != nil {
				m.Log.Warningf("%s %s: unset worker: %s", c.res.ObjName(), c.res.ResourceID(), err.Error())
			}
		}
	}
	for _, res := range resources {
		if res == nil || !objects.IsCleanableStatus(res.ObjName(), res.ResourceStatus()) {
			continue
		}
		if _, err := m.SetWorker(ctx, res); err != nil {
			for _, c := range claims {
				m.UnsetWorker(ctx, c.res, c.status)
			}
			return err
		}
		claims = append(claims, claim{res: res, status: res.ResourceStatus()})
	}
	defer release()
	return fn()
}

// Result summarizes a cleanup
type Result struct {
	Cleaned []*store.Worker
	Dropped []*store.Worker
	Skipped []*store.Worker
	Failed  []*store.Worker
}

// DoCleanup cleans the resources of the workers selected by req. Each worker is first
// claimed; a worker claimed concurrently by another service is skipped.
func (m *Manager) DoCleanup(ctx context.Context, req *objects.CleanupRequest) (*Result, error) {
	f := &store.WorkerFilter{ResourceType: req.ResourceType, ResourceID: req.ResourceID, Until: req.Until}
	if req.ServiceID != 0 {
		svc := req.ServiceID
		f.ServiceID = &svc
	}
	workers, err := m.Store.WorkerList(ctx, f)
	if err != nil {
		return nil, err
	}
	return m.doCleanupWorkers(ctx, workers)
}

func (m *Manager) doCleanupWorkers(ctx context.Context, workers []*store.Worker) (*Result, error) {
	res := &Result{}
	for _, w := range workers {
		if w.ServiceID != m.ServiceID {
			ok, err := m.Store.WorkerClaim(ctx, w, m.ServiceID)
			if err != nil {
				return res, err
			}
			if !ok {
				m.Log.Debugf("Worker %d claimed by another service", w.ID)
				res.Skipped = append(res.Skipped, w)
				continue
			}
		}
		m.cleanOne(ctx, w, res)
	}
	if n := len(res.Cleaned) + len(res.Dropped) + len(res.Failed); n > 0 {
		m.Log.Infof("Cleanup: %d cleaned, %d dropped, %d skipped, %d failed", len(res.Cleaned), len(res.Dropped), len(res.Skipped), len(res.Failed))
	}
	return res, nil
}

func (m *Manager) cleanOne(ctx context.Context, w *store.Worker, res *Result) {
	drop := func() {
		if _, err := m.Store.WorkerDestroy(ctx, &store.WorkerFilter{ID: w.ID, ServiceID: &m.ServiceID}); err != nil {
			m.Log.Warningf("Worker %d: destroy: %s", w.ID, err.Error())
		}
	}
	rt, ok := m.resourceType(w.ResourceType)
	if !ok {
		m.Log.Warningf("Worker %d: no cleanup handler for %s", w.ID, w.ResourceType)
		res.Failed = append(res.Failed, w)
		return
	}
	obj, err := rt.load(ctx, w.ResourceID)
	if err != nil {
		if store.IsNotFound(err) {
			drop()
			res.Dropped = append(res.Dropped, w)
			return
		}
		m.Log.Errorf("%s %s: load: %s", w.ResourceType, w.ResourceID, err.Error())
		res.Failed = append(res.Failed, w)
		return
	}
	if obj.ResourceStatus() != w.Status {
		m.Log.Debugf("%s %s: status %s no longer %s", w.ResourceType, w.ResourceID, obj.ResourceStatus(), w.Status)
		drop()
		res.Dropped = append(res.Dropped, w)
		return
	}
	m.Log.Infof("Cleaning %s %s in status %s", w.ResourceType, w.ResourceID, w.Status)
	keep, err := rt.cleanup(ctx, obj, w)
	if err != nil {
		m.Log.Errorf("%s %s: cleanup: %s", w.ResourceType, w.ResourceID, err.Error())
		res.Failed = append(res.Failed, w)
		return
	}
	if !keep {
		drop()
	}
	res.Cleaned = append(res.Cleaned, w)
}

// WorkCleanup selects the services matching req and cleans the work of this service and of
// down services in the same cluster. The remaining matching services are returned as unavailable.
func (m *Manager) WorkCleanup(ctx context.Context, req *objects.CleanupRequest) (cleaning, unavailable []*store.Service, err error) {
	svcs, err := m.Store.ServiceList(ctx, &store.ServiceFilter{ID: req.ServiceID, Host: req.Host, Binary: req.Binary, ClusterName: req.ClusterName, Disabled: req.Disabled})
	if err != nil {
		return nil, nil, err
	}
	now := nowHook()
	cleaning, unavailable = []*store.Service{}, []*store.Service{}
	for _, svc := range svcs {
		up := svc.IsUp(now, m.ServiceDownTime)
		if req.IsUp != nil && up != *req.IsUp {
			continue
		}
		switch {
		case svc.ID == m.ServiceID:
			cleaning = append(cleaning, svc)
		case !up && m.ClusterName != "" && svc.ClusterName == m.ClusterName:
			cleaning = append(cleaning, svc)
		default:
			unavailable = append(unavailable, svc)
		}
	}
	for _, svc := range cleaning {
		r := &objects.CleanupRequest{ServiceID: svc.ID, ResourceType: req.ResourceType, ResourceID: req.ResourceID, Until: req.Until}
		if _, err = m.DoCleanup(ctx, r); err != nil {
			return cleaning, unavailable, err
		}
	}
	return cleaning, unavailable, nil
}
