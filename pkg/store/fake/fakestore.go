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


// Package fake provides an in-memory store.Store for unit tests
package fake

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/util"
	uuid "github.com/satori/go.uuid"
)

// Store is an in-memory store. Set an entry in Errors, keyed by method name, to make that method fail.
type Store struct {
	Now    func() time.Time
	Errors map[string]error
	Calls  map[string]int

	mux         sync.Mutex
	volumes     map[string]*objects.Volume
	snapshots   map[string]*objects.Snapshot
	attachments map[string]*store.Attachment
	services    map[int64]*store.Service
	workers     map[int64]*store.Worker
	lastID      int64
}

var _ = store.Store(&Store{})

// New returns an empty store
func New() *Store {
	return &Store{
		Errors:      map[string]error{},
		volumes:     map[string]*objects.Volume{},
		snapshots:   map[string]*objects.Snapshot{},
		attachments: map[string]*store.Attachment{},
		services:    map[int64]*store.Service{},
		workers:     map[int64]*store.Worker{},
		Calls:       map[string]int{},
	}
}

// call must be made with the lock held
func (s *Store) call(name string) error {
	s.Calls[name]++
	return s.Errors[name]
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

func hostMatch(host, prefix string) bool {
	return host == prefix || strings.HasPrefix(host, prefix+"#")
}

// VolumeCreate inserts a volume
func (s *Store) VolumeCreate(ctx context.Context, v *objects.Volume) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("VolumeCreate"); err != nil {
		return err
	}
	if _, ok := s.volumes[v.ID]; ok {
		return fmt.Errorf("volume create: %w", store.ErrExists)
	}
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	c := &objects.Volume{}
	objects.Copy(c, v)
	s.volumes[v.ID] = c
	v.ResetChanges()
	return nil
}

// VolumeGet loads a volume
func (s *Store) VolumeGet(ctx context.Context, id string) (*objects.Volume, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("VolumeGet"); err != nil {
		return nil, err
	}
	v, ok := s.volumes[id]
	if !ok || v.Deleted {
		return nil, fmt.Errorf("volume %s: %w", id, store.ErrNotFound)
	}
	c := &objects.Volume{}
	objects.Copy(c, v)
	return c, nil
}

// VolumeList returns matching volumes ordered by creation time
func (s *Store) VolumeList(ctx context.Context, f *store.VolumeFilter) ([]*objects.Volume, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("VolumeList"); err != nil {
		return nil, err
	}
	if f == nil {
		f = &store.VolumeFilter{}
	}
	res := []*objects.Volume{}
	for _, v := range s.volumes {
		if v.Deleted ||
			(f.Host != "" && !hostMatch(v.Host, f.Host)) ||
			(len(f.Status) > 0 && !util.Contains(f.Status, v.Status)) ||
			(f.Name != "" && v.Name != f.Name) ||
			(f.ClusterName != "" && v.ClusterName != f.ClusterName) {
			continue
		}
		c := &objects.Volume{}
		objects.Copy(c, v)
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

// VolumeSave writes the changed fields
func (s *Store) VolumeSave(ctx context.Context, v *objects.Volume) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("VolumeSave"); err != nil {
		return err
	}
	if !s.volumeUpdate(v, nil) {
		return fmt.Errorf("volume %s: %w", v.ID, store.ErrNotFound)
	}
	return nil
}

// VolumeConditionalSave writes the changed fields if the stored volume satisfies exp
func (s *Store) VolumeConditionalSave(ctx context.Context, v *objects.Volume, exp *store.Expect) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("VolumeConditionalSave"); err != nil {
		return false, err
	}
	return s.volumeUpdate(v, exp), nil
}

func (s *Store) volumeUpdate(v *objects.Volume, exp *store.Expect) bool {
	cur, ok := s.volumes[v.ID]
	if !ok || cur.Deleted {
		return false
	}
	if exp != nil {
		if len(exp.Status) > 0 && !util.Contains(exp.Status, cur.Status) {
			return false
		}
		if len(exp.AttachStatus) > 0 && !util.Contains(exp.AttachStatus, cur.AttachStatus) {
			return false
		}
		if exp.NoSnapshots {
			for _, sn := range s.snapshots {
				if sn.VolumeID == v.ID && !sn.Deleted {
					return false
				}
			}
		}
		if exp.NoAttachments && len(s.liveAttachments(v.ID)) > 0 {
			return false
		}
		if exp.NotMigrating && util.Contains(store.MigratingStatuses, cur.MigrationStatus) {
			return false
		}
	}
	applyChanges(cur, v)
	now := s.now()
	cur.UpdatedAt = now
	v.UpdatedAt = now
	v.ResetChanges()
	return true
}

func applyChanges(dst, src objects.Object) {
	for _, f := range src.Changes() {
		switch f {
		case "id", "created_at", "updated_at":
			continue
		}
		val, _ := objects.Get(src, f)
		objects.Set(dst, f, val)
	}
	dst.ResetChanges()
}

// VolumeDestroy soft deletes a volume
func (s *Store) VolumeDestroy(ctx context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("VolumeDestroy"); err != nil {
		return err
	}
	v, ok := s.volumes[id]
	if !ok || v.Deleted {
		return fmt.Errorf("volume %s: %w", id, store.ErrNotFound)
	}
	now := s.now()
	v.Deleted = true
	v.DeletedAt = &now
	v.UpdatedAt = now
	v.Status = objects.VolumeDeleted
	v.AttachStatus = objects.AttachDetached
	return nil
}

// SnapshotCreate inserts a snapshot
func (s *Store) SnapshotCreate(ctx context.Context, sn *objects.Snapshot) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotCreate"); err != nil {
		return err
	}
	if _, ok := s.snapshots[sn.ID]; ok {
		return fmt.Errorf("snapshot create: %w", store.ErrExists)
	}
	now := s.now()
	sn.CreatedAt, sn.UpdatedAt = now, now
	c := &objects.Snapshot{}
	objects.Copy(c, sn)
	s.snapshots[sn.ID] = c
	sn.ResetChanges()
	return nil
}

// SnapshotGet loads a snapshot
func (s *Store) SnapshotGet(ctx context.Context, id string) (*objects.Snapshot, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotGet"); err != nil {
		return nil, err
	}
	sn, ok := s.snapshots[id]
	if !ok || sn.Deleted {
		return nil, fmt.Errorf("snapshot %s: %w", id, store.ErrNotFound)
	}
	c := &objects.Snapshot{}
	objects.Copy(c, sn)
	return c, nil
}

// SnapshotList returns the matching snapshots
func (s *Store) SnapshotList(ctx context.Context, f *store.SnapshotFilter) ([]*objects.Snapshot, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotList"); err != nil {
		return nil, err
	}
	if f == nil {
		f = &store.SnapshotFilter{}
	}
	res := []*objects.Snapshot{}
	for _, sn := range s.snapshots {
		if sn.Deleted ||
			(f.VolumeID != "" && sn.VolumeID != f.VolumeID) ||
			(len(f.Status) > 0 && !util.Contains(f.Status, sn.Status)) {
			continue
		}
		if f.Host != "" {
			v, ok := s.volumes[sn.VolumeID]
			if !ok || !hostMatch(v.Host, f.Host) {
				continue
			}
		}
		c := &objects.Snapshot{}
		objects.Copy(c, sn)
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// SnapshotSave writes the changed fields
func (s *Store) SnapshotSave(ctx context.Context, sn *objects.Snapshot) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotSave"); err != nil {
		return err
	}
	if !s.snapshotUpdate(sn, nil) {
		return fmt.Errorf("snapshot %s: %w", sn.ID, store.ErrNotFound)
	}
	return nil
}

// SnapshotConditionalSave writes the changed fields if the stored status is in status
func (s *Store) SnapshotConditionalSave(ctx context.Context, sn *objects.Snapshot, status []string) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotConditionalSave"); err != nil {
		return false, err
	}
	return s.snapshotUpdate(sn, status), nil
}

func (s *Store) snapshotUpdate(sn *objects.Snapshot, status []string) bool {
	cur, ok := s.snapshots[sn.ID]
	if !ok || cur.Deleted || (len(status) > 0 && !util.Contains(status, cur.Status)) {
		return false
	}
	applyChanges(cur, sn)
	now := s.now()
	cur.UpdatedAt = now
	sn.UpdatedAt = now
	sn.ResetChanges()
	return true
}

// SnapshotDestroy soft deletes a snapshot
func (s *Store) SnapshotDestroy(ctx context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotDestroy"); err != nil {
		return err
	}
	sn, ok := s.snapshots[id]
	if !ok || sn.Deleted {
		return fmt.Errorf("snapshot %s: %w", id, store.ErrNotFound)
	}
	now := s.now()
	sn.Deleted = true
	sn.DeletedAt = &now
	sn.UpdatedAt = now
	sn.Status = objects.SnapshotDeleted
	return nil
}

// SnapshotCountByVolume counts the live snapshots of a volume
func (s *Store) SnapshotCountByVolume(ctx context.Context, volumeID string) (int, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("SnapshotCountByVolume"); err != nil {
		return 0, err
	}
	n := 0
	for _, sn := range s.snapshots {
		if sn.VolumeID == volumeID && !sn.Deleted {
			n++
		}
	}
	return n, nil
}

func (s *Store) liveAttachments(volumeID string) []*store.Attachment {
	res := []*store.Attachment{}
	for _, at := range s.attachments {
		if at.VolumeID == volumeID {
			res = append(res, at)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AttachmentCreate inserts an attachment
func (s *Store) AttachmentCreate(ctx context.Context, at *store.Attachment) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("AttachmentCreate"); err != nil {
		return err
	}
	if _, ok := s.attachments[at.ID]; ok {
		return fmt.Errorf("attachment create: %w", store.ErrExists)
	}
	now := s.now()
	at.CreatedAt, at.UpdatedAt = now, now
	c := *at
	s.attachments[at.ID] = &c
	return nil
}

// AttachmentList returns the attachments of a volume
func (s *Store) AttachmentList(ctx context.Context, volumeID string) ([]*store.Attachment, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("AttachmentList"); err != nil {
		return nil, err
	}
	res := []*store.Attachment{}
	for _, at := range s.liveAttachments(volumeID) {
		c := *at
		res = append(res, &c)
	}
	return res, nil
}

// AttachmentDelete removes an attachment
func (s *Store) AttachmentDelete(ctx context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("AttachmentDelete"); err != nil {
		return err
	}
	if _, ok := s.attachments[id]; !ok {
		return fmt.Errorf("attachment %s: %w", id, store.ErrNotFound)
	}
	delete(s.attachments, id)
	return nil
}

// ServiceCreateOrGet returns the service for host and binary
func (s *Store) ServiceCreateOrGet(ctx context.Context, host, binary, cluster, objVersion string) (*store.Service, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("ServiceCreateOrGet"); err != nil {
		return nil, err
	}
	now := s.now()
	for _, svc := range s.services {
		if svc.Host == host && svc.Binary == binary {
			svc.ClusterName = cluster
			svc.ObjectVersion = objVersion
			svc.UpdatedAt = now
			c := *svc
			return &c, nil
		}
	}
	svc := &store.Service{
		ID:            s.nextID(),
		UUID:          uuid.NewV4().String(),
		Host:          host,
		Binary:        binary,
		ClusterName:   cluster,
		ObjectVersion: objVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.services[svc.ID] = svc
	c := *svc
	return &c, nil
}

// AddService inserts a service row directly
func (s *Store) AddService(svc *store.Service) *store.Service {
	s.mux.Lock()
	defer s.mux.Unlock()
	if svc.ID == 0 {
		svc.ID = s.nextID()
	} else if svc.ID > s.lastID {
		s.lastID = svc.ID
	}
	c := *svc
	s.services[svc.ID] = &c
	return svc
}

// ServiceGet loads a service
func (s *Store) ServiceGet(ctx context.Context, id int64) (*store.Service, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("ServiceGet"); err != nil {
		return nil, err
	}
	svc, ok := s.services[id]
	if !ok {
		return nil, fmt.Errorf("service %d: %w", id, store.ErrNotFound)
	}
	c := *svc
	return &c, nil
}

// ServiceList returns matching services ordered by id
func (s *Store) ServiceList(ctx context.Context, f *store.ServiceFilter) ([]*store.Service, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("ServiceList"); err != nil {
		return nil, err
	}
	if f == nil {
		f = &store.ServiceFilter{}
	}
	res := []*store.Service{}
	for _, svc := range s.services {
		if (f.ID != 0 && svc.ID != f.ID) ||
			(f.Host != "" && svc.Host != f.Host) ||
			(f.Binary != "" && svc.Binary != f.Binary) ||
			(f.ClusterName != "" && svc.ClusterName != f.ClusterName) ||
			(f.Disabled != nil && svc.Disabled != *f.Disabled) {
			continue
		}
		c := *svc
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// ServiceHeartbeat refreshes a service
func (s *Store) ServiceHeartbeat(ctx context.Context, id int64) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("ServiceHeartbeat"); err != nil {
		return err
	}
	svc, ok := s.services[id]
	if !ok {
		return fmt.Errorf("service %d: %w", id, store.ErrNotFound)
	}
	svc.UpdatedAt = s.now()
	svc.ReportCount++
	return nil
}

// ServiceSetDisabled enables or disables a service
func (s *Store) ServiceSetDisabled(ctx context.Context, id int64, disabled bool, reason string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("ServiceSetDisabled"); err != nil {
		return err
	}
	svc, ok := s.services[id]
	if !ok {
		return fmt.Errorf("service %d: %w", id, store.ErrNotFound)
	}
	svc.Disabled, svc.DisabledReason = disabled, reason
	return nil
}

func workerMatch(w *store.Worker, f *store.WorkerFilter) bool {
	if f == nil {
		return true
	}
	return (f.ID == 0 || w.ID == f.ID) &&
		(f.ResourceType == "" || w.ResourceType == f.ResourceType) &&
		(f.ResourceID == "" || w.ResourceID == f.ResourceID) &&
		(f.Status == "" || w.Status == f.Status) &&
		(f.ServiceID == nil || w.ServiceID == *f.ServiceID) &&
		(f.RacePreventer == nil || w.RacePreventer == *f.RacePreventer) &&
		(f.Until == nil || !w.UpdatedAt.After(*f.Until))
}

func (s *Store) matchingWorkers(f *store.WorkerFilter) []*store.Worker {
	res := []*store.Worker{}
	for _, w := range s.workers {
		if workerMatch(w, f) {
			res = append(res, w)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].UpdatedAt.Before(res[j].UpdatedAt)
	})
	return res
}

// WorkerCreate inserts a worker row
func (s *Store) WorkerCreate(ctx context.Context, w *store.Worker) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("WorkerCreate"); err != nil {
		return err
	}
	for _, o := range s.workers {
		if o.ResourceType == w.ResourceType && o.ResourceID == w.ResourceID {
			return fmt.Errorf("worker create: %w", store.ErrExists)
		}
	}
	now := s.now()
	w.ID = s.nextID()
	w.RacePreventer = 0
	w.CreatedAt, w.UpdatedAt = now, now
	c := *w
	s.workers[w.ID] = &c
	return nil
}

// WorkerGet returns the first matching worker
func (s *Store) WorkerGet(ctx context.Context, f *store.WorkerFilter) (*store.Worker, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("WorkerGet"); err != nil {
		return nil, err
	}
	list := s.matchingWorkers(f)
	if len(list) == 0 {
		return nil, fmt.Errorf("worker get: %w", store.ErrNotFound)
	}
	c := *list[0]
	return &c, nil
}

// WorkerList returns matching workers, oldest first
func (s *Store) WorkerList(ctx context.Context, f *store.WorkerFilter) ([]*store.Worker, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("WorkerList"); err != nil {
		return nil, err
	}
	res := []*store.Worker{}
	for _, w := range s.matchingWorkers(f) {
		c := *w
		res = append(res, &c)
	}
	return res, nil
}

// WorkerUpdate changes the worker row of w if it matches f
func (s *Store) WorkerUpdate(ctx context.Context, w *store.Worker, vals *store.WorkerValues, f *store.WorkerFilter) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("WorkerUpdate"); err != nil {
		return err
	}
	return s.workerUpdate(w, vals, f)
}

func (s *Store) workerUpdate(w *store.Worker, vals *store.WorkerValues, f *store.WorkerFilter) error {
	cur, ok := s.workers[w.ID]
	if !ok || !workerMatch(cur, f) {
		return fmt.Errorf("worker %d: %w", w.ID, store.ErrNotFound)
	}
	cur.RacePreventer++
	cur.UpdatedAt = s.now()
	if vals != nil && vals.Status != nil {
		cur.Status = *vals.Status
	}
	if vals != nil && vals.ServiceID != nil {
		cur.ServiceID = *vals.ServiceID
	}
	w.RacePreventer, w.UpdatedAt, w.Status, w.ServiceID = cur.RacePreventer, cur.UpdatedAt, cur.Status, cur.ServiceID
	return nil
}

// WorkerClaim transfers w to serviceID if the row was not changed since w was read
func (s *Store) WorkerClaim(ctx context.Context, w *store.Worker, serviceID int64) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("WorkerClaim"); err != nil {
		return false, err
	}
	rp := w.RacePreventer
	if err := s.workerUpdate(w, &store.WorkerValues{ServiceID: &serviceID}, &store.WorkerFilter{RacePreventer: &rp}); err != nil {
		return false, nil
	}
	return true, nil
}

// WorkerDestroy deletes matching workers
func (s *Store) WorkerDestroy(ctx context.Context, f *store.WorkerFilter) (int64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if err := s.call("WorkerDestroy"); err != nil {
		return 0, err
	}
	var n int64
	for _, w := range s.matchingWorkers(f) {
		delete(s.workers, w.ID)
		n++
	}
	return n, nil
}

// Workers returns a snapshot of all worker rows
func (s *Store) Workers() []*store.Worker {
	s.mux.Lock()
	defer s.mux.Unlock()
	res := []*store.Worker{}
	for _, w := range s.matchingWorkers(nil) {
		c := *w
		res = append(res, &c)
	}
	return res
}
