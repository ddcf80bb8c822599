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


package volume

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/util"
	uuid "github.com/satori/go.uuid"
)

// Status sets used by the request checks
var (
	DeletableStatuses = []string{objects.VolumeAvailable, objects.VolumeError, objects.VolumeErrorExtending, objects.VolumeErrorManaging}

	ForceDeletableStatuses = []string{objects.VolumeAvailable, objects.VolumeError, objects.VolumeErrorExtending, objects.VolumeErrorManaging,
		objects.VolumeErrorDeleting, objects.VolumeCreating, objects.VolumeDeleting, objects.VolumeMaintenance}

	ResettableStatuses = []string{objects.VolumeAvailable, objects.VolumeError, objects.VolumeInUse, objects.VolumeErrorDeleting,
		objects.VolumeErrorExtending, objects.VolumeErrorManaging, objects.VolumeMaintenance}

	ResettableAttachStatuses = []string{objects.AttachAttached, objects.AttachDetached}

	ResettableMigrationStatuses = []string{objects.MigrationNone, objects.MigrationSuccess, objects.MigrationError}
)

// CreateArgs are the arguments of CreateVolume
type CreateArgs struct {
	Name             string
	Description      string
	SizeGiB          int64
	VolumeType       string
	AvailabilityZone string
	SnapshotID       string
	SourceVolID      string
	Metadata         map[string]string
	// Host restricts the placement to "host@backend" or "host@backend#pool"
	Host string
}

// CreateVolume records a volume in the creating status and schedules it on a pool.
// The volume is returned with the identifier of the task creating it on the backend.
func (m *Manager) CreateVolume(ctx context.Context, ca *CreateArgs) (*objects.Volume, string, error) {
	if ca == nil {
		return nil, "", fmt.Errorf("missing arguments: %w", ErrInvalidArgument)
	}
	if ca.SnapshotID != "" && ca.SourceVolID != "" {
		return nil, "", fmt.Errorf("snapshot_id and source_volid are mutually exclusive: %w", ErrInvalidArgument)
	}
	size, hint := ca.SizeGiB, ca.Host
	if ca.SnapshotID != "" {
		sn, err := m.Store.SnapshotGet(ctx, ca.SnapshotID)
		if err != nil {
			return nil, "", err
		}
		if sn.Status != objects.SnapshotAvailable {
			return nil, "", statusError(objects.SnapshotObjName, sn.ID, sn.Status, []string{objects.SnapshotAvailable})
		}
		if size == 0 {
			size = sn.VolumeSize
		}
		if size < sn.VolumeSize {
			return nil, "", fmt.Errorf("size %d is smaller than the snapshot size %d: %w", size, sn.VolumeSize, ErrInvalidArgument)
		}
		src, err := m.Store.VolumeGet(ctx, sn.VolumeID)
		if err != nil {
			return nil, "", err
		}
		hint = src.Host
	}
	if ca.SourceVolID != "" {
		src, err := m.Store.VolumeGet(ctx, ca.SourceVolID)
		if err != nil {
			return nil, "", err
		}
		expected := []string{objects.VolumeAvailable, objects.VolumeInUse}
		if !util.Contains(expected, src.Status) {
			return nil, "", statusError(objects.VolumeObjName, src.ID, src.Status, expected)
		}
		if size == 0 {
			size = src.Size
		}
		if size < src.Size {
			return nil, "", fmt.Errorf("size %d is smaller than the source volume size %d: %w", size, src.Size, ErrInvalidArgument)
		}
		hint = src.Host
	}
	if size <= 0 {
		return nil, "", fmt.Errorf("invalid size %d: %w", size, ErrInvalidArgument)
	}
	v := &objects.Volume{
		ID:               uuid.NewV4().String(),
		Name:             ca.Name,
		Description:      ca.Description,
		Size:             size,
		Status:           objects.VolumeCreating,
		AttachStatus:     objects.AttachDetached,
		AvailabilityZone: ca.AvailabilityZone,
		VolumeType:       ca.VolumeType,
		SnapshotID:       ca.SnapshotID,
		SourceVolID:      ca.SourceVolID,
		Metadata:         ca.Metadata,
		AdminMetadata:    map[string]string{},
		ClusterName:      m.ClusterName,
	}
	if v.Metadata == nil {
		v.Metadata = map[string]string{}
	}
	if svc := m.Service(); svc != nil {
		v.ServiceUUID = svc.UUID
	}
	if err := m.Store.VolumeCreate(ctx, v); err != nil {
		return nil, "", err
	}
	m.createWorker(ctx, v)
	m.volumeEvent(v, "create", notify.PhaseStart)
	taskID, err := m.runTask(OpCreateVolume, v.ID, map[string]string{"host": hint})
	if err != nil {
		v.SetStatus(objects.VolumeError)
		m.saveLogged(ctx, v)
		return nil, "", err
	}
	return v, taskID, nil
}

func (m *Manager) execCreateVolume(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != objects.VolumeCreating {
		return statusError(objects.VolumeObjName, v.ID, v.Status, []string{objects.VolumeCreating})
	}
	return m.guard(ctx, func() error { return m.createVolume(ctx, ops, v, params["host"]) }, v)
}

func (m *Manager) createVolume(ctx context.Context, ops tasks.TaskOps, v *objects.Volume, hint string) error {
	fail := func(err error) error {
		v.SetStatus(objects.VolumeError)
		m.saveLogged(ctx, v)
		m.volumeEvent(v, "create", notify.PhaseError)
		return err
	}
	if ops.IsCanceled() {
		return fail(fmt.Errorf("volume %s: create canceled", v.ID))
	}
	p, err := m.schedule(v.Size, hint)
	if err != nil {
		return fail(fmt.Errorf("volume %s: %w", v.ID, err))
	}
	drv, err := p.b.ready()
	if err != nil {
		return fail(err)
	}
	v.SetHost(p.host(m))
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return fail(err)
	}
	ops.SetProgress(10, "scheduled on "+v.Host)
	spec := driver.SpecFromVolume(v, nil)
	var mu *driver.ModelUpdate
	switch {
	case v.SnapshotID != "":
		mu, err = m.createFromSnapshot(ctx, drv, spec, v.SnapshotID)
	case v.SourceVolID != "":
		mu, err = m.createClone(ctx, drv, spec, v.SourceVolID)
	default:
		mu, err = drv.CreateVolume(ctx, spec)
	}
	if err != nil {
		return fail(driver.WithBackend(err, p.b.name))
	}
	mu.ApplyToVolume(v)
	v.SetStatus(objects.VolumeAvailable)
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return err
	}
	ops.SetProgress(100, "created")
	m.Log.Infof("Volume %s: created on %s (%d GiB)", v.ID, v.Host, v.Size)
	m.volumeEvent(v, "create", notify.PhaseEnd)
	return nil
}

func (m *Manager) createFromSnapshot(ctx context.Context, drv driver.Driver, spec *driver.VolumeSpec, snapID string) (*driver.ModelUpdate, error) {
	snapper, ok := drv.(driver.Snapshotter)
	if !ok {
		return nil, driver.NewError(driver.CodeNotSupported, "create volume from snapshot", "snapshots are not supported")
	}
	sn, err := m.Store.SnapshotGet(ctx, snapID)
	if err != nil {
		return nil, err
	}
	src, err := m.Store.VolumeGet(ctx, sn.VolumeID)
	if err != nil {
		return nil, err
	}
	return snapper.CreateVolumeFromSnapshot(ctx, spec, driver.SpecFromSnapshot(sn, driver.SpecFromVolume(src, nil)))
}

func (m *Manager) createClone(ctx context.Context, drv driver.Driver, spec *driver.VolumeSpec, srcID string) (*driver.ModelUpdate, error) {
	cloner, ok := drv.(driver.Cloner)
	if !ok {
		return nil, driver.NewError(driver.CodeNotSupported, "clone volume", "cloning is not supported")
	}
	src, err := m.Store.VolumeGet(ctx, srcID)
	if err != nil {
		return nil, err
	}
	return cloner.CreateClonedVolume(ctx, spec, driver.SpecFromVolume(src, nil))
}

// DeleteVolume moves a volume without snapshots or attachments to the deleting status
// and starts the task removing it from the backend. With force the volume may be in any
// status except attached or migrating.
func (m *Manager) DeleteVolume(ctx context.Context, id string, force bool) (string, error) {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return "", err
	}
	expected := DeletableStatuses
	if force {
		expected = ForceDeletableStatuses
	}
	if util.Contains(store.MigratingStatuses, v.MigrationStatus) {
		return "", fmt.Errorf("volume %s is migrating: %w", id, ErrInvalidStatus)
	}
	if !util.Contains(expected, v.Status) {
		return "", statusError(objects.VolumeObjName, id, v.Status, expected)
	}
	v.SetStatus(objects.VolumeDeleting)
	ok, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: expected, NoSnapshots: true, NoAttachments: true, NotMigrating: true})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("volume %s must be in one of %v with no snapshots, attachments or migration: %w", id, expected, ErrInvalidStatus)
	}
	m.createWorker(ctx, v)
	m.volumeEvent(v, "delete", notify.PhaseStart)
	return m.runTask(OpDeleteVolume, id, nil)
}

func (m *Manager) execDeleteVolume(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if v.Status != objects.VolumeDeleting {
		return statusError(objects.VolumeObjName, v.ID, v.Status, []string{objects.VolumeDeleting})
	}
	return m.guard(ctx, func() error { return m.deleteVolume(ctx, v) }, v)
}

// deleteVolume removes the volume from its backend and then from the store.
// A backend that reports the volume busy returns it to available.
func (m *Manager) deleteVolume(ctx context.Context, v *objects.Volume) error {
	if v.Host != "" {
		err := m.onBackend(v, func(b *backend, drv driver.Driver) error {
			return drv.DeleteVolume(ctx, driver.SpecFromVolume(v, nil))
		})
		if err != nil {
			if errors.Is(err, driver.ErrBusy) {
				v.SetStatus(objects.VolumeAvailable)
			} else {
				v.SetStatus(objects.VolumeErrorDeleting)
			}
			m.saveLogged(ctx, v)
			m.volumeEvent(v, "delete", notify.PhaseError)
			return err
		}
	}
	if err := m.Store.VolumeDestroy(ctx, v.ID); err != nil {
		return err
	}
	v.SetStatus(objects.VolumeDeleted)
	m.Log.Infof("Volume %s: deleted", v.ID)
	m.volumeEvent(v, "delete", notify.PhaseEnd)
	return nil
}

// onBackend calls fn with the backend of the volume if it is ready
func (m *Manager) onBackend(v *objects.Volume, fn func(b *backend, drv driver.Driver) error) error {
	b, err := m.backendOf(v)
	if err != nil {
		return err
	}
	drv, err := b.ready()
	if err != nil {
		return err
	}
	return driver.WithBackend(fn(b, drv), b.name)
}

// poolInfo returns the pool of a host, or nil if its stats are not known
func (m *Manager) poolInfo(host string) *PoolInfo {
	for _, pi := range m.Pools() {
		if pi.Host == host {
			return pi
		}
	}
	return nil
}

// ExtendVolume grows an available volume to newSizeGiB
func (m *Manager) ExtendVolume(ctx context.Context, id string, newSizeGiB int64) (string, error) {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return "", err
	}
	if newSizeGiB <= v.Size {
		return "", fmt.Errorf("new size %d must be greater than the current size %d: %w", newSizeGiB, v.Size, ErrInvalidArgument)
	}
	if err = m.requireCapability(v, func(c driver.Capabilities) bool { return c.Extend }, "extend"); err != nil {
		return "", err
	}
	expected := []string{objects.VolumeAvailable}
	v.SetStatus(objects.VolumeExtending)
	ok, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: expected})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("volume %s must be in one of %v: %w", id, expected, ErrInvalidStatus)
	}
	m.volumeEvent(v, "resize", notify.PhaseStart)
	return m.runTask(OpExtendVolume, id, map[string]string{"new_size": strconv.FormatInt(newSizeGiB, 10)})
}

// requireCapability fails with driver.ErrNotSupported unless the backend of the volume has the capability
func (m *Manager) requireCapability(v *objects.Volume, has func(driver.Capabilities) bool, op string) error {
	return m.onBackend(v, func(b *backend, drv driver.Driver) error {
		if !has(driver.CapabilitiesOf(drv)) {
			return fmt.Errorf("volume %s: %s: %w", v.ID, op, driver.ErrNotSupported)
		}
		return nil
	})
}

func (m *Manager) execExtendVolume(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	newSize, err := strconv.ParseInt(params["new_size"], 10, 64)
	if err != nil {
		return fmt.Errorf("new_size: %w", ErrInvalidArgument)
	}
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != objects.VolumeExtending {
		return statusError(objects.VolumeObjName, v.ID, v.Status, []string{objects.VolumeExtending})
	}
	return m.guard(ctx, func() error { return m.extendVolume(ctx, v, newSize) }, v)
}

func (m *Manager) extendVolume(ctx context.Context, v *objects.Volume, newSize int64) error {
	delta := newSize - v.Size
	err := m.onBackend(v, func(b *backend, drv driver.Driver) error {
		ext, ok := drv.(driver.Extender)
		if !ok {
			return driver.NewError(driver.CodeNotSupported, "extend volume", "extend is not supported")
		}
		if pi := m.poolInfo(v.Host); pi != nil {
			if pi.FreeGiB < float64(delta) {
				return fmt.Errorf("pool %s has %.1f GiB available, %d GiB needed: %w", v.Host, pi.FreeGiB, delta, ErrNoValidBackend)
			}
			b.allocate(pi.Stats.Name, float64(delta))
		}
		return ext.ExtendVolume(ctx, driver.SpecFromVolume(v, nil), newSize)
	})
	if err != nil {
		v.SetStatus(objects.VolumeErrorExtending)
		m.saveLogged(ctx, v)
		m.volumeEvent(v, "resize", notify.PhaseError)
		return err
	}
	v.SetSize(newSize)
	v.SetStatus(objects.VolumeAvailable)
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return err
	}
	m.Log.Infof("Volume %s: extended to %d GiB", v.ID, newSize)
	m.volumeEvent(v, "resize", notify.PhaseEnd)
	return nil
}

// ResetStatus overrides the status values of a volume. Empty values are not changed.
func (m *Manager) ResetStatus(ctx context.Context, id, status, attachStatus, migrationStatus string) (*objects.Volume, error) {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if status != "" {
		if !util.Contains(ResettableStatuses, status) {
			return nil, fmt.Errorf("status %q: %w", status, ErrInvalidArgument)
		}
		v.SetStatus(status)
	}
	if attachStatus != "" {
		if !util.Contains(ResettableAttachStatuses, attachStatus) {
			return nil, fmt.Errorf("attach_status %q: %w", attachStatus, ErrInvalidArgument)
		}
		v.SetAttachStatus(attachStatus)
	}
	if migrationStatus != "" {
		if migrationStatus == "none" {
			migrationStatus = objects.MigrationNone
		} else if !util.Contains(ResettableMigrationStatuses, migrationStatus) {
			return nil, fmt.Errorf("migration_status %q: %w", migrationStatus, ErrInvalidArgument)
		}
		v.SetMigrationStatus(migrationStatus)
	}
	if len(v.Changes()) == 0 {
		return nil, fmt.Errorf("nothing to reset: %w", ErrInvalidArgument)
	}
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return nil, err
	}
	m.Log.Warningf("Volume %s: status reset to %s/%s/%q", v.ID, v.Status, v.AttachStatus, v.MigrationStatus)
	m.volumeEvent(v, "reset_status", notify.PhaseEnd)
	return v, nil
}
