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

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/util"
	uuid "github.com/satori/go.uuid"
)

// DeletableSnapshotStatuses are the statuses from which a snapshot may be deleted
var DeletableSnapshotStatuses = []string{objects.SnapshotAvailable, objects.SnapshotError, objects.SnapshotErrorDeleting}

// SnapshotArgs are the arguments of CreateSnapshot
type SnapshotArgs struct {
	VolumeID    string
	Name        string
	Description string
	Metadata    map[string]string
	// Force allows a snapshot of an attached volume
	Force bool
}

// CreateSnapshot records a snapshot in the creating status and starts the task creating it on the backend
func (m *Manager) CreateSnapshot(ctx context.Context, sa *SnapshotArgs) (*objects.Snapshot, string, error) {
	if sa == nil || sa.VolumeID == "" {
		return nil, "", fmt.Errorf("volume_id is required: %w", ErrInvalidArgument)
	}
	v, err := m.Store.VolumeGet(ctx, sa.VolumeID)
	if err != nil {
		return nil, "", err
	}
	expected := []string{objects.VolumeAvailable}
	if sa.Force {
		expected = append(expected, objects.VolumeInUse)
	}
	if !util.Contains(expected, v.Status) {
		return nil, "", statusError(objects.VolumeObjName, v.ID, v.Status, expected)
	}
	if err = m.requireCapability(v, func(c driver.Capabilities) bool { return c.Snapshot }, "snapshot"); err != nil {
		return nil, "", err
	}
	sn := &objects.Snapshot{
		ID:          uuid.NewV4().String(),
		VolumeID:    v.ID,
		Name:        sa.Name,
		Description: sa.Description,
		Status:      objects.SnapshotCreating,
		Progress:    "0%",
		VolumeSize:  v.Size,
		Metadata:    sa.Metadata,
		UseQuota:    true,
	}
	if sn.Metadata == nil {
		sn.Metadata = map[string]string{}
	}
	if err = m.Store.SnapshotCreate(ctx, sn); err != nil {
		return nil, "", err
	}
	m.createWorker(ctx, sn)
	m.snapshotEvent(sn, "create", notify.PhaseStart)
	taskID, err := m.runTask(OpCreateSnapshot, sn.ID, nil)
	if err != nil {
		sn.SetStatus(objects.SnapshotError)
		m.saveSnapshotLogged(ctx, sn)
		return nil, "", err
	}
	return sn, taskID, nil
}

func (m *Manager) execCreateSnapshot(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	sn, err := m.Store.SnapshotGet(ctx, id)
	if err != nil {
		return err
	}
	if sn.Status != objects.SnapshotCreating {
		return statusError(objects.SnapshotObjName, sn.ID, sn.Status, []string{objects.SnapshotCreating})
	}
	return m.guard(ctx, func() error { return m.createSnapshot(ctx, sn) }, sn)
}

func (m *Manager) createSnapshot(ctx context.Context, sn *objects.Snapshot) error {
	var mu *driver.ModelUpdate
	err := m.onSnapshotBackend(ctx, sn, func(snapper driver.Snapshotter, spec *driver.SnapshotSpec) error {
		var err error
		mu, err = snapper.CreateSnapshot(ctx, spec)
		return err
	})
	if err != nil {
		sn.SetStatus(objects.SnapshotError)
		m.saveSnapshotLogged(ctx, sn)
		m.snapshotEvent(sn, "create", notify.PhaseError)
		return err
	}
	mu.ApplyToSnapshot(sn)
	sn.SetStatus(objects.SnapshotAvailable)
	sn.SetProgress("100%")
	if err = m.Store.SnapshotSave(ctx, sn); err != nil {
		return err
	}
	m.Log.Infof("Snapshot %s of volume %s: created", sn.ID, sn.VolumeID)
	m.snapshotEvent(sn, "create", notify.PhaseEnd)
	return nil
}

// onSnapshotBackend calls fn with the driver of the snapshot source volume
func (m *Manager) onSnapshotBackend(ctx context.Context, sn *objects.Snapshot, fn func(driver.Snapshotter, *driver.SnapshotSpec) error) error {
	v, err := m.Store.VolumeGet(ctx, sn.VolumeID)
	if err != nil {
		return err
	}
	return m.onBackend(v, func(b *backend, drv driver.Driver) error {
		snapper, ok := drv.(driver.Snapshotter)
		if !ok {
			return driver.NewError(driver.CodeNotSupported, "snapshot", "snapshots are not supported")
		}
		return fn(snapper, driver.SpecFromSnapshot(sn, driver.SpecFromVolume(v, nil)))
	})
}

// DeleteSnapshot moves a snapshot to the deleting status and starts the task removing it from the backend
func (m *Manager) DeleteSnapshot(ctx context.Context, id string) (string, error) {
	sn, err := m.Store.SnapshotGet(ctx, id)
	if err != nil {
		return "", err
	}
	if !util.Contains(DeletableSnapshotStatuses, sn.Status) {
		return "", statusError(objects.SnapshotObjName, id, sn.Status, DeletableSnapshotStatuses)
	}
	sn.SetStatus(objects.SnapshotDeleting)
	ok, err := m.Store.SnapshotConditionalSave(ctx, sn, DeletableSnapshotStatuses)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("snapshot %s must be in one of %v: %w", id, DeletableSnapshotStatuses, ErrInvalidStatus)
	}
	m.createWorker(ctx, sn)
	m.snapshotEvent(sn, "delete", notify.PhaseStart)
	return m.runTask(OpDeleteSnapshot, id, nil)
}

func (m *Manager) execDeleteSnapshot(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	sn, err := m.Store.SnapshotGet(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if sn.Status != objects.SnapshotDeleting {
		return statusError(objects.SnapshotObjName, sn.ID, sn.Status, []string{objects.SnapshotDeleting})
	}
	return m.guard(ctx, func() error { return m.deleteSnapshot(ctx, sn) }, sn)
}

// deleteSnapshot removes the snapshot from the backend and then from the store.
// A backend that reports the snapshot busy returns it to available.
func (m *Manager) deleteSnapshot(ctx context.Context, sn *objects.Snapshot) error {
	err := m.onSnapshotBackend(ctx, sn, func(snapper driver.Snapshotter, spec *driver.SnapshotSpec) error {
		return snapper.DeleteSnapshot(ctx, spec)
	})
	if err != nil {
		if errors.Is(err, driver.ErrBusy) {
			sn.SetStatus(objects.SnapshotAvailable)
		} else {
			sn.SetStatus(objects.SnapshotErrorDeleting)
		}
		m.saveSnapshotLogged(ctx, sn)
		m.snapshotEvent(sn, "delete", notify.PhaseError)
		return err
	}
	if err = m.Store.SnapshotDestroy(ctx, sn.ID); err != nil {
		return err
	}
	sn.SetStatus(objects.SnapshotDeleted)
	m.Log.Infof("Snapshot %s: deleted", sn.ID)
	m.snapshotEvent(sn, "delete", notify.PhaseEnd)
	return nil
}

// ResetSnapshotStatus overrides the status of a snapshot
func (m *Manager) ResetSnapshotStatus(ctx context.Context, id, status string) (*objects.Snapshot, error) {
	if !util.Contains(DeletableSnapshotStatuses, status) {
		return nil, fmt.Errorf("status %q: %w", status, ErrInvalidArgument)
	}
	sn, err := m.Store.SnapshotGet(ctx, id)
	if err != nil {
		return nil, err
	}
	sn.SetStatus(status)
	if err = m.Store.SnapshotSave(ctx, sn); err != nil {
		return nil, err
	}
	m.Log.Warningf("Snapshot %s: status reset to %s", sn.ID, status)
	m.snapshotEvent(sn, "reset_status", notify.PhaseEnd)
	return sn, nil
}
