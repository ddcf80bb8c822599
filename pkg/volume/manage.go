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
	"fmt"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/util"
	uuid "github.com/satori/go.uuid"
)

// MigrateVolume moves an available volume to another pool of its backend.
// Only driver assisted migration is supported; a host copy is rejected.
func (m *Manager) MigrateVolume(ctx context.Context, id, destHost string, forceHostCopy bool) (string, error) {
	if forceHostCopy {
		return "", fmt.Errorf("host copy migration: %w", driver.ErrNotSupported)
	}
	if objects.HostPool(destHost) == "" || objects.HostBackend(destHost) == "" {
		return "", fmt.Errorf("destination %q must be host@backend#pool: %w", destHost, ErrInvalidArgument)
	}
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return "", err
	}
	if v.Host == destHost {
		return "", fmt.Errorf("volume %s is already on %s: %w", id, destHost, ErrInvalidArgument)
	}
	if util.Contains(store.MigratingStatuses, v.MigrationStatus) {
		return "", fmt.Errorf("volume %s is migrating: %w", id, ErrInvalidStatus)
	}
	if err = m.requireCapability(v, func(c driver.Capabilities) bool { return c.Migrate }, "migrate"); err != nil {
		return "", err
	}
	expected := []string{objects.VolumeAvailable}
	v.SetStatus(objects.VolumeMaintenance)
	v.SetMigrationStatus(objects.MigrationStarting)
	ok, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: expected, NoAttachments: true, NotMigrating: true})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("volume %s must be in one of %v without attachments: %w", id, expected, ErrInvalidStatus)
	}
	m.volumeEvent(v, "migrate", notify.PhaseStart)
	return m.runTask(OpMigrateVolume, id, map[string]string{"host": destHost})
}

func (m *Manager) execMigrateVolume(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != objects.VolumeMaintenance || v.MigrationStatus != objects.MigrationStarting {
		return fmt.Errorf("volume %s is %s with migration status %q: %w", id, v.Status, v.MigrationStatus, ErrInvalidStatus)
	}
	v.SetMigrationStatus(objects.MigrationMigrating)
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return err
	}
	return m.guard(ctx, func() error { return m.migrateVolume(ctx, ops, v, params["host"]) }, v)
}

func (m *Manager) migrateVolume(ctx context.Context, ops tasks.TaskOps, v *objects.Volume, dest string) error {
	fail := func(err error) error {
		v.SetStatus(objects.VolumeAvailable)
		v.SetMigrationStatus(objects.MigrationError)
		m.saveLogged(ctx, v)
		m.volumeEvent(v, "migrate", notify.PhaseError)
		return err
	}
	if objects.HostName(dest) != m.Host || objects.HostBackend(dest) != v.Backend() {
		return fail(fmt.Errorf("volume %s: migration to another backend: %w", v.ID, driver.ErrNotSupported))
	}
	var mu *driver.ModelUpdate
	err := m.onBackend(v, func(b *backend, drv driver.Driver) error {
		migrator, ok := drv.(driver.Migrator)
		if !ok {
			return driver.NewError(driver.CodeNotSupported, "migrate volume", "migration is not supported")
		}
		if _, err := m.schedule(v.Size, dest); err != nil {
			return err
		}
		ops.SetProgress(10, "migrating to "+dest)
		moved, upd, err := migrator.MigrateVolume(ctx, driver.SpecFromVolume(v, nil), objects.HostPool(dest))
		if err != nil {
			return err
		}
		if !moved {
			return driver.NewError(driver.CodeNotSupported, "migrate volume", "the driver cannot migrate to pool "+objects.HostPool(dest))
		}
		mu = upd
		return nil
	})
	if err != nil {
		return fail(err)
	}
	mu.ApplyToVolume(v)
	v.SetHost(dest)
	v.SetStatus(objects.VolumeAvailable)
	v.SetMigrationStatus(objects.MigrationSuccess)
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return err
	}
	m.Log.Infof("Volume %s: migrated to %s", v.ID, dest)
	m.volumeEvent(v, "migrate", notify.PhaseEnd)
	return nil
}

// ManageArgs are the arguments of ManageExisting
type ManageArgs struct {
	// Host is the pool of the backend volume, "host@backend#pool"
	Host             string
	Ref              map[string]string
	Name             string
	Description      string
	VolumeType       string
	AvailabilityZone string
	Metadata         map[string]string
}

const refParamPrefix = "ref:"

// ManageExisting brings a backend volume under management
func (m *Manager) ManageExisting(ctx context.Context, ma *ManageArgs) (*objects.Volume, string, error) {
	if ma == nil || len(ma.Ref) == 0 {
		return nil, "", fmt.Errorf("reference is required: %w", ErrInvalidArgument)
	}
	if objects.HostPool(ma.Host) == "" || objects.HostBackend(ma.Host) == "" {
		return nil, "", fmt.Errorf("host %q must be host@backend#pool: %w", ma.Host, ErrInvalidArgument)
	}
	v := &objects.Volume{
		ID:               uuid.NewV4().String(),
		Name:             ma.Name,
		Description:      ma.Description,
		Status:           objects.VolumeManaging,
		AttachStatus:     objects.AttachDetached,
		Host:             ma.Host,
		AvailabilityZone: ma.AvailabilityZone,
		VolumeType:       ma.VolumeType,
		Metadata:         ma.Metadata,
		AdminMetadata:    map[string]string{},
		ClusterName:      m.ClusterName,
	}
	if v.Metadata == nil {
		v.Metadata = map[string]string{}
	}
	if err := m.requireCapability(v, func(c driver.Capabilities) bool { return c.Manage }, "manage"); err != nil {
		return nil, "", err
	}
	if err := m.Store.VolumeCreate(ctx, v); err != nil {
		return nil, "", err
	}
	params := map[string]string{}
	for k, val := range ma.Ref {
		params[refParamPrefix+k] = val
	}
	m.volumeEvent(v, "manage_existing", notify.PhaseStart)
	taskID, err := m.runTask(OpManageVolume, v.ID, params)
	if err != nil {
		v.SetStatus(objects.VolumeErrorManaging)
		m.saveLogged(ctx, v)
		return nil, "", err
	}
	return v, taskID, nil
}

func (m *Manager) execManageVolume(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != objects.VolumeManaging {
		return statusError(objects.VolumeObjName, v.ID, v.Status, []string{objects.VolumeManaging})
	}
	ref := map[string]string{}
	for k, val := range params {
		if strings.HasPrefix(k, refParamPrefix) {
			ref[strings.TrimPrefix(k, refParamPrefix)] = val
		}
	}
	return m.guard(ctx, func() error { return m.manageVolume(ctx, v, ref) }, v)
}

func (m *Manager) manageVolume(ctx context.Context, v *objects.Volume, ref map[string]string) error {
	var mu *driver.ModelUpdate
	err := m.onBackend(v, func(b *backend, drv driver.Driver) error {
		mgr, ok := drv.(driver.Manager)
		if !ok {
			return driver.NewError(driver.CodeNotSupported, "manage existing", "manage is not supported")
		}
		spec := driver.SpecFromVolume(v, nil)
		size, err := mgr.ManageExistingGetSize(ctx, spec, ref)
		if err != nil {
			return err
		}
		v.SetSize(size)
		spec.SizeGiB = size
		mu, err = mgr.ManageExisting(ctx, spec, ref)
		return err
	})
	if err != nil {
		v.SetStatus(objects.VolumeErrorManaging)
		m.saveLogged(ctx, v)
		m.volumeEvent(v, "manage_existing", notify.PhaseError)
		return err
	}
	mu.ApplyToVolume(v)
	v.SetStatus(objects.VolumeAvailable)
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return err
	}
	m.Log.Infof("Volume %s: managed %v on %s (%d GiB)", v.ID, ref, v.Host, v.Size)
	m.volumeEvent(v, "manage_existing", notify.PhaseEnd)
	return nil
}

// UnmanageVolume removes a volume from management, leaving it on the backend
func (m *Manager) UnmanageVolume(ctx context.Context, id string) (string, error) {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return "", err
	}
	if err = m.requireCapability(v, func(c driver.Capabilities) bool { return c.Manage }, "unmanage"); err != nil {
		return "", err
	}
	expected := []string{objects.VolumeAvailable, objects.VolumeError}
	v.SetStatus(objects.VolumeUnmanaging)
	ok, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: expected, NoSnapshots: true, NoAttachments: true})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("volume %s must be in one of %v with no snapshots or attachments: %w", id, expected, ErrInvalidStatus)
	}
	m.volumeEvent(v, "unmanage", notify.PhaseStart)
	return m.runTask(OpUnmanageVolume, id, nil)
}

func (m *Manager) execUnmanageVolume(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != objects.VolumeUnmanaging {
		return statusError(objects.VolumeObjName, v.ID, v.Status, []string{objects.VolumeUnmanaging})
	}
	return m.guard(ctx, func() error {
		err := m.onBackend(v, func(b *backend, drv driver.Driver) error {
			mgr, ok := drv.(driver.Manager)
			if !ok {
				return driver.NewError(driver.CodeNotSupported, "unmanage volume", "manage is not supported")
			}
			return mgr.UnmanageVolume(ctx, driver.SpecFromVolume(v, nil))
		})
		if err != nil {
			v.SetStatus(objects.VolumeError)
			m.saveLogged(ctx, v)
			m.volumeEvent(v, "unmanage", notify.PhaseError)
			return err
		}
		if err = m.Store.VolumeDestroy(ctx, v.ID); err != nil {
			return err
		}
		m.Log.Infof("Volume %s: unmanaged", v.ID)
		m.volumeEvent(v, "unmanage", notify.PhaseEnd)
		return nil
	}, v)
}

// GetManageableVolumes lists the volumes of a backend ("host@backend"), marking those already managed
func (m *Manager) GetManageableVolumes(ctx context.Context, backendHost string) ([]*objects.ManageableVolume, error) {
	var res []*objects.ManageableVolume
	probe := &objects.Volume{ID: backendHost, Host: backendHost}
	err := m.onBackend(probe, func(b *backend, drv driver.Driver) error {
		mgr, ok := drv.(driver.Manager)
		if !ok {
			return fmt.Errorf("backend %s: manageable volumes: %w", b.name, driver.ErrNotSupported)
		}
		var err error
		if res, err = mgr.GetManageableVolumes(ctx); err != nil {
			return err
		}
		managed, err := m.Store.VolumeList(ctx, &store.VolumeFilter{Host: m.backendHost(b.name)})
		if err != nil {
			return err
		}
		byProvider := map[string]string{}
		for _, v := range managed {
			if v.ProviderID != "" {
				byProvider[v.ProviderID] = v.ID
			}
		}
		for _, mv := range res {
			if id, ok := byProvider[mv.Reference["source-id"]]; ok {
				mv.CinderID = id
				mv.SafeToManage = false
				mv.ReasonNotSafe = "already managed"
			}
		}
		return nil
	})
	return res, err
}
