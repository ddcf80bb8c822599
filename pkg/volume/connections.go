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
	"encoding/json"
	"fmt"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/util"
	uuid "github.com/satori/go.uuid"
)

// InitializeConnection exports a volume to the connector host and records the attachment.
// FC zones are added when a zone manager is configured.
func (m *Manager) InitializeConnection(ctx context.Context, id string, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if conn == nil {
		return nil, fmt.Errorf("connector is required: %w", ErrInvalidArgument)
	}
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := m.backendOf(v)
	if err != nil {
		return nil, err
	}
	drv, err := b.ready()
	if err != nil {
		return nil, err
	}
	expected := []string{objects.VolumeAvailable, objects.VolumeInUse}
	if !util.Contains(expected, v.Status) {
		return nil, statusError(objects.VolumeObjName, id, v.Status, expected)
	}
	prevStatus, prevAttach := v.Status, v.AttachStatus
	v.SetStatus(objects.VolumeAttaching)
	v.SetAttachStatus(objects.AttachAttaching)
	ok, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: expected})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("volume %s must be in one of %v: %w", id, expected, ErrInvalidStatus)
	}
	m.volumeEvent(v, "attach", notify.PhaseStart)
	restore := func(err error) error {
		v.SetStatus(prevStatus)
		v.SetAttachStatus(prevAttach)
		m.saveLogged(ctx, v)
		m.volumeEvent(v, "attach", notify.PhaseError)
		return err
	}
	spec := driver.SpecFromVolume(v, nil)
	unexport := func() {
		if _, err := drv.TerminateConnection(ctx, spec, conn); err != nil {
			m.Log.Warningf("Volume %s: terminate connection of %s: %s", id, conn.Host, err.Error())
		}
	}
	var ci *driver.ConnectionInfo
	err = m.guard(ctx, func() error {
		var err error
		ci, err = drv.InitializeConnection(ctx, spec, conn)
		return err
	}, v)
	if err != nil {
		return nil, restore(driver.WithBackend(err, b.name))
	}
	if ci.DriverVolumeType == driver.ConnFC && m.Zones != nil {
		if err = m.Zones.AddConnection(ctx, ci, conn.Host, b.cfg.BackendName()); err != nil {
			unexport()
			return nil, restore(fmt.Errorf("volume %s: add zones: %w", id, err))
		}
	}
	connJSON, _ := json.Marshal(conn)
	ciJSON, _ := json.Marshal(ci)
	at := &store.Attachment{
		ID:             uuid.NewV4().String(),
		VolumeID:       v.ID,
		AttachedHost:   conn.Host,
		AttachStatus:   objects.AttachAttached,
		Connector:      connJSON,
		ConnectionInfo: ciJSON,
	}
	if err = m.Store.AttachmentCreate(ctx, at); err != nil {
		unexport()
		return nil, restore(err)
	}
	v.SetStatus(objects.VolumeInUse)
	v.SetAttachStatus(objects.AttachAttached)
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return nil, err
	}
	m.Log.Infof("Volume %s: attached to %s (%s)", id, conn.Host, ci.DriverVolumeType)
	m.volumeEvent(v, "attach", notify.PhaseEnd)
	return ci, nil
}

// TerminateConnection removes the export of a volume to the connector host and its attachments.
// A nil connector removes all the attachments; it requires force.
func (m *Manager) TerminateConnection(ctx context.Context, id string, conn *driver.Connector, force bool) error {
	if conn == nil && !force {
		return fmt.Errorf("connector is required: %w", ErrInvalidArgument)
	}
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return err
	}
	b, err := m.backendOf(v)
	if err != nil {
		return err
	}
	drv, err := b.ready()
	if err != nil {
		return err
	}
	expected := []string{objects.VolumeInUse}
	if force {
		expected = append(expected, objects.VolumeAttaching, objects.VolumeDetaching, objects.VolumeError, objects.VolumeAvailable)
	}
	if !util.Contains(expected, v.Status) {
		return statusError(objects.VolumeObjName, id, v.Status, expected)
	}
	prevStatus, prevAttach := v.Status, v.AttachStatus
	v.SetStatus(objects.VolumeDetaching)
	v.SetAttachStatus(objects.AttachDetaching)
	ok, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: expected})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("volume %s must be in one of %v: %w", id, expected, ErrInvalidStatus)
	}
	m.volumeEvent(v, "detach", notify.PhaseStart)
	var ci *driver.ConnectionInfo
	err = m.guard(ctx, func() error {
		var err error
		ci, err = drv.TerminateConnection(ctx, driver.SpecFromVolume(v, nil), conn)
		return err
	}, v)
	if err != nil && !(force && driver.IsNotFound(err)) {
		v.SetStatus(prevStatus)
		v.SetAttachStatus(prevAttach)
		m.saveLogged(ctx, v)
		m.volumeEvent(v, "detach", notify.PhaseError)
		return driver.WithBackend(err, b.name)
	}
	host := ""
	if conn != nil {
		host = conn.Host
	}
	if ci != nil && ci.DriverVolumeType == driver.ConnFC && m.Zones != nil {
		if err = m.Zones.RemoveConnection(ctx, ci, host, b.cfg.BackendName()); err != nil {
			m.Log.Warningf("Volume %s: remove zones: %s", id, err.Error())
		}
	}
	ats, err := m.Store.AttachmentList(ctx, id)
	if err != nil {
		return err
	}
	remaining := 0
	for _, at := range ats {
		if host != "" && at.AttachedHost != host {
			remaining++
			continue
		}
		if err = m.Store.AttachmentDelete(ctx, at.ID); err != nil {
			m.Log.Warningf("Volume %s: delete attachment %s: %s", id, at.ID, err.Error())
		}
	}
	if remaining > 0 {
		v.SetStatus(objects.VolumeInUse)
		v.SetAttachStatus(objects.AttachAttached)
	} else {
		v.SetStatus(objects.VolumeAvailable)
		v.SetAttachStatus(objects.AttachDetached)
	}
	if err = m.Store.VolumeSave(ctx, v); err != nil {
		return err
	}
	m.Log.Infof("Volume %s: detached from %q, %d attachments remain", id, host, remaining)
	m.volumeEvent(v, "detach", notify.PhaseEnd)
	return nil
}

// Attachment is the externally visible form of an attachment
type Attachment struct {
	ID             string                 `json:"id"`
	VolumeID       string                 `json:"volume_id"`
	AttachedHost   string                 `json:"attached_host"`
	AttachStatus   string                 `json:"attach_status"`
	Connector      *driver.Connector      `json:"connector,omitempty"`
	ConnectionInfo *driver.ConnectionInfo `json:"connection_info,omitempty"`
}

// Attachments returns the attachments of a volume
func (m *Manager) Attachments(ctx context.Context, id string) ([]*Attachment, error) {
	ats, err := m.Store.AttachmentList(ctx, id)
	if err != nil {
		return nil, err
	}
	res := make([]*Attachment, 0, len(ats))
	for _, at := range ats {
		a := &Attachment{ID: at.ID, VolumeID: at.VolumeID, AttachedHost: at.AttachedHost, AttachStatus: at.AttachStatus}
		if len(at.Connector) > 0 {
			a.Connector = &driver.Connector{}
			if err := json.Unmarshal(at.Connector, a.Connector); err != nil {
				a.Connector = nil
			}
		}
		if len(at.ConnectionInfo) > 0 {
			a.ConnectionInfo = &driver.ConnectionInfo{}
			if err := json.Unmarshal(at.ConnectionInfo, a.ConnectionInfo); err != nil {
				a.ConnectionInfo = nil
			}
		}
		res = append(res, a)
	}
	return res, nil
}
