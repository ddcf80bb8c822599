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

	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
)

func (m *Manager) loadVolume(ctx context.Context, id string) (objects.Cleanable, error) {
	v, err := m.Store.VolumeGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Manager) loadSnapshot(ctx context.Context, id string) (objects.Cleanable, error) {
	sn, err := m.Store.SnapshotGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return sn, nil
}

// cleanupVolume finishes an interrupted delete and fails an interrupted create
func (m *Manager) cleanupVolume(ctx context.Context, res objects.Cleanable, w *store.Worker) (bool, error) {
	v := res.(*objects.Volume)
	if v.Status == objects.VolumeDeleting {
		return false, m.deleteVolume(ctx, v)
	}
	prev := v.Status
	v.SetStatus(objects.VolumeError)
	if _, err := m.Store.VolumeConditionalSave(ctx, v, &store.Expect{Status: []string{prev}}); err != nil {
		return false, err
	}
	m.Log.Warningf("Volume %s: interrupted in %s", v.ID, prev)
	if prev == objects.VolumeCreating {
		m.volumeEvent(v, "create", notify.PhaseError)
	}
	return false, nil
}

// cleanupSnapshot finishes an interrupted delete and fails an interrupted create
func (m *Manager) cleanupSnapshot(ctx context.Context, res objects.Cleanable, w *store.Worker) (bool, error) {
	sn := res.(*objects.Snapshot)
	if sn.Status == objects.SnapshotDeleting {
		return false, m.deleteSnapshot(ctx, sn)
	}
	prev := sn.Status
	sn.SetStatus(objects.SnapshotError)
	if _, err := m.Store.SnapshotConditionalSave(ctx, sn, []string{prev}); err != nil {
		return false, err
	}
	m.Log.Warningf("Snapshot %s: interrupted in %s", sn.ID, prev)
	if prev == objects.SnapshotCreating {
		m.snapshotEvent(sn, "create", notify.PhaseError)
	}
	return false, nil
}
