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

	"github.com/Nuvoloso/volumed/pkg/tasks"
)

// Task operations
const (
	OpCreateVolume   = "create_volume"
	OpDeleteVolume   = "delete_volume"
	OpExtendVolume   = "extend_volume"
	OpMigrateVolume  = "migrate_volume"
	OpManageVolume   = "manage_existing"
	OpUnmanageVolume = "unmanage_volume"
	OpCreateSnapshot = "create_snapshot"
	OpDeleteSnapshot = "delete_snapshot"
)

type execFn func(ctx context.Context, ops tasks.TaskOps, id string, params map[string]string) error

// animator runs the backend part of an operation on the object of the task
type animator struct {
	exec execFn
}

var _ = tasks.TaskAnimator(&animator{})

// TaskValidate is part of the tasks.TaskAnimator interface
func (a *animator) TaskValidate(args *tasks.CreateArgs) error {
	if args.ObjectID == "" {
		return tasks.ErrInvalidArguments
	}
	return nil
}

// TaskExec is part of the tasks.TaskAnimator interface
func (a *animator) TaskExec(ctx context.Context, ops tasks.TaskOps) {
	args := ops.Args()
	if err := a.exec(ctx, ops, args.ObjectID, args.Params); err != nil {
		ops.Fail(err)
	}
}

func (m *Manager) registerAnimators() {
	for op, fn := range map[string]execFn{
		OpCreateVolume:   m.execCreateVolume,
		OpDeleteVolume:   m.execDeleteVolume,
		OpExtendVolume:   m.execExtendVolume,
		OpMigrateVolume:  m.execMigrateVolume,
		OpManageVolume:   m.execManageVolume,
		OpUnmanageVolume: m.execUnmanageVolume,
		OpCreateSnapshot: m.execCreateSnapshot,
		OpDeleteSnapshot: m.execDeleteSnapshot,
	} {
		m.Tasks.RegisterAnimator(op, &animator{exec: fn})
	}
}

func (m *Manager) runTask(op, id string, params map[string]string) (string, error) {
	taskID, err := m.Tasks.RunTask(&tasks.CreateArgs{Operation: op, ObjectID: id, Params: params})
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", op, id, err)
	}
	m.Log.Debugf("%s %s: task %s", op, id, taskID)
	return taskID, nil
}
