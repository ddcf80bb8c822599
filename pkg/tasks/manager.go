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


// Package tasks runs long operations asynchronously and tracks their state
// and progress until some time after they terminate.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/notify"
	logging "github.com/op/go-logging"
)

// TaskScheduler offers methods to operate on Tasks
type TaskScheduler interface {
	// CancelTask marks a task as canceled. It is up to the animator to detect this and change the state.
	CancelTask(id string) error
	// GetTask returns a task by id
	GetTask(id string) (*View, error)
	// ListTasks returns the tasks in creation order, optionally filtered by operation.
	ListTasks(operation string) []*View
	// RegisterAnimator provides an animator for an operation
	RegisterAnimator(operation string, animator TaskAnimator)
	// RunTask runs a task in the local process. It returns the task identifier.
	RunTask(args *CreateArgs) (string, error)
	// Terminate cancels all tasks
	Terminate()
}

// Errors
var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrInvalidAnimator      = errors.New("invalid animator")
	ErrInvalidArguments     = errors.New("invalid arguments")
	ErrNotFound             = errors.New("task not found")
)

// DefaultPurgeDelay is the default value for PurgeDelay if it is not set
const DefaultPurgeDelay = time.Duration(60 * time.Second)

// ManagerArgs contains the arguments required to create a Manager object
type ManagerArgs struct {
	PurgeDelay time.Duration `long:"task-purge-delay" description:"Time a terminated task remains visible" default:"60s"`
	Notifier   notify.Notifier
	Log        *logging.Logger
}

// Validate checks the correctness of the arguments
func (ma *ManagerArgs) Validate() error {
	if ma.PurgeDelay == 0 {
		ma.PurgeDelay = DefaultPurgeDelay
	}
	if ma.PurgeDelay < 0 || ma.Notifier == nil || ma.Log == nil {
		return ErrInvalidArguments
	}
	return nil
}

// Manager implements the TaskScheduler interface
type Manager struct {
	ManagerArgs
	mux        sync.Mutex
	registry   map[string]TaskAnimator
	idCounter  int
	tasks      map[string]*Task
	ctx        context.Context
	cancelFn   context.CancelFunc
	terminated bool
}

var _ = TaskScheduler(&Manager{})

// NewManager returns a Manager
func NewManager(args *ManagerArgs) (*Manager, error) {
	if args == nil {
		return nil, ErrInvalidArguments
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{ManagerArgs: *args}
	m.registry = make(map[string]TaskAnimator)
	m.tasks = make(map[string]*Task)
	m.ctx, m.cancelFn = context.WithCancel(context.Background())
	return m, nil
}

// RegisterAnimator is part of the TaskScheduler interface
func (m *Manager) RegisterAnimator(operation string, animator TaskAnimator) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.registry[operation] = animator
}

// RunTask is part of the TaskScheduler interface
func (m *Manager) RunTask(args *CreateArgs) (string, error) {
	if args == nil {
		return "", ErrInvalidArguments
	}
	m.mux.Lock()
	if m.terminated {
		m.mux.Unlock()
		return "", fmt.Errorf("task manager terminated")
	}
	t, err := m.newTask(args)
	m.mux.Unlock()
	if err != nil {
		return "", err
	}
	t.notify(notify.EventType("task", "create", notify.PhaseEnd))
	t.run()
	return t.ID, nil
}

// ListTasks is part of the TaskScheduler interface
func (m *Manager) ListTasks(operation string) []*View {
	m.mux.Lock()
	var tl Tasks = make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if operation == "" || t.args.Operation == operation {
			tl = append(tl, t)
		}
	}
	m.mux.Unlock()
	sort.Sort(tl)
	ret := make([]*View, 0, len(tl))
	for _, t := range tl {
		ret = append(ret, t.Object())
	}
	return ret
}

// GetTask is part of the TaskScheduler interface
func (m *Manager) GetTask(id string) (*View, error) {
	if t := m.findTask(id); t != nil {
		return t.Object(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// CancelTask is part of the TaskScheduler interface
func (m *Manager) CancelTask(id string) error {
	t := m.findTask(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.cancel()
	t.modified(time.Now())
	return nil
}

// Terminate is part of the TaskScheduler interface
func (m *Manager) Terminate() {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.terminated {
		return
	}
	for _, t := range m.tasks {
		t.cancel()
	}
	m.terminated = true
	m.cancelFn()
}

// opAnimator finds the animator for an operation. Call within the mutex.
func (m *Manager) opAnimator(op string) (TaskAnimator, error) {
	animator, found := m.registry[op]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
	}
	return animator, nil
}

// trackTask tracks a task. Call within the mutex.
func (m *Manager) trackTask(t *Task) {
	m.tasks[t.ID] = t
}

// deleteTask obtains the mutex
func (m *Manager) deleteTask(t *Task) {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.tasks, t.ID)
	m.Log.Debugf("Task %s: deleted", t.ID)
}

// findTask obtains the mutex
func (m *Manager) findTask(id string) *Task {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.tasks[id]
}
