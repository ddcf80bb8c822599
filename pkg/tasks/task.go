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


package tasks

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/go-openapi/strfmt"
)

// TaskState is the integer type for state
type TaskState int

// TaskState values
const (
	TaskStateNew TaskState = iota
	TaskStateActive
	TaskStateWaiting
	// Terminal states
	TaskStateCanceled
	TaskStateFailed
	TaskStateSucceeded

	TaskStateLast // not a real state
)

func (cs TaskState) String() string {
	switch cs {
	case TaskStateNew:
		return "NEW"
	case TaskStateActive:
		return "ACTIVE"
	case TaskStateWaiting:
		return "WAITING"
	case TaskStateCanceled:
		return "CANCELED"
	case TaskStateFailed:
		return "FAILED"
	case TaskStateSucceeded:
		return "SUCCEEDED"
	}
	return "UNKNOWN"
}

// IsTerminalState indicates if the state is a terminal state
func (cs TaskState) IsTerminalState() bool {
	return cs == TaskStateSucceeded || cs == TaskStateFailed || cs == TaskStateCanceled
}

// CreateArgs are the creation time properties of a task
type CreateArgs struct {
	Operation string            `json:"operation"`
	ObjectID  string            `json:"object_id,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// Progress of a task
type Progress struct {
	PercentComplete int             `json:"percent_complete"`
	Message         string          `json:"message,omitempty"`
	Timestamp       strfmt.DateTime `json:"timestamp"`
}

// TimestampedMessage is an entry of the task message log
type TimestampedMessage struct {
	Time    strfmt.DateTime `json:"time"`
	Message string          `json:"message"`
}

// View is the externally visible form of a task
type View struct {
	CreateArgs
	ID              string                `json:"id"`
	State           string                `json:"state"`
	Progress        *Progress             `json:"progress,omitempty"`
	Messages        []*TimestampedMessage `json:"messages"`
	Error           string                `json:"error,omitempty"`
	CancelRequested bool                  `json:"cancel_requested"`
	Version         int                   `json:"version"`
	CreatedAt       strfmt.DateTime       `json:"created_at"`
	UpdatedAt       strfmt.DateTime       `json:"updated_at"`
}

// TaskOps is an interface that provides operations on a Task.
type TaskOps interface {
	// IsCanceled returns true if Cancel was called on this Task.
	IsCanceled() bool
	// Args returns the creation arguments
	Args() *CreateArgs
	// AddMessage appends to the task message log
	AddMessage(format string, args ...interface{})
	// SetProgress updates the Progress data
	SetProgress(percent int, message string)
	// SetState changes the state of the Task and posts a notification.
	// If the state is a terminal state then the Task goroutine is forcibly terminated.
	SetState(state TaskState)
	// Fail records the error and terminates the task in the FAILED state
	Fail(err error)
}

// TaskAnimator animates Task objects
type TaskAnimator interface {
	// TaskValidate validates its arguments.
	// It may return ErrInvalidAnimator or ErrInvalidArguments or any other error.
	TaskValidate(args *CreateArgs) error
	// TaskExec executes the task. If it returns the task is assumed to have entered the SUCCEEDED state.
	// It may abort its execution by calling ops.SetState() with a terminal state or ops.Fail().
	// If it supports external cancellation it should check ops.IsCanceled() at appropriate times
	// and then call ops.SetState(TaskStateCanceled) to terminate.
	TaskExec(ctx context.Context, ops TaskOps)
}

// Task tracks the execution of an operation
type Task struct {
	A          TaskAnimator
	M          *Manager
	ID         string
	Ordinal    int
	args       CreateArgs
	mux        sync.Mutex
	view       View
	State      TaskState
	Canceled   bool
	Terminated bool
	ExpTimer   *time.Timer
}

// Object returns a copy of the external view of the task
func (t *Task) Object() *View {
	t.mux.Lock()
	defer t.mux.Unlock()
	v := t.view
	v.CreateArgs = t.args
	v.ID = t.ID
	v.State = t.State.String()
	v.CancelRequested = t.Canceled
	if t.view.Progress != nil {
		p := *t.view.Progress
		v.Progress = &p
	}
	v.Messages = append([]*TimestampedMessage{}, t.view.Messages...)
	return &v
}

// Args is part of the TaskOps interface
func (t *Task) Args() *CreateArgs {
	a := t.args
	return &a
}

// IsCanceled is part of the TaskOps interface
func (t *Task) IsCanceled() bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.Canceled
}

func (t *Task) cancel() {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.Canceled = true
}

// AddMessage is part of the TaskOps interface
func (t *Task) AddMessage(format string, args ...interface{}) {
	now := time.Now()
	t.mux.Lock()
	t.addMessageInLock(now, fmt.Sprintf(format, args...))
	t.mux.Unlock()
	t.modified(now)
}

func (t *Task) addMessageInLock(now time.Time, msg string) {
	t.view.Messages = append(t.view.Messages, &TimestampedMessage{Time: strfmt.DateTime(now), Message: msg})
}

// SetState is part of the TaskOps interface
func (t *Task) SetState(state TaskState) {
	t.mux.Lock()
	if t.State == state {
		t.mux.Unlock()
		return
	}
	msg := fmt.Sprintf("State change %s ⇒ %s", t.State, state)
	t.M.Log.Debugf("Task %s: %s", t.ID, msg)
	t.State = state
	now := time.Now()
	t.addMessageInLock(now, msg)
	terminal := state.IsTerminalState()
	if terminal {
		t.Terminated = true
	}
	t.mux.Unlock()
	t.modified(now)
	if terminal {
		t.scheduleDeletion()
		t.M.Log.Debugf("Task %s: terminating goroutine", t.ID)
		panic("task forcing termination of goroutine")
	}
}

// Fail is part of the TaskOps interface
func (t *Task) Fail(err error) {
	t.mux.Lock()
	t.view.Error = err.Error()
	t.mux.Unlock()
	t.M.Log.Errorf("Task %s: %s", t.ID, err.Error())
	t.SetState(TaskStateFailed)
}

// SetProgress is part of the TaskOps interface
func (t *Task) SetProgress(percent int, message string) {
	now := time.Now()
	t.mux.Lock()
	t.view.Progress = &Progress{PercentComplete: percent, Message: message, Timestamp: strfmt.DateTime(now)}
	t.mux.Unlock()
	t.modified(now)
}

func (t *Task) modified(now time.Time) {
	t.mux.Lock()
	t.view.UpdatedAt = strfmt.DateTime(now)
	t.view.Version++
	t.mux.Unlock()
	t.notify(notify.EventType("task", "update", notify.PhaseEnd))
}

func (t *Task) scheduleDeletion() {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.ExpTimer = time.AfterFunc(t.M.PurgeDelay, t.deleteTask)
}

func (t *Task) deleteTask() {
	t.M.deleteTask(t)
	t.notify(notify.EventType("task", "delete", notify.PhaseEnd))
}

func (t *Task) notify(eventType string) {
	t.mux.Lock()
	ev := &notify.Event{
		EventType:    eventType,
		ResourceType: "task",
		ResourceID:   t.ID,
		Scope: map[string]string{
			"operation": t.args.Operation,
			"state":     t.State.String(),
		},
	}
	if t.args.ObjectID != "" {
		ev.Scope["object_id"] = t.args.ObjectID
	}
	if t.State == TaskStateFailed {
		ev.Priority = notify.PriorityError
	}
	t.mux.Unlock()
	t.M.Notifier.Notify(ev) // ignore error
}

// run calls runBody on a goroutine
func (t *Task) run() {
	go t.runBody()
}

// runBody sets the state to ACTIVE and then invokes the animator.
// It expects a panic on active termination and forces a successful termination if TaskExec returns.
// A panic without termination fails the task.
func (t *Task) runBody() {
	t.M.Log.Debugf("Task %s: Starting", t.ID)
	defer func() {
		if r := recover(); r != nil {
			t.mux.Lock()
			terminated := t.Terminated
			state := t.State
			t.mux.Unlock()
			if terminated {
				t.M.Log.Debugf("Task %s: terminated (%s)", t.ID, state)
				return
			}
			b := debug.Stack()
			t.M.Log.Criticalf("Task %s: PANIC: %v\n\n%s", t.ID, r, bytes.TrimSpace(b))
			t.mux.Lock()
			t.State = TaskStateFailed
			t.Terminated = true
			t.view.Error = fmt.Sprintf("%v", r)
			t.mux.Unlock()
			t.modified(time.Now())
			t.scheduleDeletion()
		}
	}()
	t.SetState(TaskStateActive)
	t.A.TaskExec(t.M.ctx, t)
	// should not return but if it does terminate
	t.SetState(TaskStateSucceeded)
}

// newTask is the internal constructor.
// It must be called within the manager mutex; it tracks but does not run the Task.
func (m *Manager) newTask(args *CreateArgs) (*Task, error) {
	animator, err := m.opAnimator(args.Operation)
	if err != nil {
		return nil, err
	}
	// the validator runs without the mutex; all state is on the stack
	m.mux.Unlock()
	err = animator.TaskValidate(args)
	m.mux.Lock()
	if err != nil {
		return nil, err
	}
	t := &Task{args: *args, A: animator, M: m}
	t.Ordinal = m.idCounter
	t.ID = fmt.Sprintf("%s-%06d", args.Operation, m.idCounter)
	m.idCounter++
	t.view.CreatedAt = strfmt.DateTime(time.Now())
	t.view.UpdatedAt = t.view.CreatedAt
	t.view.Messages = []*TimestampedMessage{}
	t.State = TaskStateNew
	m.trackTask(t)
	return t, nil
}

// Tasks is a sortable list of tasks
type Tasks []*Task

// Len returns the length of the task list
func (tl Tasks) Len() int { return len(tl) }

// Less is a predicate for the natural (creation) sorting order of tasks
func (tl Tasks) Less(i, j int) bool { return tl[i].Ordinal < tl[j].Ordinal }

// Swap exchanges two elements of the task list
func (tl Tasks) Swap(i, j int) { tl[i], tl[j] = tl[j], tl[i] }

var _ = sort.Interface(Tasks{})
