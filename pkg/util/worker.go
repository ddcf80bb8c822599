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


package util

import (
	"context"
	"errors"
	"sync"
	"time"

	logging "github.com/op/go-logging"
)

// Worker constants
const (
	WorkerSleepIntervalDefault    = 1 * time.Minute
	WorkerTerminationDelayDefault = 5 * time.Second
)

// WorkerArgs contains the arguments needed to create a Worker
type WorkerArgs struct {
	Name             string
	Log              *logging.Logger
	SleepInterval    time.Duration
	TerminationDelay time.Duration
	// RunImmediately causes the first Buzz to happen on Start instead of after SleepInterval
	RunImmediately bool
}

func (wa *WorkerArgs) sanitize() {
	if wa.SleepInterval <= 0 {
		wa.SleepInterval = WorkerSleepIntervalDefault
	}
	if wa.TerminationDelay <= 0 {
		wa.TerminationDelay = WorkerTerminationDelayDefault
	}
}

// Worker invokes a WorkerBee periodically on its own goroutine.
// Notify wakes the worker before the sleep interval expires.
type Worker interface {
	Start()
	Stop()
	Started() bool
	Notify()
	LastErr() error
	SetSleepInterval(time.Duration)
	GetSleepInterval() time.Duration
	RunCount() int
}

// WorkerBee performs the work of a Worker
type WorkerBee interface {
	// Buzz is invoked to perform some work.
	// A returned error is logged once until a different error (or success) is returned.
	// Returning ErrWorkerAborted stops the worker.
	Buzz(ctx context.Context) error
}

// WorkerFunc adapts a function to the WorkerBee interface
type WorkerFunc func(ctx context.Context) error

// Buzz calls f
func (f WorkerFunc) Buzz(ctx context.Context) error {
	return f(ctx)
}

// ErrWorkerAborted can be returned by WorkerBee.Buzz to terminate the worker
var ErrWorkerAborted = errors.New("worker aborted")

// ErrInvalidWorkerArgs is returned by NewWorker
var ErrInvalidWorkerArgs = errors.New("invalid arguments")

// NewWorker creates a Worker
func NewWorker(wa *WorkerArgs, bee WorkerBee) (Worker, error) {
	if wa == nil || wa.Name == "" || wa.Log == nil || bee == nil {
		return nil, ErrInvalidWorkerArgs
	}
	w := &worker{
		WorkerArgs: *wa,
		bee:        bee,
		wake:       make(chan struct{}, 1),
	}
	w.sanitize()
	return w, nil
}

type worker struct {
	WorkerArgs
	bee       WorkerBee
	mux       sync.Mutex
	cancelRun context.CancelFunc
	done      chan struct{}
	wake      chan struct{}
	runCount  int
	lastErr   error
	errRepeat int
}

func (w *worker) Start() {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.cancelRun != nil {
		return
	}
	w.Log.Debugf("%s: starting", w.Name)
	ctx, cancel := context.WithCancel(context.Background())
	w.cancelRun = cancel
	w.done = make(chan struct{})
	w.runCount = 0
	done := w.done
	go PanicLogger(w.Log, func() { w.run(ctx, done) })
}

func (w *worker) Stop() {
	w.mux.Lock()
	cancel, done := w.cancelRun, w.done
	w.cancelRun = nil
	w.mux.Unlock()
	if cancel == nil {
		return
	}
	w.Log.Debugf("%s: stopping", w.Name)
	cancel()
	select {
	case <-done:
	case <-time.After(w.TerminationDelay):
		w.Log.Warningf("%s: timed out waiting for termination", w.Name)
	}
	w.Log.Debugf("%s: stopped", w.Name)
}

func (w *worker) Started() bool {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.cancelRun != nil
}

// Notify never blocks; multiple notifications during a Buzz collapse into one extra run
func (w *worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) LastErr() error {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.lastErr
}

func (w *worker) SetSleepInterval(si time.Duration) {
	w.mux.Lock()
	defer w.mux.Unlock()
	w.SleepInterval = si
	w.sanitize()
}

func (w *worker) GetSleepInterval() time.Duration {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.SleepInterval
}

func (w *worker) RunCount() int {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.runCount
}

func (w *worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	if w.RunImmediately && !w.runBody(ctx) {
		return
	}
	for {
		timer := time.NewTimer(w.GetSleepInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
			w.Log.Debugf("%s: woken up", w.Name)
		case <-timer.C:
		}
		if !w.runBody(ctx) {
			return
		}
	}
}

// runBody returns false if the worker must terminate
func (w *worker) runBody(ctx context.Context) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	err := w.bee.Buzz(ctx)
	w.mux.Lock()
	defer w.mux.Unlock()
	w.runCount++
	if err == ErrWorkerAborted {
		w.lastErr = err
		w.Log.Debugf("%s: aborted", w.Name)
		if w.cancelRun != nil {
			w.cancelRun()
			w.cancelRun = nil
		}
		return false
	}
	if err != nil {
		if w.lastErr == nil || err.Error() != w.lastErr.Error() {
			w.Log.Errorf("%s: %s", w.Name, err.Error())
			w.errRepeat = 0
		} else {
			w.errRepeat++
		}
	} else if w.lastErr != nil {
		w.Log.Infof("%s: recovered", w.Name)
	}
	w.lastErr = err
	return true
}
