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
	"time"

	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/util"
)

// heartbeat refreshes the service record so other services consider this one up
type heartbeat struct {
	m                  *Manager
	worker             util.Worker
	stopPeriod         time.Duration
	lastVersionLogTime time.Time
	runCount           int
}

func newHeartbeat(m *Manager) *heartbeat {
	h := &heartbeat{m: m, stopPeriod: 10 * time.Second}
	wa := &util.WorkerArgs{
		Name:             "Heartbeat",
		Log:              m.Log,
		SleepInterval:    m.HeartbeatPeriod,
		TerminationDelay: h.stopPeriod,
	}
	h.worker, _ = util.NewWorker(wa, h)
	return h
}

// logVersion periodically logs the invocation arguments
func (h *heartbeat) logVersion() {
	if h.m.InvocationArgs == "" {
		return
	}
	now := time.Now()
	if now.Sub(h.lastVersionLogTime) >= h.m.VersionLogPeriod {
		h.m.Log.Info(h.m.InvocationArgs)
		h.lastVersionLogTime = now
	}
}

// Buzz satisfies the util.WorkerBee interface
func (h *heartbeat) Buzz(ctx context.Context) error {
	h.runCount++
	h.logVersion()
	svc := h.m.Service()
	err := h.m.Store.ServiceHeartbeat(ctx, svc.ID)
	if store.IsNotFound(err) {
		h.m.Log.Warningf("Service %d not found, registering again", svc.ID)
		return h.m.register(ctx)
	}
	return err
}
