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
	"sort"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/util"
)

// backend is a configured driver with its cached capacity
type backend struct {
	m      *Manager
	name   string
	cfg    *driver.Config
	drv    driver.Driver
	worker util.Worker

	mux         sync.Mutex
	initialized bool
	initErr     error
	stats       *driver.BackendStats
	statsTime   time.Time
	allocated   map[string]float64 // pool => GiB placed since the last refresh
}

func newBackend(m *Manager, cfg *driver.Config, drv driver.Driver) *backend {
	b := &backend{m: m, name: cfg.Name, cfg: cfg, drv: drv, allocated: map[string]float64{}}
	wa := &util.WorkerArgs{
		Name:          "stats:" + cfg.Name,
		Log:           m.Log,
		SleepInterval: cfg.Duration(driver.KeyStatsInterval, m.StatsInterval),
	}
	b.worker, _ = util.NewWorker(wa, b)
	return b
}

// setup configures the driver and loads the stats. A failed backend is retried by the stats worker.
func (b *backend) setup(ctx context.Context) error {
	b.mux.Lock()
	done := b.initialized
	b.mux.Unlock()
	if done {
		return nil
	}
	if err := b.drv.Setup(ctx, b.cfg); err != nil {
		err = driver.WithBackend(err, b.name)
		b.mux.Lock()
		b.initErr = err
		b.mux.Unlock()
		b.m.Log.Errorf("Backend %s (%s): setup failed: %s", b.name, b.drv.Type(), err.Error())
		return err
	}
	b.mux.Lock()
	b.initialized, b.initErr = true, nil
	b.mux.Unlock()
	b.m.Log.Infof("Backend %s (%s) initialized", b.name, b.drv.Type())
	return b.refresh(ctx)
}

// Buzz satisfies the util.WorkerBee interface
func (b *backend) Buzz(ctx context.Context) error {
	b.mux.Lock()
	done := b.initialized
	b.mux.Unlock()
	if !done {
		return b.setup(ctx)
	}
	return b.refresh(ctx)
}

func (b *backend) refresh(ctx context.Context) error {
	bs, err := b.drv.Stats(ctx, true)
	if err != nil {
		return driver.WithBackend(err, b.name)
	}
	if bs.BackendName == "" {
		bs.BackendName = b.cfg.BackendName()
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	b.stats = bs
	b.statsTime = time.Now()
	b.allocated = map[string]float64{}
	return nil
}

// ready returns the driver if the backend is initialized
func (b *backend) ready() (driver.Driver, error) {
	b.mux.Lock()
	defer b.mux.Unlock()
	if !b.initialized {
		err := b.initErr
		if err == nil {
			err = fmt.Errorf("not initialized")
		}
		return nil, fmt.Errorf("backend %s: %s: %w", b.name, err.Error(), ErrNoValidBackend)
	}
	return b.drv, nil
}

// allocate records capacity placed on a pool until the next refresh
func (b *backend) allocate(pool string, gib float64) {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.allocated[pool] += gib
}

// PoolInfo is the scheduler view of a pool
type PoolInfo struct {
	Host            string            `json:"name"`
	Backend         string            `json:"backend"`
	VendorName      string            `json:"vendor_name"`
	DriverVersion   string            `json:"driver_version"`
	StorageProtocol string            `json:"storage_protocol"`
	Stats           *driver.PoolStats `json:"capabilities"`
	AllocatedGiB    float64           `json:"allocated_capacity_gb"`
	FreeGiB         float64           `json:"usable_capacity_gb"`
	UpdatedAt       time.Time         `json:"timestamp"`
}

func (b *backend) pools() []*PoolInfo {
	b.mux.Lock()
	defer b.mux.Unlock()
	res := []*PoolInfo{}
	if !b.initialized || b.stats == nil {
		return res
	}
	for _, ps := range b.stats.Pools {
		psc := *ps
		pi := &PoolInfo{
			Host:            objects.MakeHost(b.m.Host, b.name, ps.Name),
			Backend:         b.name,
			VendorName:      b.stats.VendorName,
			DriverVersion:   b.stats.DriverVersion,
			StorageProtocol: b.stats.StorageProtocol,
			Stats:           &psc,
			AllocatedGiB:    b.allocated[ps.Name],
			UpdatedAt:       b.statsTime,
		}
		pi.FreeGiB = ps.UsableGiB() - pi.AllocatedGiB
		res = append(res, pi)
	}
	return res
}

// Pools returns the pools of the initialized backends ordered by name
func (m *Manager) Pools() []*PoolInfo {
	res := []*PoolInfo{}
	for _, name := range m.order {
		res = append(res, m.backends[name].pools()...)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Host < res[j].Host })
	return res
}

// RefreshStats refreshes the stats of all backends
func (m *Manager) RefreshStats(ctx context.Context) error {
	var firstErr error
	for _, name := range m.order {
		if err := m.backends[name].Buzz(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
