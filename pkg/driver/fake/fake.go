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


// Package fake provides an in-memory volume driver. It is registered as
// "fake" and supports every optional capability.
package fake

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/objects"
	logging "github.com/op/go-logging"
)

// DriverType is the registered driver type
const DriverType = "fake"

// Configuration keys
const (
	// KeyPools lists pools with their capacity in GiB, e.g. "gold:100, silver:50"
	KeyPools = "fake_pools"
	// KeyProtocol is the connection type returned by InitializeConnection
	KeyProtocol = "fake_protocol"
)

// PoolCapacityDefault is the capacity of the pool created when none are configured
const PoolCapacityDefault = 1024

// LUN is a backend volume
type LUN struct {
	ID       string
	Name     string
	Pool     string
	SizeGiB  int64
	Snapshot bool
	Parent   string
	Hosts    map[string]int
}

// Driver is the fake driver. Errors can be injected by operation name.
type Driver struct {
	Log    *logging.Logger
	Errors map[string]error
	Calls  map[string]int

	mux      sync.Mutex
	cfg      *driver.Config
	protocol string
	pools    map[string]int64
	luns     map[string]*LUN
	nextID   int
	nextLUN  int
}

var _ = driver.Driver(&Driver{})
var _ = driver.Snapshotter(&Driver{})
var _ = driver.Cloner(&Driver{})
var _ = driver.Extender(&Driver{})
var _ = driver.Manager(&Driver{})
var _ = driver.Migrator(&Driver{})

func init() {
	driver.Register(DriverType, func(log *logging.Logger) driver.Driver { return New(log) })
}

// New returns a fake driver
func New(log *logging.Logger) *Driver {
	return &Driver{
		Log:    log,
		Errors: map[string]error{},
		Calls:  map[string]int{},
		pools:  map[string]int64{},
		luns:   map[string]*LUN{},
	}
}

// call records the call and returns the injected error; the lock must be held
func (d *Driver) call(op string) error {
	d.Calls[op]++
	return d.Errors[op]
}

// Type returns the driver type
func (d *Driver) Type() string {
	return DriverType
}

// Setup parses the pool list
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("Setup"); err != nil {
		return err
	}
	pools := map[string]int64{}
	for _, p := range cfg.List(KeyPools) {
		name, capacity := p, int64(PoolCapacityDefault)
		if i := strings.Index(p, ":"); i > 0 {
			n, err := strconv.ParseInt(p[i+1:], 10, 64)
			if err != nil || n <= 0 {
				return &driver.Error{Code: driver.CodeInvalidInput, Op: "setup", Backend: cfg.Name, Message: fmt.Sprintf("invalid pool %q", p)}
			}
			name, capacity = p[:i], n
		}
		pools[name] = capacity
	}
	if len(pools) == 0 {
		pools["pool0"] = PoolCapacityDefault
	}
	d.protocol = cfg.String(KeyProtocol, driver.ConnISCSI)
	d.pools = pools
	d.cfg = cfg
	d.Log.Infof("%s: fake backend with %d pools", cfg.Name, len(pools))
	return nil
}

func (d *Driver) used(pool string) int64 {
	var n int64
	for _, l := range d.luns {
		if l.Pool == pool && !l.Snapshot {
			n += l.SizeGiB
		}
	}
	return n
}

// Stats reports the pools
func (d *Driver) Stats(ctx context.Context, refresh bool) (*driver.BackendStats, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("Stats"); err != nil {
		return nil, err
	}
	bs := &driver.BackendStats{
		VendorName:      "Open Source",
		DriverVersion:   "1.0.0",
		StorageProtocol: d.protocol,
		Capabilities:    driver.CapabilitiesOf(d),
	}
	if d.cfg != nil {
		bs.BackendName = d.cfg.BackendName()
	}
	for _, name := range sortedPools(d.pools) {
		used := d.used(name)
		ps := &driver.PoolStats{
			Name:                   name,
			TotalCapacityGiB:       float64(d.pools[name]),
			FreeCapacityGiB:        float64(d.pools[name] - used),
			ProvisionedCapacityGiB: float64(used),
			ThickProvisioning:      true,
			MultiAttach:            true,
		}
		if d.cfg != nil {
			d.cfg.ApplyPoolDefaults(ps)
		}
		ps.MaxOverSubscriptionRatio = 1
		bs.Pools = append(bs.Pools, ps)
	}
	return bs, nil
}

func sortedPools(m map[string]int64) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

func (d *Driver) newLUN(name, pool string, size int64, snapshot bool) (*LUN, error) {
	capacity, ok := d.pools[pool]
	if !ok {
		return nil, driver.NewError(driver.CodeInvalidInput, "create", fmt.Sprintf("pool %q not found", pool))
	}
	if !snapshot && d.used(pool)+size > capacity {
		return nil, driver.NewError(driver.CodeCapacity, "create", fmt.Sprintf("pool %q is full", pool))
	}
	d.nextID++
	l := &LUN{ID: fmt.Sprintf("lun-%d", d.nextID), Name: name, Pool: pool, SizeGiB: size, Snapshot: snapshot, Hosts: map[string]int{}}
	d.luns[l.ID] = l
	return l, nil
}

func (d *Driver) lookup(op, id string) (*LUN, error) {
	l, ok := d.luns[id]
	if !ok || id == "" {
		return nil, &driver.Error{Code: driver.CodeNotFound, Op: op, Message: fmt.Sprintf("%q not found", id)}
	}
	return l, nil
}

func (d *Driver) poolOf(vol *driver.VolumeSpec) string {
	if vol.Pool != "" {
		return vol.Pool
	}
	return sortedPools(d.pools)[0]
}

// CreateVolume creates a LUN
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("CreateVolume"); err != nil {
		return nil, err
	}
	l, err := d.newLUN(vol.ID, d.poolOf(vol), vol.SizeGiB, false)
	if err != nil {
		return nil, err
	}
	return &driver.ModelUpdate{ProviderID: l.ID, ProviderLocation: l.Pool + "/" + l.ID}, nil
}

// DeleteVolume removes a LUN; snapshots of the LUN must be deleted first
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("DeleteVolume"); err != nil {
		return err
	}
	if _, ok := d.luns[vol.ProviderID]; !ok {
		d.Log.Warningf("volume %s: LUN %q does not exist", vol.ID, vol.ProviderID)
		return nil
	}
	for _, l := range d.luns {
		if l.Parent == vol.ProviderID {
			return driver.NewError(driver.CodeBusy, "delete volume", fmt.Sprintf("LUN %s has snapshot %s", vol.ProviderID, l.ID))
		}
	}
	delete(d.luns, vol.ProviderID)
	return nil
}

// InitializeConnection maps the LUN to the connector host
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("InitializeConnection"); err != nil {
		return nil, err
	}
	if err := conn.Validate(d.protocol); err != nil {
		return nil, err
	}
	l, err := d.lookup("initialize connection", vol.ProviderID)
	if err != nil {
		return nil, err
	}
	lun, ok := l.Hosts[conn.Host]
	if !ok {
		d.nextLUN++
		lun = d.nextLUN
		l.Hosts[conn.Host] = lun
	}
	switch d.protocol {
	case driver.ConnFC:
		targets := []string{"50000000000000a1", "50000000000000a2"}
		itm := map[string][]string{}
		for _, w := range conn.WWPNs {
			itm[w] = targets
		}
		return &driver.ConnectionInfo{
			DriverVolumeType: driver.ConnFC,
			Data:             driver.ConnectionData{VolumeID: vol.ID, TargetDiscovered: true, TargetLUN: lun, TargetWWN: targets, InitiatorTargetMap: itm},
		}, nil
	case driver.ConnLocal:
		return &driver.ConnectionInfo{
			DriverVolumeType: driver.ConnLocal,
			Data:             driver.ConnectionData{VolumeID: vol.ID, DevicePath: "/dev/fake/" + l.ID},
		}, nil
	}
	return driver.ISCSIConnection(vol.ID, []string{"iqn.2019-01.io.fake:" + l.ID}, []string{"127.0.0.1:3260"}, lun, conn.Multipath)
}

// TerminateConnection unmaps the LUN. FC connection info is returned when the host has no more LUNs.
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("TerminateConnection"); err != nil {
		return nil, err
	}
	l, err := d.lookup("terminate connection", vol.ProviderID)
	if err != nil {
		return nil, err
	}
	host := ""
	if conn != nil {
		host = conn.Host
	}
	if host == "" {
		l.Hosts = map[string]int{}
	} else {
		delete(l.Hosts, host)
	}
	if d.protocol != driver.ConnFC || conn == nil {
		return nil, nil
	}
	for _, o := range d.luns {
		if _, ok := o.Hosts[host]; ok {
			return nil, nil
		}
	}
	targets := []string{"50000000000000a1", "50000000000000a2"}
	itm := map[string][]string{}
	for _, w := range conn.WWPNs {
		itm[w] = targets
	}
	return &driver.ConnectionInfo{DriverVolumeType: driver.ConnFC, Data: driver.ConnectionData{TargetWWN: targets, InitiatorTargetMap: itm}}, nil
}

// CreateSnapshot creates a snapshot LUN
func (d *Driver) CreateSnapshot(ctx context.Context, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("CreateSnapshot"); err != nil {
		return nil, err
	}
	if snap.Volume == nil {
		return nil, driver.NewError(driver.CodeInvalidInput, "create snapshot", "source volume not set")
	}
	src, err := d.lookup("create snapshot", snap.Volume.ProviderID)
	if err != nil {
		return nil, err
	}
	l, err := d.newLUN(snap.ID, src.Pool, src.SizeGiB, true)
	if err != nil {
		return nil, err
	}
	l.Parent = src.ID
	return &driver.ModelUpdate{ProviderID: l.ID, Progress: "100%"}, nil
}

// DeleteSnapshot removes a snapshot LUN
func (d *Driver) DeleteSnapshot(ctx context.Context, snap *driver.SnapshotSpec) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("DeleteSnapshot"); err != nil {
		return err
	}
	delete(d.luns, snap.ProviderID)
	return nil
}

// CreateVolumeFromSnapshot copies a snapshot into a new LUN
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, vol *driver.VolumeSpec, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("CreateVolumeFromSnapshot"); err != nil {
		return nil, err
	}
	s, err := d.lookup("create volume from snapshot", snap.ProviderID)
	if err != nil {
		return nil, err
	}
	if vol.SizeGiB < s.SizeGiB {
		return nil, driver.NewError(driver.CodeInvalidInput, "create volume from snapshot", "volume is smaller than the snapshot")
	}
	l, err := d.newLUN(vol.ID, s.Pool, vol.SizeGiB, false)
	if err != nil {
		return nil, err
	}
	return &driver.ModelUpdate{ProviderID: l.ID, ProviderLocation: l.Pool + "/" + l.ID}, nil
}

// CreateClonedVolume copies a LUN
func (d *Driver) CreateClonedVolume(ctx context.Context, vol *driver.VolumeSpec, src *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("CreateClonedVolume"); err != nil {
		return nil, err
	}
	s, err := d.lookup("clone volume", src.ProviderID)
	if err != nil {
		return nil, err
	}
	size := vol.SizeGiB
	if size < s.SizeGiB {
		size = s.SizeGiB
	}
	l, err := d.newLUN(vol.ID, s.Pool, size, false)
	if err != nil {
		return nil, err
	}
	return &driver.ModelUpdate{ProviderID: l.ID, ProviderLocation: l.Pool + "/" + l.ID, SizeGiB: size}, nil
}

// ExtendVolume grows a LUN
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("ExtendVolume"); err != nil {
		return err
	}
	l, err := d.lookup("extend volume", vol.ProviderID)
	if err != nil {
		return err
	}
	if newSizeGiB <= l.SizeGiB {
		return driver.NewError(driver.CodeInvalidInput, "extend volume", fmt.Sprintf("new size %d must be larger than %d", newSizeGiB, l.SizeGiB))
	}
	if d.used(l.Pool)+newSizeGiB-l.SizeGiB > d.pools[l.Pool] {
		return driver.NewError(driver.CodeCapacity, "extend volume", fmt.Sprintf("pool %q is full", l.Pool))
	}
	l.SizeGiB = newSizeGiB
	return nil
}

func (d *Driver) refLUN(op string, ref map[string]string) (*LUN, error) {
	if id, ok := ref["source-id"]; ok {
		return d.lookup(op, id)
	}
	if name, ok := ref["source-name"]; ok {
		for _, l := range d.luns {
			if l.Name == name && !l.Snapshot {
				return l, nil
			}
		}
		return nil, &driver.Error{Code: driver.CodeNotFound, Op: op, Message: fmt.Sprintf("LUN %q not found", name)}
	}
	return nil, driver.NewError(driver.CodeInvalidInput, op, "reference must contain source-id or source-name")
}

// ManageExistingGetSize returns the size of an unmanaged LUN
func (d *Driver) ManageExistingGetSize(ctx context.Context, vol *driver.VolumeSpec, ref map[string]string) (int64, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("ManageExistingGetSize"); err != nil {
		return 0, err
	}
	l, err := d.refLUN("manage existing", ref)
	if err != nil {
		return 0, err
	}
	return l.SizeGiB, nil
}

// ManageExisting renames an unmanaged LUN after the volume
func (d *Driver) ManageExisting(ctx context.Context, vol *driver.VolumeSpec, ref map[string]string) (*driver.ModelUpdate, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("ManageExisting"); err != nil {
		return nil, err
	}
	l, err := d.refLUN("manage existing", ref)
	if err != nil {
		return nil, err
	}
	if len(l.Hosts) > 0 {
		return nil, driver.NewError(driver.CodeInvalidInput, "manage existing", fmt.Sprintf("LUN %s is mapped", l.ID))
	}
	l.Name = vol.ID
	return &driver.ModelUpdate{ProviderID: l.ID, ProviderLocation: l.Pool + "/" + l.ID}, nil
}

// GetManageableVolumes lists the LUNs of the backend
func (d *Driver) GetManageableVolumes(ctx context.Context) ([]*objects.ManageableVolume, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("GetManageableVolumes"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(d.luns))
	for id, l := range d.luns {
		if !l.Snapshot {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	res := make([]*objects.ManageableVolume, 0, len(ids))
	for _, id := range ids {
		l := d.luns[id]
		mv := &objects.ManageableVolume{
			Reference:    map[string]string{"source-id": l.ID, "source-name": l.Name},
			Size:         l.SizeGiB,
			SafeToManage: len(l.Hosts) == 0,
			ExtraInfo:    "pool=" + l.Pool,
		}
		if !mv.SafeToManage {
			mv.ReasonNotSafe = "volume in use"
		}
		res = append(res, mv)
	}
	return res, nil
}

// UnmanageVolume leaves the LUN on the backend
func (d *Driver) UnmanageVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("UnmanageVolume"); err != nil {
		return err
	}
	_, err := d.lookup("unmanage volume", vol.ProviderID)
	return err
}

// MigrateVolume moves a LUN to another pool
func (d *Driver) MigrateVolume(ctx context.Context, vol *driver.VolumeSpec, destPool string) (bool, *driver.ModelUpdate, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if err := d.call("MigrateVolume"); err != nil {
		return false, nil, err
	}
	l, err := d.lookup("migrate volume", vol.ProviderID)
	if err != nil {
		return false, nil, err
	}
	capacity, ok := d.pools[destPool]
	if !ok {
		return false, nil, nil
	}
	if d.used(destPool)+l.SizeGiB > capacity {
		return false, nil, driver.NewError(driver.CodeCapacity, "migrate volume", fmt.Sprintf("pool %q is full", destPool))
	}
	l.Pool = destPool
	return true, &driver.ModelUpdate{ProviderLocation: l.Pool + "/" + l.ID}, nil
}

// LUNs returns copies of the backend volumes
func (d *Driver) LUNs() []LUN {
	d.mux.Lock()
	defer d.mux.Unlock()
	res := []LUN{}
	for _, l := range d.luns {
		c := *l
		c.Hosts = map[string]int{}
		for h, n := range l.Hosts {
			c.Hosts[h] = n
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
