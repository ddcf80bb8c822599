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


// Package tatlin is the volume driver for YADRO Tatlin arrays. Block
// resources are created in a single pool and mapped over iSCSI to host
// personalities that are defined on the array.
package tatlin

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	"github.com/Nuvoloso/volumed/pkg/util"
	logging "github.com/op/go-logging"
)

// DriverType is the registered driver type
const DriverType = "tatlin"

// Configuration keys
const (
	KeyURLs             = "tatlin_url"
	KeyPool             = "pool_name"
	KeyMaxResourceCount = "tatlin_max_resource_count"
	KeyISCSIPorts       = "tatlin_iscsi_ports"
	KeyThin             = "tatlin_thin"
	KeyPollInterval     = "tatlin_poll_interval"
	KeyPollTimeout      = "tatlin_poll_timeout"
	KeyDebug            = "tatlin_rest_debug"
)

// MaxResourceCountDefault is the number of resources a pool may hold
const MaxResourceCountDefault = 150

// Driver is the Tatlin driver
type Driver struct {
	Log      *logging.Logger
	cfg      *driver.Config
	client   *Client
	poolName string
	maxRes   int
	ports    []string
	thin     bool
	poll     driver.PollArgs

	mux    sync.Mutex
	poolID string
	stats  *driver.BackendStats
}

var _ = driver.Extender(&Driver{})

func init() {
	driver.Register(DriverType, func(log *logging.Logger) driver.Driver { return &Driver{Log: log} })
}

// Type returns the driver type
func (d *Driver) Type() string {
	return DriverType
}

// Setup logs in and resolves the pool
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	if err := cfg.Require(KeyURLs, driver.KeySanLogin, driver.KeySanPassword, KeyPool); err != nil {
		return err
	}
	pw, err := cfg.Secret(driver.KeySanPassword)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.poolName = cfg.String(KeyPool, "")
	d.maxRes = cfg.Int(KeyMaxResourceCount, MaxResourceCountDefault)
	d.ports = cfg.List(KeyISCSIPorts)
	d.thin = cfg.Bool(KeyThin, true)
	d.poll = driver.PollArgs{
		Interval: cfg.Duration(KeyPollInterval, time.Second),
		Backoff:  1.5,
		Timeout:  cfg.Duration(KeyPollTimeout, 5*time.Minute),
	}
	rc, err := rest.New(&rest.Args{
		URLs:           cfg.List(KeyURLs),
		Insecure:       !cfg.Bool(driver.KeyDriverSSLCertVerify, false),
		Debug:          cfg.Bool(KeyDebug, false),
		SensitivePaths: []string{"/auth/login"},
		Log:            d.Log,
	})
	if err != nil {
		return d.err(driver.WrapError(driver.CodeInvalidInput, "setup", err))
	}
	d.client = NewClient(rc, cfg.String(driver.KeySanLogin, ""), pw, d.Log)
	if err = d.client.Login(ctx); err != nil {
		return d.err(err)
	}
	p, err := d.pool(ctx)
	if err != nil {
		return d.err(err)
	}
	d.poolID = p.ID
	return nil
}

func (d *Driver) err(err error) error {
	if d.cfg != nil {
		return driver.WithBackend(err, d.cfg.Name)
	}
	return err
}

func (d *Driver) pool(ctx context.Context) (*Pool, error) {
	pools, err := d.client.Pools(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pools {
		if p.Name == d.poolName {
			return p, nil
		}
	}
	return nil, driver.NewError(driver.CodeInvalidInput, "setup", fmt.Sprintf("pool %q not found", d.poolName))
}

// Stats reports the capacity of the pool
func (d *Driver) Stats(ctx context.Context, refresh bool) (*driver.BackendStats, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.stats != nil && !refresh {
		return d.stats, nil
	}
	p, err := d.pool(ctx)
	if err != nil {
		return nil, d.err(err)
	}
	ps := &driver.PoolStats{
		Name:                   p.Name,
		TotalCapacityGiB:       util.BytesToGiBFloat(p.CapacityTotal),
		FreeCapacityGiB:        util.BytesToGiBFloat(p.CapacityFree),
		ProvisionedCapacityGiB: util.BytesToGiBFloat(p.CapacityUsed),
		ThinProvisioning:       p.Thin,
		ThickProvisioning:      !p.Thin,
		MultiAttach:            true,
	}
	d.cfg.ApplyPoolDefaults(ps)
	d.stats = &driver.BackendStats{
		BackendName:     d.cfg.BackendName(),
		VendorName:      "YADRO",
		DriverVersion:   "1.0",
		StorageProtocol: "iSCSI",
		Capabilities:    driver.CapabilitiesOf(d),
		Pools:           []*driver.PoolStats{ps},
	}
	return d.stats, nil
}

func (d *Driver) waitReady(ctx context.Context, id string) error {
	pa := d.poll
	pa.Op = "resource " + id
	return driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		r, err := d.client.GetResource(ctx, id)
		if err != nil {
			return false, err
		}
		switch r.Status {
		case StatusReady, StatusOnline:
			return true, nil
		case StatusError:
			return false, driver.NewError(driver.CodeBackendAPI, "resource "+id, "resource is in error state")
		}
		return false, nil
	})
}

// CreateVolume creates a block resource named by the volume id
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	res, err := d.client.PoolResources(ctx, d.poolID)
	if err != nil {
		return nil, d.err(err)
	}
	if len(res) >= d.maxRes {
		return nil, d.err(driver.NewError(driver.CodeCapacity, "create volume", fmt.Sprintf("pool %s already holds %d resources", d.poolName, len(res))))
	}
	thin := d.thin
	switch vol.ExtraSpecs["provisioning:type"] {
	case "thin":
		thin = true
	case "thick":
		thin = false
	}
	r := &Resource{
		ID:     vol.ID,
		Name:   vol.ID,
		PoolID: d.poolID,
		Size:   util.GiBToBytes(vol.SizeGiB),
		Thin:   thin,
	}
	if err = d.client.CreateResource(ctx, r); err != nil {
		return nil, d.err(err)
	}
	if err = d.waitReady(ctx, r.ID); err != nil {
		return nil, d.err(err)
	}
	d.Log.Debugf("volume %s: created resource in pool %s", vol.ID, d.poolName)
	return &driver.ModelUpdate{ProviderID: r.ID, ProviderLocation: d.poolName + "/" + r.ID}, nil
}

// DeleteVolume deletes the resource and waits until it is gone
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	err := d.client.DeleteResource(ctx, vol.ID)
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: resource does not exist", vol.ID)
		return nil
	}
	if err != nil {
		return d.err(err)
	}
	pa := d.poll
	pa.Op = "delete resource " + vol.ID
	err = driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		_, err := d.client.GetResource(ctx, vol.ID)
		if driver.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
	return d.err(err)
}

// ExtendVolume grows the resource
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	if err := d.client.ExtendResource(ctx, vol.ID, util.GiBToBytes(newSizeGiB)); err != nil {
		return d.err(err)
	}
	return d.err(d.waitReady(ctx, vol.ID))
}

func (d *Driver) findHost(ctx context.Context, initiator string) (*Host, error) {
	hosts, err := d.client.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		if util.Contains(h.Initiators, initiator) {
			return h, nil
		}
	}
	return nil, driver.NewError(driver.CodeNotFound, "host", fmt.Sprintf("no host with initiator %s is defined on the array", initiator))
}

func (d *Driver) lunID(ctx context.Context, id, hostID string) (int, error) {
	maps, err := d.client.Mappings(ctx, id)
	if err != nil {
		return 0, err
	}
	for _, m := range maps {
		if m.HostID == hostID {
			return m.LUN, nil
		}
	}
	return 0, driver.NewError(driver.CodeBackendAPI, "mapping", fmt.Sprintf("resource %s is not mapped to host %s", id, hostID))
}

// InitializeConnection maps the resource to the host that owns the initiator
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if err := conn.Validate(driver.ConnISCSI); err != nil {
		return nil, err
	}
	h, err := d.findHost(ctx, conn.Initiator)
	if err != nil {
		return nil, d.err(err)
	}
	if err = d.client.MapResource(ctx, vol.ID, h.ID); err != nil && driver.CodeOf(err) != driver.CodeBusy {
		return nil, d.err(err)
	}
	lun, err := d.lunID(ctx, vol.ID, h.ID)
	if err != nil {
		return nil, d.err(err)
	}
	ports, err := d.client.ISCSIPorts(ctx)
	if err != nil {
		return nil, d.err(err)
	}
	var iqns, portals []string
	for _, p := range ports {
		if len(d.ports) > 0 && !util.Contains(d.ports, p.Name) {
			continue
		}
		port := p.Port
		if port == 0 {
			port = 3260
		}
		iqns = append(iqns, p.IQN)
		portals = append(portals, net.JoinHostPort(p.IP, strconv.Itoa(port)))
	}
	ci, err := driver.ISCSIConnection(vol.ID, iqns, portals, lun, conn.Multipath)
	if err != nil {
		return nil, d.err(err)
	}
	return ci, nil
}

// TerminateConnection unmaps the resource from the host
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if conn == nil || conn.Initiator == "" {
		maps, err := d.client.Mappings(ctx, vol.ID)
		if driver.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, d.err(err)
		}
		for _, m := range maps {
			if err = d.client.UnmapResource(ctx, vol.ID, m.HostID); err != nil && !driver.IsNotFound(err) {
				return nil, d.err(err)
			}
		}
		return nil, nil
	}
	h, err := d.findHost(ctx, conn.Initiator)
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: %s", vol.ID, err.Error())
		return nil, nil
	}
	if err != nil {
		return nil, d.err(err)
	}
	if err = d.client.UnmapResource(ctx, vol.ID, h.ID); err != nil && !driver.IsNotFound(err) {
		return nil, d.err(err)
	}
	return nil, nil
}
