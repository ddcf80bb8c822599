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


// Package synology is the volume driver for Synology DSM. LUNs are created on a
// DSM volume and exported through one iSCSI target per volume.
package synology

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	"github.com/Nuvoloso/volumed/pkg/util"
	logging "github.com/op/go-logging"
)

// DriverType is the registered driver type
const DriverType = "synology"

// Configuration keys
const (
	KeyURL          = "synology_url"
	KeyPoolName     = "synology_pool_name"
	KeyTargetIP     = "target_ip_address"
	KeyTargetPort   = "target_port"
	KeyTargetPrefix = "target_prefix"
	KeyThin         = "synology_thin"
	KeyPollInterval = "synology_poll_interval"
	KeyPollTimeout  = "synology_poll_timeout"
	KeyDebug        = "synology_rest_debug"
)

// Object name prefixes and defaults
const (
	LUNPrefix           = "LUN-"
	SnapshotPrefix      = "Snapshot-"
	TargetPrefix        = "Target-"
	TargetPrefixDefault = "iqn.2000-01.com.synology:"
	lunTypeThin         = "BLUN"
	lunTypeThick        = "BLUN_THICK"
	lunStatusNormal     = "normal"
	snapStatusHealthy   = "Healthy"
)

// LUN is an iSCSI LUN
type LUN struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Location string `json:"location"`
	Type     string `json:"type"`
	Status   string `json:"status"`
}

// Snapshot is a LUN snapshot
type Snapshot struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Parent  string `json:"parent_uuid"`
	TotalSz int64  `json:"total_size"`
}

// Target is an iSCSI target
type Target struct {
	TargetID   int          `json:"target_id"`
	Name       string       `json:"name"`
	IQN        string       `json:"iqn"`
	MappedLUNs []*MappedLUN `json:"mapped_luns"`
}

// MappedLUN is a LUN mapped to a target
type MappedLUN struct {
	LUNUUID      string `json:"lun_uuid"`
	MappingIndex int    `json:"mapping_index"`
}

// Driver is the Synology driver
type Driver struct {
	Log       *logging.Logger
	cfg       *driver.Config
	client    *Client
	pool      string
	targetIP  string
	port      int
	iqnPrefix string
	thin      bool
	poll      driver.PollArgs

	mux   sync.Mutex
	stats *driver.BackendStats
}

var _ = driver.Snapshotter(&Driver{})
var _ = driver.Cloner(&Driver{})
var _ = driver.Extender(&Driver{})

func init() {
	driver.Register(DriverType, func(log *logging.Logger) driver.Driver { return &Driver{Log: log} })
}

// Type returns the driver type
func (d *Driver) Type() string {
	return DriverType
}

// Setup logs in and checks the DSM volume
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	if err := cfg.Require(KeyURL, driver.KeySanLogin, driver.KeySanPassword, KeyPoolName, KeyTargetIP); err != nil {
		return err
	}
	pw, err := cfg.Secret(driver.KeySanPassword)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.pool = strings.TrimPrefix(cfg.String(KeyPoolName, ""), "/")
	d.targetIP = cfg.String(KeyTargetIP, "")
	d.port = cfg.Int(KeyTargetPort, 3260)
	d.iqnPrefix = cfg.String(KeyTargetPrefix, TargetPrefixDefault)
	d.thin = cfg.Bool(KeyThin, true)
	d.poll = driver.PollArgs{
		Interval: cfg.Duration(KeyPollInterval, time.Second),
		Backoff:  1.5,
		Timeout:  cfg.Duration(KeyPollTimeout, 10*time.Minute),
	}
	rc, err := rest.New(&rest.Args{
		URLs:           []string{cfg.String(KeyURL, "")},
		Insecure:       !cfg.Bool(driver.KeyDriverSSLCertVerify, false),
		Debug:          cfg.Bool(KeyDebug, false),
		SensitivePaths: []string{"auth.cgi"},
		Log:            d.Log,
	})
	if err != nil {
		return d.err(driver.WrapError(driver.CodeInvalidInput, "setup", err))
	}
	d.client = NewClient(rc, cfg.String(driver.KeySanLogin, ""), pw, d.Log)
	if err = d.client.Login(ctx); err != nil {
		return d.err(err)
	}
	if _, err = d.Stats(ctx, true); err != nil {
		return err
	}
	return nil
}

func (d *Driver) err(err error) error {
	if d.cfg != nil {
		return driver.WithBackend(err, d.cfg.Name)
	}
	return err
}

func (d *Driver) location() string {
	return "/" + d.pool
}

// Stats reports the capacity of the DSM volume
func (d *Driver) Stats(ctx context.Context, refresh bool) (*driver.BackendStats, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.stats != nil && !refresh {
		return d.stats, nil
	}
	var res struct {
		Volume struct {
			Path  string `json:"volume_path"`
			Total string `json:"size_total_byte"`
			Free  string `json:"size_free_byte"`
			FS    string `json:"fs_type"`
		} `json:"volume"`
	}
	err := d.client.Call(ctx, APIVolume, "get", 1, map[string]interface{}{"volume_path": d.location()}, &res)
	if err != nil {
		return nil, d.err(err)
	}
	total, _ := strconv.ParseInt(res.Volume.Total, 10, 64)
	free, _ := strconv.ParseInt(res.Volume.Free, 10, 64)
	ps := &driver.PoolStats{
		Name:                   d.pool,
		TotalCapacityGiB:       util.BytesToGiBFloat(total),
		FreeCapacityGiB:        util.BytesToGiBFloat(free),
		ProvisionedCapacityGiB: util.BytesToGiBFloat(total - free),
		ThinProvisioning:       res.Volume.FS == "btrfs" || d.thin,
		ThickProvisioning:      true,
	}
	d.cfg.ApplyPoolDefaults(ps)
	d.stats = &driver.BackendStats{
		BackendName:     d.cfg.BackendName(),
		VendorName:      "Synology",
		DriverVersion:   "1.0.0",
		StorageProtocol: "iSCSI",
		Capabilities:    driver.CapabilitiesOf(d),
		Pools:           []*driver.PoolStats{ps},
	}
	return d.stats, nil
}

func (d *Driver) getLUN(ctx context.Context, uuid string) (*LUN, error) {
	var res struct {
		LUN *LUN `json:"lun"`
	}
	if err := d.client.Call(ctx, APILUN, "get", 1, map[string]interface{}{"uuid": uuid}, &res); err != nil {
		return nil, err
	}
	if res.LUN == nil {
		return nil, CodeError(APILUN+" get", ErrCodeLUNNotExist)
	}
	return res.LUN, nil
}

func (d *Driver) findLUN(ctx context.Context, name string) (*LUN, error) {
	var res struct {
		LUNs []*LUN `json:"luns"`
	}
	if err := d.client.Call(ctx, APILUN, "list", 1, map[string]interface{}{"location": d.location()}, &res); err != nil {
		return nil, err
	}
	for _, l := range res.LUNs {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, CodeError(APILUN+" list", ErrCodeLUNNotExist)
}

// lunUUID returns the DSM id of a volume, looking it up by name if the provider id is not recorded
func (d *Driver) lunUUID(ctx context.Context, vol *driver.VolumeSpec) (string, error) {
	if vol.ProviderID != "" {
		return vol.ProviderID, nil
	}
	l, err := d.findLUN(ctx, LUNPrefix+vol.ID)
	if err != nil {
		return "", err
	}
	return l.UUID, nil
}

func (d *Driver) waitLUN(ctx context.Context, uuid string) (*LUN, error) {
	pa := d.poll
	pa.Op = "LUN " + uuid
	var lun *LUN
	err := driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		l, err := d.getLUN(ctx, uuid)
		if err != nil {
			return false, err
		}
		lun = l
		return strings.EqualFold(l.Status, lunStatusNormal), nil
	})
	if err != nil {
		return nil, err
	}
	return lun, nil
}

func (d *Driver) lunType(vol *driver.VolumeSpec) string {
	thin := d.thin
	switch vol.ExtraSpecs["provisioning:type"] {
	case "thin":
		thin = true
	case "thick":
		thin = false
	}
	if thin {
		return lunTypeThin
	}
	return lunTypeThick
}

// lunReady waits for a new LUN and grows it when it came out smaller than the volume
func (d *Driver) lunReady(ctx context.Context, uuid string, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	lun, err := d.waitLUN(ctx, uuid)
	if err != nil {
		return nil, d.err(err)
	}
	if lun.Size < util.GiBToBytes(vol.SizeGiB) {
		if err := d.resize(ctx, uuid, vol.SizeGiB); err != nil {
			return nil, d.err(err)
		}
	}
	return &driver.ModelUpdate{ProviderID: uuid, ProviderLocation: d.location() + "/" + LUNPrefix + vol.ID}, nil
}

// CreateVolume creates a LUN on the DSM volume
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	var res struct {
		UUID string `json:"uuid"`
	}
	err := d.client.Call(ctx, APILUN, "create", 1, map[string]interface{}{
		"name":     LUNPrefix + vol.ID,
		"location": d.location(),
		"type":     d.lunType(vol),
		"size":     util.GiBToBytes(vol.SizeGiB),
	}, &res)
	if err != nil {
		return nil, d.err(err)
	}
	return d.lunReady(ctx, res.UUID, vol)
}

// DeleteVolume removes the target of the volume and deletes the LUN
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	if err := d.removeTarget(ctx, vol); err != nil {
		return d.err(err)
	}
	uuid, err := d.lunUUID(ctx, vol)
	if err == nil {
		err = d.client.Call(ctx, APILUN, "delete", 1, map[string]interface{}{"uuid": uuid}, nil)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: LUN does not exist", vol.ID)
		return nil
	}
	return d.err(err)
}

func (d *Driver) resize(ctx context.Context, uuid string, sizeGiB int64) error {
	err := d.client.Call(ctx, APILUN, "set", 1, map[string]interface{}{"uuid": uuid, "new_size": util.GiBToBytes(sizeGiB)}, nil)
	if err != nil {
		return err
	}
	_, err = d.waitLUN(ctx, uuid)
	return err
}

// ExtendVolume grows the LUN
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	uuid, err := d.lunUUID(ctx, vol)
	if err == nil {
		err = d.resize(ctx, uuid, newSizeGiB)
	}
	return d.err(err)
}

func (d *Driver) getSnapshot(ctx context.Context, uuid string) (*Snapshot, error) {
	var res struct {
		Snapshot *Snapshot `json:"snapshot"`
	}
	if err := d.client.Call(ctx, APILUN, "get_snapshot", 1, map[string]interface{}{"snapshot_uuid": uuid}, &res); err != nil {
		return nil, err
	}
	if res.Snapshot == nil {
		return nil, CodeError(APILUN+" get_snapshot", ErrCodeSnapshotNotExist)
	}
	return res.Snapshot, nil
}

// CreateSnapshot takes a locked snapshot of the LUN and waits until it is healthy
func (d *Driver) CreateSnapshot(ctx context.Context, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	uuid, err := d.lunUUID(ctx, snap.Volume)
	if err != nil {
		return nil, d.err(err)
	}
	var res struct {
		UUID string `json:"snapshot_uuid"`
	}
	err = d.client.Call(ctx, APILUN, "take_snapshot", 1, map[string]interface{}{
		"src_lun_uuid":      uuid,
		"snapshot_name":     SnapshotPrefix + snap.ID,
		"description":       snap.Name,
		"is_app_consistent": false,
		"is_locked":         true,
	}, &res)
	if err != nil {
		return nil, d.err(err)
	}
	pa := d.poll
	pa.Op = "snapshot " + res.UUID
	err = driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		s, err := d.getSnapshot(ctx, res.UUID)
		if err != nil {
			return false, err
		}
		return s.Status == snapStatusHealthy, nil
	})
	if err != nil {
		return nil, d.err(err)
	}
	return &driver.ModelUpdate{ProviderID: res.UUID, ProviderLocation: uuid + "/" + res.UUID}, nil
}

// DeleteSnapshot deletes the snapshot; a missing snapshot is not an error
func (d *Driver) DeleteSnapshot(ctx context.Context, snap *driver.SnapshotSpec) error {
	if snap.ProviderID == "" {
		d.Log.Warningf("snapshot %s: no snapshot recorded", snap.ID)
		return nil
	}
	err := d.client.Call(ctx, APILUN, "delete_snapshot", 1, map[string]interface{}{"snapshot_uuid": snap.ProviderID}, nil)
	if driver.IsNotFound(err) {
		d.Log.Warningf("snapshot %s: does not exist on the array", snap.ID)
		return nil
	}
	return d.err(err)
}

// CreateVolumeFromSnapshot clones the snapshot into a new LUN
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, vol *driver.VolumeSpec, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	src, err := d.lunUUID(ctx, snap.Volume)
	if err != nil {
		return nil, d.err(err)
	}
	var res struct {
		UUID string `json:"cloned_lun_uuid"`
	}
	err = d.client.Call(ctx, APILUN, "clone_snapshot", 1, map[string]interface{}{
		"src_lun_uuid":    src,
		"snapshot_uuid":   snap.ProviderID,
		"cloned_lun_name": LUNPrefix + vol.ID,
	}, &res)
	if err != nil {
		return nil, d.err(err)
	}
	return d.lunReady(ctx, res.UUID, vol)
}

// CreateClonedVolume clones a LUN
func (d *Driver) CreateClonedVolume(ctx context.Context, vol *driver.VolumeSpec, src *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	srcUUID, err := d.lunUUID(ctx, src)
	if err != nil {
		return nil, d.err(err)
	}
	var res struct {
		UUID string `json:"dst_lun_uuid"`
	}
	err = d.client.Call(ctx, APILUN, "clone", 1, map[string]interface{}{
		"src_lun_uuid": srcUUID,
		"dst_lun_name": LUNPrefix + vol.ID,
		"dst_location": d.location(),
	}, &res)
	if err != nil {
		return nil, d.err(err)
	}
	return d.lunReady(ctx, res.UUID, vol)
}

func (d *Driver) findTarget(ctx context.Context, name string) (*Target, error) {
	var res struct {
		Targets []*Target `json:"targets"`
	}
	err := d.client.Call(ctx, APITarget, "list", 1, map[string]interface{}{"additional": []string{"mapped_lun"}}, &res)
	if err != nil {
		return nil, err
	}
	for _, t := range res.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, nil
}

func (d *Driver) removeTarget(ctx context.Context, vol *driver.VolumeSpec) error {
	t, err := d.findTarget(ctx, TargetPrefix+vol.ID)
	if err != nil || t == nil {
		return err
	}
	for _, ml := range t.MappedLUNs {
		err = d.client.Call(ctx, APILUN, "unmap_target", 1, map[string]interface{}{"uuid": ml.LUNUUID, "target_ids": []string{strconv.Itoa(t.TargetID)}}, nil)
		if err != nil && !driver.IsNotFound(err) {
			return err
		}
	}
	err = d.client.Call(ctx, APITarget, "delete", 1, map[string]interface{}{"target_id": strconv.Itoa(t.TargetID)}, nil)
	if err != nil && !driver.IsNotFound(err) {
		return err
	}
	d.Log.Debugf("volume %s: removed target %s", vol.ID, t.IQN)
	return nil
}

// InitializeConnection exports the LUN through the target of the volume, creating it if needed
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if err := conn.Validate(driver.ConnISCSI); err != nil {
		return nil, err
	}
	uuid, err := d.lunUUID(ctx, vol)
	if err != nil {
		return nil, d.err(err)
	}
	name := TargetPrefix + vol.ID
	t, err := d.findTarget(ctx, name)
	if err != nil {
		return nil, d.err(err)
	}
	if t == nil {
		var res struct {
			TargetID int `json:"target_id"`
		}
		err = d.client.Call(ctx, APITarget, "create", 1, map[string]interface{}{
			"name":      name,
			"iqn":       d.iqnPrefix + strings.ToLower(name),
			"auth_type": 0,
		}, &res)
		if err != nil {
			return nil, d.err(err)
		}
		t = &Target{TargetID: res.TargetID, Name: name, IQN: d.iqnPrefix + strings.ToLower(name)}
	}
	var ml *MappedLUN
	for _, m := range t.MappedLUNs {
		if m.LUNUUID == uuid {
			ml = m
		}
	}
	if ml == nil {
		err = d.client.Call(ctx, APILUN, "map_target", 1, map[string]interface{}{"uuid": uuid, "target_ids": []string{strconv.Itoa(t.TargetID)}}, nil)
		if err != nil {
			return nil, d.err(err)
		}
		if t, err = d.findTarget(ctx, name); err == nil && t != nil {
			for _, m := range t.MappedLUNs {
				if m.LUNUUID == uuid {
					ml = m
				}
			}
		}
		if err != nil {
			return nil, d.err(err)
		}
		if ml == nil {
			return nil, d.err(driver.NewError(driver.CodeBackendAPI, "initialize connection", fmt.Sprintf("LUN %s is not mapped to target %s", uuid, name)))
		}
	}
	portal := net.JoinHostPort(d.targetIP, strconv.Itoa(d.port))
	ci, err := driver.ISCSIConnection(vol.ID, []string{t.IQN}, []string{portal}, ml.MappingIndex, conn.Multipath)
	if err != nil {
		return nil, d.err(err)
	}
	return ci, nil
}

// TerminateConnection removes the target of the volume
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	return nil, d.err(d.removeTarget(ctx, vol))
}
