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


// Package huawei is the volume driver for Huawei OceanStor arrays. It uses the
// array REST interface (deviceManager/rest) for provisioning, snapshots,
// LUN copy, LUN migration and host mapping over iSCSI or FC.
package huawei

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/util"
	logging "github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"
)

// DriverType is the registered driver type
const DriverType = "huawei"

// Configuration keys
const (
	KeyRESTURLs       = "huawei_rest_url"
	KeyStoragePools   = "storage_pools"
	KeyLUNType        = "huawei_lun_type"
	KeyProtocol       = "storage_protocol"
	KeyISCSITargetIPs = "iscsi_target_ips"
	KeyPollInterval   = "huawei_poll_interval"
	KeyPollTimeout    = "huawei_poll_timeout"
	KeyCopySpeed      = "huawei_copy_speed"
	KeyDebug          = "huawei_rest_debug"
	KeySSLCertPath    = "driver_ssl_cert_path"
)

// Object types and status values of the REST interface
const (
	objTypeLUN         = 11
	objTypeHostGroup   = 14
	objTypeHost        = 21
	objTypeSnapshot    = 27
	objTypeLUNCopy     = 219
	objTypeISCSIInit   = 222
	objTypeFCInit      = 223
	objTypeMappingView = 245
	objTypeLUNGroup    = 256
	objTypeMigration   = 253

	statusHealthNormal    = "1"
	statusHealthFaulty    = "2"
	statusLUNReady        = "27"
	statusSnapshotActive  = "43"
	statusLUNCopyComplete = "40"
	statusMigrationFault  = "74"
	statusMigrationDone   = "76"
	allocTypeThick        = "0"
	allocTypeThin         = "1"
	poolUsageBlock        = "1"
	maxNameLength         = 31
)

// Name prefixes of the mapping objects created per host
const (
	HostGroupPrefix   = "OpenStack_HostGroup_"
	LUNGroupPrefix    = "OpenStack_LunGroup_"
	MappingViewPrefix = "OpenStack_Mapping_View_"
)

// Driver is the OceanStor driver
type Driver struct {
	Log      *logging.Logger
	cfg      *driver.Config
	client   *Client
	pools    []string
	lunType  string
	protocol string
	tgtIPs   []string
	copySpd  int
	poll     driver.PollArgs

	mux   sync.Mutex
	stats *driver.BackendStats
}

var _ = driver.Snapshotter(&Driver{})
var _ = driver.Cloner(&Driver{})
var _ = driver.Extender(&Driver{})
var _ = driver.Manager(&Driver{})
var _ = driver.Migrator(&Driver{})

func init() {
	driver.Register(DriverType, func(log *logging.Logger) driver.Driver { return &Driver{Log: log} })
}

// Type returns the driver type
func (d *Driver) Type() string {
	return DriverType
}

// Setup validates the configuration, logs in and checks the configured pools
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	if err := cfg.Require(KeyRESTURLs, driver.KeySanLogin, driver.KeySanPassword, KeyStoragePools); err != nil {
		return err
	}
	pw, err := cfg.Secret(driver.KeySanPassword)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.pools = cfg.List(KeyStoragePools)
	d.lunType = allocTypeThick
	switch lt := cfg.String(KeyLUNType, "thick"); lt {
	case "thin":
		d.lunType = allocTypeThin
	case "thick":
	default:
		return &driver.Error{Code: driver.CodeInvalidInput, Op: "setup", Backend: cfg.Name, Message: fmt.Sprintf("invalid %s %q", KeyLUNType, lt)}
	}
	switch d.protocol = cfg.String(KeyProtocol, "iSCSI"); d.protocol {
	case "iSCSI", "FC":
	default:
		return &driver.Error{Code: driver.CodeInvalidInput, Op: "setup", Backend: cfg.Name, Message: fmt.Sprintf("invalid %s %q", KeyProtocol, d.protocol)}
	}
	d.tgtIPs = cfg.List(KeyISCSITargetIPs)
	d.copySpd = cfg.Int(KeyCopySpeed, 2)
	d.poll = driver.PollArgs{
		Interval: cfg.Duration(KeyPollInterval, 2*time.Second),
		Backoff:  1.5,
		Timeout:  cfg.Duration(KeyPollTimeout, 10*time.Minute),
	}
	if d.client, err = NewClient(&ClientArgs{
		URLs:     cfg.List(KeyRESTURLs),
		User:     cfg.String(driver.KeySanLogin, ""),
		Password: pw,
		Insecure: !cfg.Bool(driver.KeyDriverSSLCertVerify, false),
		CACert:   cfg.String(KeySSLCertPath, ""),
		Debug:    cfg.Bool(KeyDebug, false),
		Log:      d.Log,
	}); err != nil {
		return driver.WithBackend(driver.WrapError(driver.CodeInvalidInput, "setup", err), cfg.Name)
	}
	if err = d.client.Login(ctx); err != nil {
		return driver.WithBackend(err, cfg.Name)
	}
	pools, err := d.listPools(ctx)
	if err != nil {
		return driver.WithBackend(err, cfg.Name)
	}
	for _, p := range d.pools {
		if _, ok := pools[p]; !ok {
			return &driver.Error{Code: driver.CodeInvalidInput, Op: "setup", Backend: cfg.Name, Message: fmt.Sprintf("storage pool %q not found", p)}
		}
	}
	return nil
}

func (d *Driver) err(err error) error {
	if d.cfg != nil {
		return driver.WithBackend(err, d.cfg.Name)
	}
	return err
}

// EncodeName derives the array object name from a volume or snapshot id.
// UUIDs are encoded as 22 characters of URL safe base64.
func EncodeName(id string) string {
	if u, err := uuid.FromString(id); err == nil {
		return base64.RawURLEncoding.EncodeToString(u.Bytes())
	}
	if len(id) > maxNameLength {
		return id[:maxNameLength]
	}
	return id
}

// DecodeName returns the volume id encoded in an array object name, or the empty string
func DecodeName(name string) string {
	if len(name) != 22 {
		return ""
	}
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return ""
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return ""
	}
	return u.String()
}

// EncodeHostName shortens host names the array would reject
func EncodeHostName(host string) string {
	if len(host) <= maxNameLength {
		return host
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])[:maxNameLength]
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Stats reports the capacity of the configured pools
func (d *Driver) Stats(ctx context.Context, refresh bool) (*driver.BackendStats, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.stats != nil && !refresh {
		return d.stats, nil
	}
	pools, err := d.listPools(ctx)
	if err != nil {
		return nil, d.err(err)
	}
	bs := &driver.BackendStats{
		BackendName:     d.cfg.BackendName(),
		VendorName:      "Huawei",
		DriverVersion:   "2.2.0",
		StorageProtocol: d.protocol,
		Capabilities:    driver.CapabilitiesOf(d),
	}
	for _, name := range d.pools {
		p, ok := pools[name]
		if !ok {
			d.Log.Warningf("%s: storage pool %s not found", d.cfg.Name, name)
			continue
		}
		ps := &driver.PoolStats{
			Name:                   name,
			TotalCapacityGiB:       util.SectorsToGiBFloat(atoi64(p.UserTotalCapacity)),
			FreeCapacityGiB:        util.SectorsToGiBFloat(atoi64(p.UserFreeCapacity)),
			ProvisionedCapacityGiB: util.SectorsToGiBFloat(atoi64(p.LUNConfigedCapacity)),
			ThinProvisioning:       true,
			ThickProvisioning:      true,
			MultiAttach:            true,
		}
		d.cfg.ApplyPoolDefaults(ps)
		bs.Pools = append(bs.Pools, ps)
	}
	d.stats = bs
	return bs, nil
}

func (d *Driver) poolFor(vol *driver.VolumeSpec) string {
	if vol.Pool != "" {
		return vol.Pool
	}
	return d.pools[0]
}

func (d *Driver) allocType(vol *driver.VolumeSpec) string {
	switch vol.ExtraSpecs["provisioning:type"] {
	case "thin":
		return allocTypeThin
	case "thick":
		return allocTypeThick
	}
	return d.lunType
}

// lunID returns the array id of a volume, looking it up by name if the provider id is not recorded
func (d *Driver) lunID(ctx context.Context, vol *driver.VolumeSpec) (string, error) {
	if vol.ProviderID != "" {
		return vol.ProviderID, nil
	}
	if vol.ProviderLocation != "" {
		return vol.ProviderLocation, nil
	}
	l, err := d.findLUN(ctx, EncodeName(vol.ID))
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

func lunUpdate(l *lunInfo) *driver.ModelUpdate {
	return &driver.ModelUpdate{
		ProviderID:       l.ID,
		ProviderLocation: l.ID,
		AdminMetadata:    map[string]string{"huawei_lun_wwn": l.WWN},
	}
}

// CreateVolume creates a LUN and waits until it is online
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	l, err := d.createLUN(ctx, EncodeName(vol.ID), vol.Name, d.poolFor(vol), vol.SizeGiB, d.allocType(vol))
	if err != nil {
		return nil, d.err(err)
	}
	return lunUpdate(l), nil
}

// DeleteVolume deletes the LUN; a LUN that does not exist is not an error
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	id, err := d.lunID(ctx, vol)
	if err == nil {
		err = d.deleteLUN(ctx, id)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: LUN does not exist", vol.ID)
		return nil
	}
	return d.err(err)
}

// ExtendVolume expands the LUN
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	id, err := d.lunID(ctx, vol)
	if err == nil {
		err = d.client.call(ctx, "PUT", "/lun/expand", nil, map[string]interface{}{
			"TYPE":     objTypeLUN,
			"ID":       id,
			"CAPACITY": util.GiBToSectors(newSizeGiB),
		}, nil)
	}
	return d.err(err)
}

// CreateSnapshot creates and activates a snapshot of the source LUN
func (d *Driver) CreateSnapshot(ctx context.Context, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	if snap.Volume == nil {
		return nil, driver.NewError(driver.CodeInvalidInput, "create snapshot", "source volume not set")
	}
	lunID, err := d.lunID(ctx, snap.Volume)
	if err != nil {
		return nil, d.err(err)
	}
	s, err := d.createSnapshot(ctx, lunID, EncodeName(snap.ID), snap.Name)
	if err != nil {
		return nil, d.err(err)
	}
	return &driver.ModelUpdate{ProviderID: s.ID, ProviderLocation: s.ID, Progress: "100%"}, nil
}

func (d *Driver) snapshotID(ctx context.Context, snap *driver.SnapshotSpec) (string, error) {
	if snap.ProviderID != "" {
		return snap.ProviderID, nil
	}
	if snap.ProviderLocation != "" {
		return snap.ProviderLocation, nil
	}
	s, err := d.findSnapshot(ctx, EncodeName(snap.ID))
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// DeleteSnapshot stops and deletes the snapshot
func (d *Driver) DeleteSnapshot(ctx context.Context, snap *driver.SnapshotSpec) error {
	id, err := d.snapshotID(ctx, snap)
	if err == nil {
		err = d.deleteSnapshot(ctx, id)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("snapshot %s: does not exist on the array", snap.ID)
		return nil
	}
	return d.err(err)
}

// CreateVolumeFromSnapshot creates a LUN and fills it with a LUN copy from the snapshot
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, vol *driver.VolumeSpec, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	snapID, err := d.snapshotID(ctx, snap)
	if err != nil {
		return nil, d.err(err)
	}
	mu, err := d.copyIntoNewLUN(ctx, vol, snapID)
	return mu, d.err(err)
}

// CreateClonedVolume copies the source LUN through a temporary snapshot
func (d *Driver) CreateClonedVolume(ctx context.Context, vol *driver.VolumeSpec, src *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	srcID, err := d.lunID(ctx, src)
	if err != nil {
		return nil, d.err(err)
	}
	s, err := d.createSnapshot(ctx, srcID, EncodeName(vol.ID)+"_c", "clone source for "+vol.ID)
	if err != nil {
		return nil, d.err(err)
	}
	defer func() {
		if err := d.deleteSnapshot(ctx, s.ID); err != nil {
			d.Log.Errorf("volume %s: failed to delete temporary snapshot %s: %s", vol.ID, s.ID, err.Error())
		}
	}()
	if vol.SizeGiB < src.SizeGiB {
		vol.SizeGiB = src.SizeGiB
	}
	mu, err := d.copyIntoNewLUN(ctx, vol, s.ID)
	return mu, d.err(err)
}

func (d *Driver) copyIntoNewLUN(ctx context.Context, vol *driver.VolumeSpec, snapID string) (*driver.ModelUpdate, error) {
	l, err := d.createLUN(ctx, EncodeName(vol.ID), vol.Name, d.poolFor(vol), vol.SizeGiB, d.allocType(vol))
	if err != nil {
		return nil, err
	}
	if err = d.lunCopy(ctx, EncodeName(vol.ID), snapID, l.ID); err != nil {
		if dErr := d.deleteLUN(ctx, l.ID); dErr != nil {
			d.Log.Errorf("volume %s: failed to delete LUN %s: %s", vol.ID, l.ID, dErr.Error())
		}
		return nil, err
	}
	return lunUpdate(l), nil
}

// MigrateVolume moves the LUN to another configured pool with a LUN migration task
func (d *Driver) MigrateVolume(ctx context.Context, vol *driver.VolumeSpec, destPool string) (bool, *driver.ModelUpdate, error) {
	if !util.Contains(d.pools, destPool) {
		return false, nil, nil
	}
	id, err := d.lunID(ctx, vol)
	if err != nil {
		return false, nil, d.err(err)
	}
	src, err := d.getLUN(ctx, id)
	if err != nil {
		return false, nil, d.err(err)
	}
	if src.ParentName == destPool {
		return true, nil, nil
	}
	if err = d.migrateLUN(ctx, src, destPool); err != nil {
		return false, nil, d.err(err)
	}
	return true, &driver.ModelUpdate{ProviderLocation: src.ID}, nil
}
