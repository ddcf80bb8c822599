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


// Package gce provides a volume driver for Google Compute Engine persistent disks
package gce

import (
	"context"
	"fmt"
	"io/ioutil"
	"path"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/gcsdk"
	logging "github.com/op/go-logging"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriverType is the registered driver type
const DriverType = "gce"

// Configuration keys
const (
	KeyProject         = "gce_project"
	KeyZone            = "gce_zone"
	KeyCredentialsFile = "gce_credentials_file"
	KeyDiskType        = "gce_disk_type"
	KeyCapacity        = "gce_capacity_gib"
	KeyPollInterval    = "gce_poll_interval"
	KeyPollTimeout     = "gce_poll_timeout"
)

// ExtraSpecDiskType selects the disk type from a volume type
const ExtraSpecDiskType = "gce:disk_type"

// Labels set on created resources
const (
	LabelVolumeID   = "volumed-volume-id"
	LabelSnapshotID = "volumed-snapshot-id"
)

// Defaults
const (
	DiskTypeDefault = "pd-standard"
	CapacityDefault = 65536
	// DevicePathPrefix is where the guest finds a disk by its device name
	DevicePathPrefix = "/dev/disk/by-id/google-"
)

const (
	diskNamePrefix     = "volume-"
	snapshotNamePrefix = "snapshot-"
	opStatusDone       = "DONE"
	zoneStatusUp       = "UP"
)

// Driver is the GCE persistent disk driver
type Driver struct {
	Log      *logging.Logger
	cfg      *driver.Config
	compute  gcsdk.ComputeService
	project  string
	zone     string
	diskType string
	capacity float64
	poll     driver.PollArgs

	mux   sync.Mutex
	stats *driver.BackendStats
}

var _ = driver.Snapshotter(&Driver{})
var _ = driver.Cloner(&Driver{})
var _ = driver.Extender(&Driver{})

func init() {
	driver.Register(DriverType, func(log *logging.Logger) driver.Driver { return &Driver{Log: log} })
}

// replaced during UT
var newAPIHook = gcsdk.New
var extraClientOptions []option.ClientOption

// Type returns the driver type
func (d *Driver) Type() string {
	return DriverType
}

// Setup loads the credentials, creates the compute service and checks the zone
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	if err := cfg.Require(KeyZone); err != nil {
		return err
	}
	d.cfg = cfg
	d.zone = cfg.String(KeyZone, "")
	d.project = cfg.String(KeyProject, "")
	d.diskType = cfg.String(KeyDiskType, DiskTypeDefault)
	d.capacity = cfg.Float(KeyCapacity, CapacityDefault)
	d.poll = driver.PollArgs{
		Interval: cfg.Duration(KeyPollInterval, time.Second),
		Backoff:  1.5,
		Timeout:  cfg.Duration(KeyPollTimeout, 5*time.Minute),
	}
	opts := []option.ClientOption{}
	if file := cfg.String(KeyCredentialsFile, ""); file != "" {
		data, err := ioutil.ReadFile(file)
		if err != nil {
			return d.err(driver.WrapError(driver.CodeInvalidInput, "setup", err))
		}
		creds, err := google.CredentialsFromJSON(ctx, data, compute.ComputeScope)
		if err != nil {
			return d.err(driver.WrapError(driver.CodeAuth, "setup", fmt.Errorf("invalid credentials in %s: %w", file, err)))
		}
		if d.project == "" {
			d.project = creds.ProjectID
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	if d.project == "" {
		return d.err(driver.NewError(driver.CodeInvalidInput, "setup", KeyProject+" is required"))
	}
	opts = append(opts, extraClientOptions...)
	svc, err := newAPIHook().NewComputeService(ctx, opts...)
	if err != nil {
		return d.err(driver.WrapError(driver.CodeBackendAPI, "setup", fmt.Errorf("failed to create GC compute service: %w", err)))
	}
	d.compute = svc
	z, err := d.compute.Zones().Get(d.project, d.zone).Context(ctx).Do()
	if err != nil {
		return d.err(gceError("setup", err))
	}
	if z.Status != zoneStatusUp {
		return d.err(driver.NewError(driver.CodeInvalidInput, "setup", fmt.Sprintf("zone %s is %s", d.zone, z.Status)))
	}
	d.Log.Infof("%s: using zone %s in project %s", cfg.Name, d.zone, d.project)
	return nil
}

func (d *Driver) err(err error) error {
	if d.cfg != nil {
		return driver.WithBackend(err, d.cfg.Name)
	}
	return err
}

var reasonCodes = map[string]driver.Code{
	"notFound":                            driver.CodeNotFound,
	"alreadyExists":                       driver.CodeInvalidInput,
	"invalid":                             driver.CodeInvalidInput,
	"resourceInUseByAnotherResource":      driver.CodeBusy,
	"resourceNotReady":                    driver.CodeBusy,
	"rateLimitExceeded":                   driver.CodeBusy,
	"quotaExceeded":                       driver.CodeCapacity,
	"forbidden":                           driver.CodeAuth,
	"RESOURCE_NOT_FOUND":                  driver.CodeNotFound,
	"RESOURCE_IN_USE_BY_ANOTHER_RESOURCE": driver.CodeBusy,
	"QUOTA_EXCEEDED":                      driver.CodeCapacity,
	"ZONE_RESOURCE_POOL_EXHAUSTED":        driver.CodeCapacity,
}

var statusCodes = map[int]driver.Code{
	400: driver.CodeInvalidInput,
	401: driver.CodeAuth,
	403: driver.CodeAuth,
	404: driver.CodeNotFound,
	409: driver.CodeBusy,
	429: driver.CodeBusy,
}

// gceError classifies an API error by reason, falling back on the HTTP status; nil stays nil
func gceError(op string, err error) error {
	if err == nil {
		return nil
	}
	gErr, ok := err.(*googleapi.Error)
	if !ok {
		return driver.WrapError(driver.CodeBackendAPI, op, err)
	}
	de := &driver.Error{Code: driver.CodeBackendAPI, Op: op, Message: gErr.Message}
	if c, ok := statusCodes[gErr.Code]; ok {
		de.Code = c
	}
	if len(gErr.Errors) > 0 {
		de.VendorCode = gErr.Errors[0].Reason
		if c, ok := reasonCodes[de.VendorCode]; ok {
			de.Code = c
		}
	}
	if de.Message == "" {
		de.Message = fmt.Sprintf("HTTP status %d", gErr.Code)
	}
	return de
}

// waitForOperation polls a zone or global operation until it is done
func (d *Driver) waitForOperation(ctx context.Context, op string, operation *compute.Operation) error {
	pa := d.poll
	pa.Op = op
	return driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		var res *compute.Operation
		var err error
		if operation.Zone != "" {
			res, err = d.compute.ZoneOperations().Get(d.project, d.zone, operation.Name).Context(ctx).Do()
		} else {
			res, err = d.compute.GlobalOperations().Get(d.project, operation.Name).Context(ctx).Do()
		}
		if err != nil {
			return false, gceError(op, err)
		}
		if res.Status != opStatusDone {
			return false, nil
		}
		if res.Error != nil && len(res.Error.Errors) > 0 {
			oe := res.Error.Errors[0]
			code, ok := reasonCodes[oe.Code]
			if !ok {
				code = driver.CodeBackendAPI
			}
			return true, &driver.Error{Code: code, Op: op, VendorCode: oe.Code, Message: oe.Message}
		}
		return true, nil
	})
}

func (d *Driver) diskName(vol *driver.VolumeSpec) string {
	if vol.ProviderID != "" {
		return vol.ProviderID
	}
	return diskNamePrefix + vol.ID
}

func (d *Driver) diskSource(name string) string {
	return fmt.Sprintf("projects/%s/zones/%s/disks/%s", d.project, d.zone, name)
}

// Stats reports the configured capacity of the zone less the size of the disks created by the service
func (d *Driver) Stats(ctx context.Context, refresh bool) (*driver.BackendStats, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.stats != nil && !refresh {
		return d.stats, nil
	}
	var provisioned float64
	req := d.compute.Disks().List(d.project, d.zone).Filter(fmt.Sprintf("labels.%s:*", LabelVolumeID))
	if err := req.Pages(ctx, func(page *compute.DiskList) error {
		for _, disk := range page.Items {
			provisioned += float64(disk.SizeGb)
		}
		return nil
	}); err != nil {
		return nil, d.err(gceError("stats", err))
	}
	ps := &driver.PoolStats{
		Name:                   d.zone,
		TotalCapacityGiB:       d.capacity,
		FreeCapacityGiB:        d.capacity - provisioned,
		ProvisionedCapacityGiB: provisioned,
		ThickProvisioning:      true,
	}
	d.cfg.ApplyPoolDefaults(ps)
	d.stats = &driver.BackendStats{
		BackendName:     d.cfg.BackendName(),
		VendorName:      "Google",
		DriverVersion:   "1.0.0",
		StorageProtocol: driver.ConnLocal,
		Capabilities:    driver.CapabilitiesOf(d),
		Pools:           []*driver.PoolStats{ps},
	}
	return d.stats, nil
}

// CreateVolume creates a persistent disk
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	mu, err := d.createDisk(ctx, vol, "")
	return mu, d.err(err)
}

func (d *Driver) createDisk(ctx context.Context, vol *driver.VolumeSpec, snapName string) (*driver.ModelUpdate, error) {
	diskType := d.diskType
	if dt, ok := vol.ExtraSpecs[ExtraSpecDiskType]; ok && dt != "" {
		diskType = dt
	}
	name := diskNamePrefix + vol.ID
	disk := &compute.Disk{
		Name:        name,
		Description: vol.Name,
		SizeGb:      vol.SizeGiB,
		Type:        fmt.Sprintf("projects/%s/zones/%s/diskTypes/%s", d.project, d.zone, diskType),
		Labels:      map[string]string{LabelVolumeID: vol.ID},
	}
	if snapName != "" {
		disk.SourceSnapshot = fmt.Sprintf("projects/%s/global/snapshots/%s", d.project, snapName)
	}
	op, err := d.compute.Disks().Insert(d.project, d.zone, disk).Context(ctx).Do()
	if err != nil {
		return nil, gceError("create disk "+name, err)
	}
	if err = d.waitForOperation(ctx, "create disk "+name, op); err != nil {
		return nil, err
	}
	d.Log.Debugf("volume %s: created disk %s", vol.ID, name)
	return &driver.ModelUpdate{ProviderID: name, ProviderLocation: d.zone}, nil
}

// DeleteVolume deletes the disk; a missing disk is not an error
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	name := d.diskName(vol)
	op, err := d.compute.Disks().Delete(d.project, d.zone, name).Context(ctx).Do()
	if err == nil {
		err = d.waitForOperation(ctx, "delete disk "+name, op)
	} else {
		err = gceError("delete disk "+name, err)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: disk %s does not exist", vol.ID, name)
		return nil
	}
	return d.err(err)
}

// ExtendVolume resizes the disk
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	name := d.diskName(vol)
	op, err := d.compute.Disks().Resize(d.project, d.zone, name, &compute.DisksResizeRequest{SizeGb: newSizeGiB}).Context(ctx).Do()
	if err != nil {
		return d.err(gceError("extend disk "+name, err))
	}
	return d.err(d.waitForOperation(ctx, "extend disk "+name, op))
}

func (d *Driver) snapshot(ctx context.Context, diskName, snapName string, labels map[string]string) error {
	snap := &compute.Snapshot{Name: snapName, Labels: labels}
	op, err := d.compute.Disks().CreateSnapshot(d.project, d.zone, diskName, snap).Context(ctx).Do()
	if err != nil {
		return gceError("create snapshot "+snapName, err)
	}
	return d.waitForOperation(ctx, "create snapshot "+snapName, op)
}

func (d *Driver) deleteSnapshot(ctx context.Context, snapName string) error {
	op, err := d.compute.Snapshots().Delete(d.project, snapName).Context(ctx).Do()
	if err != nil {
		return gceError("delete snapshot "+snapName, err)
	}
	return d.waitForOperation(ctx, "delete snapshot "+snapName, op)
}

// CreateSnapshot snapshots the disk of the volume
func (d *Driver) CreateSnapshot(ctx context.Context, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	vol := snap.Volume
	if vol == nil {
		vol = &driver.VolumeSpec{ID: snap.VolumeID}
	}
	name := snapshotNamePrefix + snap.ID
	if err := d.snapshot(ctx, d.diskName(vol), name, map[string]string{LabelSnapshotID: snap.ID}); err != nil {
		return nil, d.err(err)
	}
	return &driver.ModelUpdate{ProviderID: name, Progress: "100%"}, nil
}

// DeleteSnapshot deletes the snapshot; a missing snapshot is not an error
func (d *Driver) DeleteSnapshot(ctx context.Context, snap *driver.SnapshotSpec) error {
	name := snap.ProviderID
	if name == "" {
		name = snapshotNamePrefix + snap.ID
	}
	err := d.deleteSnapshot(ctx, name)
	if driver.IsNotFound(err) {
		d.Log.Warningf("snapshot %s: %s does not exist", snap.ID, name)
		return nil
	}
	return d.err(err)
}

// CreateVolumeFromSnapshot creates a disk from the snapshot
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, vol *driver.VolumeSpec, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	name := snap.ProviderID
	if name == "" {
		name = snapshotNamePrefix + snap.ID
	}
	mu, err := d.createDisk(ctx, vol, name)
	return mu, d.err(err)
}

// CreateClonedVolume copies a disk through a temporary snapshot
func (d *Driver) CreateClonedVolume(ctx context.Context, vol *driver.VolumeSpec, srcVol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	snapName := snapshotNamePrefix + "clone-" + vol.ID
	if err := d.snapshot(ctx, d.diskName(srcVol), snapName, nil); err != nil {
		return nil, d.err(err)
	}
	defer func() {
		if err := d.deleteSnapshot(ctx, snapName); err != nil {
			d.Log.Errorf("volume %s: failed to delete temporary snapshot %s: %s", vol.ID, snapName, err.Error())
		}
	}()
	mu, err := d.createDisk(ctx, vol, snapName)
	return mu, d.err(err)
}

// attachedDevice returns the device name of the disk on the instance or the empty string
func (d *Driver) attachedDevice(ctx context.Context, instance, name string) (string, error) {
	inst, err := d.compute.Instances().Get(d.project, d.zone, instance).Context(ctx).Do()
	if err != nil {
		return "", gceError("get instance "+instance, err)
	}
	for _, ad := range inst.Disks {
		if path.Base(ad.Source) == name {
			return ad.DeviceName, nil
		}
	}
	return "", nil
}

// InitializeConnection attaches the disk to the instance of the connector
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if err := conn.Validate(driver.ConnLocal); err != nil {
		return nil, err
	}
	name := d.diskName(vol)
	device, err := d.attachedDevice(ctx, conn.InstanceID, name)
	if err != nil {
		return nil, d.err(err)
	}
	if device == "" {
		device = name
		ad := &compute.AttachedDisk{DeviceName: device, Source: d.diskSource(name)}
		op, err := d.compute.Instances().AttachDisk(d.project, d.zone, conn.InstanceID, ad).Context(ctx).Do()
		if err != nil {
			return nil, d.err(gceError("attach disk "+name, err))
		}
		if err = d.waitForOperation(ctx, "attach disk "+name, op); err != nil {
			return nil, d.err(err)
		}
	}
	return &driver.ConnectionInfo{
		DriverVolumeType: driver.ConnLocal,
		Data:             driver.ConnectionData{VolumeID: vol.ID, DevicePath: DevicePathPrefix + device},
	}, nil
}

// TerminateConnection detaches the disk from the instance of the connector, or from every user if none is given
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	name := d.diskName(vol)
	var instances []string
	if conn != nil && conn.InstanceID != "" {
		instances = []string{conn.InstanceID}
	} else {
		disk, err := d.compute.Disks().Get(d.project, d.zone, name).Context(ctx).Do()
		if err != nil {
			if err = gceError("get disk "+name, err); driver.IsNotFound(err) {
				d.Log.Warningf("volume %s: disk %s does not exist", vol.ID, name)
				return nil, nil
			}
			return nil, d.err(err)
		}
		for _, u := range disk.Users {
			instances = append(instances, path.Base(u))
		}
	}
	for _, instance := range instances {
		device, err := d.attachedDevice(ctx, instance, name)
		if err != nil {
			return nil, d.err(err)
		}
		if device == "" {
			d.Log.Warningf("volume %s: not attached to %s", vol.ID, instance)
			continue
		}
		op, err := d.compute.Instances().DetachDisk(d.project, d.zone, instance, device).Context(ctx).Do()
		if err != nil {
			return nil, d.err(gceError("detach disk "+name, err))
		}
		if err = d.waitForOperation(ctx, "detach disk "+name, op); err != nil {
			return nil, d.err(err)
		}
	}
	return nil, nil
}
