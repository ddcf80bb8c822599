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


// Package ebs provides a volume driver for AWS Elastic Block Store. Volumes
// are created in one availability zone and attached to EC2 instances, so
// connections are of the local type and carry the device path.
package ebs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/awssdk"
	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/sts"
	logging "github.com/op/go-logging"
)

// DriverType is the registered driver type
const DriverType = "ebs"

// Configuration keys
const (
	KeyRegion           = "ebs_region"
	KeyAvailabilityZone = "ebs_availability_zone"
	KeyAccessKeyID      = "ebs_access_key_id"
	KeySecretAccessKey  = "ebs_secret_access_key"
	KeyVolumeType       = "ebs_volume_type"
	KeyEncrypted        = "ebs_encrypted"
	// KeyCapacity is the capacity reported for the zone, normally the account storage limit
	KeyCapacity     = "ebs_capacity_gib"
	KeyPollInterval = "ebs_poll_interval"
	KeyPollTimeout  = "ebs_poll_timeout"
	KeyDebug        = "ebs_sdk_debug"
)

// ExtraSpecVolumeType selects the EBS volume type from a volume type
const ExtraSpecVolumeType = "ebs:volume_type"

// Tags set on created resources
const (
	TagName       = "Name"
	TagVolumeID   = "volumed-volume-id"
	TagSnapshotID = "volumed-snapshot-id"
)

// Defaults
const (
	VolumeTypeDefault = ec2.VolumeTypeGp2
	CapacityDefault   = 65536
)

// Driver is the EBS driver
type Driver struct {
	Log       *logging.Logger
	cfg       *driver.Config
	client    awssdk.AWSClient
	ec2       awssdk.EC2
	account   string
	zone      string
	volType   string
	encrypted bool
	capacity  float64
	poll      driver.PollArgs

	mux   sync.Mutex
	stats *driver.BackendStats

	devMux    sync.Mutex
	attaching map[string]struct{}
}

var _ = driver.Snapshotter(&Driver{})
var _ = driver.Cloner(&Driver{})
var _ = driver.Extender(&Driver{})

func init() {
	driver.Register(DriverType, func(log *logging.Logger) driver.Driver { return &Driver{Log: log} })
}

// newClientHook can be replaced during UT
var newClientHook = awssdk.New

// Type returns the driver type
func (d *Driver) Type() string {
	return DriverType
}

// Setup creates the session, validates the credentials and checks the availability zone
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	if err := cfg.Require(KeyRegion, KeyAvailabilityZone, KeyAccessKeyID, KeySecretAccessKey); err != nil {
		return err
	}
	secret, err := cfg.Secret(KeySecretAccessKey)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.zone = cfg.String(KeyAvailabilityZone, "")
	d.volType = cfg.String(KeyVolumeType, VolumeTypeDefault)
	d.encrypted = cfg.Bool(KeyEncrypted, true)
	d.capacity = cfg.Float(KeyCapacity, CapacityDefault)
	d.poll = driver.PollArgs{
		Interval: cfg.Duration(KeyPollInterval, 2*time.Second),
		Backoff:  1.5,
		Timeout:  cfg.Duration(KeyPollTimeout, 5*time.Minute),
	}
	d.attaching = map[string]struct{}{}
	awsCfg := aws.NewConfig().WithRegion(cfg.String(KeyRegion, "")).
		WithCredentials(credentials.NewStaticCredentials(cfg.String(KeyAccessKeyID, ""), secret, ""))
	if cfg.Bool(KeyDebug, false) {
		awsCfg = awsCfg.WithLogLevel(aws.LogDebugWithHTTPBody).WithLogger(aws.LoggerFunc(d.dbg))
	}
	d.client = newClientHook()
	sess, err := d.client.NewSession(awsCfg)
	if err != nil {
		return d.err(driver.WrapError(driver.CodeInvalidInput, "setup", fmt.Errorf("AWS session creation error: %w", err)))
	}
	if err = d.validateIdentity(ctx, sess); err != nil {
		return d.err(err)
	}
	d.ec2 = d.client.NewEC2(sess)
	dazo, err := d.ec2.DescribeAvailabilityZonesWithContext(ctx, &ec2.DescribeAvailabilityZonesInput{ZoneNames: []*string{aws.String(d.zone)}})
	if err != nil {
		return d.err(awsError("setup", err))
	}
	if len(dazo.AvailabilityZones) == 0 || aws.StringValue(dazo.AvailabilityZones[0].State) != ec2.AvailabilityZoneStateAvailable {
		return d.err(driver.NewError(driver.CodeInvalidInput, "setup", fmt.Sprintf("availability zone %s is not available", d.zone)))
	}
	d.Log.Infof("%s: using %s in account %s", cfg.Name, d.zone, d.account)
	return nil
}

func (d *Driver) dbg(args ...interface{}) {
	d.Log.Debug(args...)
}

func (d *Driver) err(err error) error {
	if d.cfg != nil {
		return driver.WithBackend(err, d.cfg.Name)
	}
	return err
}

func (d *Driver) validateIdentity(ctx context.Context, sess *session.Session) error {
	svc := d.client.NewSTS(sess)
	gcio, err := svc.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if aErr, ok := err.(awserr.Error); ok {
			switch aErr.Code() {
			case "InvalidClientTokenId":
				return driver.NewError(driver.CodeAuth, "identity validation", "incorrect "+KeyAccessKeyID)
			case "SignatureDoesNotMatch":
				return driver.NewError(driver.CodeAuth, "identity validation", "incorrect "+KeySecretAccessKey)
			}
		}
		return awsError("identity validation", err)
	}
	d.account = aws.StringValue(gcio.Account)
	return nil
}

var errCodes = map[string]driver.Code{
	"InvalidVolume.NotFound":                driver.CodeNotFound,
	"InvalidSnapshot.NotFound":              driver.CodeNotFound,
	"InvalidInstanceID.NotFound":            driver.CodeNotFound,
	"IncorrectState":                        driver.CodeBusy,
	"IncorrectModificationState":            driver.CodeBusy,
	"VolumeInUse":                           driver.CodeBusy,
	"RequestLimitExceeded":                  driver.CodeBusy,
	"AuthFailure":                           driver.CodeAuth,
	"UnauthorizedOperation":                 driver.CodeAuth,
	"InvalidParameterValue":                 driver.CodeInvalidInput,
	"InvalidParameterCombination":           driver.CodeInvalidInput,
	"VolumeLimitExceeded":                   driver.CodeCapacity,
	"SnapshotLimitExceeded":                 driver.CodeCapacity,
	"MaxIOPSLimitExceeded":                  driver.CodeCapacity,
	"InsufficientVolumeCapacity":            driver.CodeCapacity,
	request.WaiterResourceNotReadyErrorCode: driver.CodeTimeout,
}

// awsError classifies an SDK error; nil stays nil
func awsError(op string, err error) error {
	if err == nil {
		return nil
	}
	aErr, ok := err.(awserr.Error)
	if !ok {
		return driver.WrapError(driver.CodeBackendAPI, op, err)
	}
	code, ok := errCodes[aErr.Code()]
	if !ok {
		code = driver.CodeBackendAPI
	}
	return &driver.Error{Code: code, Op: op, VendorCode: aErr.Code(), Message: aErr.Message()}
}

func tags(key, id, name string) []*ec2.Tag {
	if name == "" {
		name = id
	}
	return []*ec2.Tag{
		{Key: aws.String(TagName), Value: aws.String(name)},
		{Key: aws.String(key), Value: aws.String(id)},
	}
}

func describeVolume(vid string) *ec2.DescribeVolumesInput {
	return &ec2.DescribeVolumesInput{VolumeIds: []*string{aws.String(vid)}}
}

// Stats reports the configured capacity of the zone less the size of the volumes created by the service
func (d *Driver) Stats(ctx context.Context, refresh bool) (*driver.BackendStats, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.stats != nil && !refresh {
		return d.stats, nil
	}
	dvi := &ec2.DescribeVolumesInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("availability-zone"), Values: []*string{aws.String(d.zone)}},
			{Name: aws.String("tag-key"), Values: []*string{aws.String(TagVolumeID)}},
		},
	}
	var provisioned float64
	for {
		dvo, err := d.ec2.DescribeVolumesWithContext(ctx, dvi)
		if err != nil {
			return nil, d.err(awsError("stats", err))
		}
		for _, v := range dvo.Volumes {
			provisioned += float64(aws.Int64Value(v.Size))
		}
		if aws.StringValue(dvo.NextToken) == "" {
			break
		}
		dvi.NextToken = dvo.NextToken
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
		VendorName:      "Amazon",
		DriverVersion:   "1.0.0",
		StorageProtocol: driver.ConnLocal,
		Capabilities:    driver.CapabilitiesOf(d),
		Pools:           []*driver.PoolStats{ps},
	}
	return d.stats, nil
}

// volumeID returns the EC2 id of a volume, searching by tag when no provider id is recorded
func (d *Driver) volumeID(ctx context.Context, vol *driver.VolumeSpec) (string, error) {
	if vol.ProviderID != "" {
		return vol.ProviderID, nil
	}
	dvo, err := d.ec2.DescribeVolumesWithContext(ctx, &ec2.DescribeVolumesInput{
		Filters: []*ec2.Filter{{Name: aws.String("tag:" + TagVolumeID), Values: []*string{aws.String(vol.ID)}}},
	})
	if err != nil {
		return "", awsError("find volume", err)
	}
	if len(dvo.Volumes) == 0 {
		return "", driver.NewError(driver.CodeNotFound, "find volume", fmt.Sprintf("no volume tagged %s=%s", TagVolumeID, vol.ID))
	}
	return aws.StringValue(dvo.Volumes[0].VolumeId), nil
}

// CreateVolume creates an EBS volume in the zone
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	mu, err := d.createVolume(ctx, vol, "")
	return mu, d.err(err)
}

func (d *Driver) createVolume(ctx context.Context, vol *driver.VolumeSpec, snapID string) (*driver.ModelUpdate, error) {
	volType := d.volType
	if vt, ok := vol.ExtraSpecs[ExtraSpecVolumeType]; ok && vt != "" {
		volType = vt
	}
	cvi := &ec2.CreateVolumeInput{}
	cvi.SetAvailabilityZone(d.zone)
	cvi.SetEncrypted(d.encrypted)
	cvi.SetSize(vol.SizeGiB)
	cvi.SetVolumeType(volType)
	if snapID != "" {
		cvi.SetSnapshotId(snapID)
	}
	cvi.TagSpecifications = []*ec2.TagSpecification{
		{ResourceType: aws.String(ec2.ResourceTypeVolume), Tags: tags(TagVolumeID, vol.ID, vol.Name)},
	}
	cvo, err := d.ec2.CreateVolumeWithContext(ctx, cvi)
	if err != nil {
		return nil, awsError("create volume", err)
	}
	vid := aws.StringValue(cvo.VolumeId)
	// Wait for completion
	if aws.StringValue(cvo.State) == ec2.VolumeStateCreating {
		if err = d.ec2.WaitUntilVolumeAvailableWithContext(ctx, describeVolume(vid)); err != nil {
			return nil, awsError("create volume "+vid, err)
		}
	}
	d.Log.Debugf("volume %s: created %s", vol.ID, vid)
	return &driver.ModelUpdate{ProviderID: vid, ProviderLocation: d.zone}, nil
}

// DeleteVolume deletes the EBS volume; a missing volume is not an error
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	vid, err := d.volumeID(ctx, vol)
	if err == nil {
		_, err = d.ec2.DeleteVolumeWithContext(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(vid)})
		err = awsError("delete volume "+vid, err)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: volume does not exist", vol.ID)
		return nil
	}
	if err != nil {
		return d.err(err)
	}
	return d.err(awsError("delete volume "+vid, d.ec2.WaitUntilVolumeDeletedWithContext(ctx, describeVolume(vid))))
}

// ExtendVolume modifies the size of the volume
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	vid, err := d.volumeID(ctx, vol)
	if err != nil {
		return d.err(err)
	}
	mvo, err := d.ec2.ModifyVolumeWithContext(ctx, &ec2.ModifyVolumeInput{VolumeId: aws.String(vid), Size: aws.Int64(newSizeGiB)})
	if err != nil {
		return d.err(awsError("extend volume "+vid, err))
	}
	if vm := mvo.VolumeModification; vm != nil && aws.StringValue(vm.ModificationState) == ec2.VolumeModificationStateFailed {
		return d.err(driver.NewError(driver.CodeBackendAPI, "extend volume "+vid, aws.StringValue(vm.StatusMessage)))
	}
	return nil
}

func (d *Driver) snapshot(ctx context.Context, vid, description string, tags []*ec2.Tag) (string, error) {
	so, err := d.ec2.CreateSnapshotWithContext(ctx, &ec2.CreateSnapshotInput{
		VolumeId:          aws.String(vid),
		Description:       aws.String(description),
		TagSpecifications: []*ec2.TagSpecification{{ResourceType: aws.String(ec2.ResourceTypeSnapshot), Tags: tags}},
	})
	if err != nil {
		return "", awsError("create snapshot of "+vid, err)
	}
	sid := aws.StringValue(so.SnapshotId)
	err = d.ec2.WaitUntilSnapshotCompletedWithContext(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []*string{aws.String(sid)}})
	return sid, awsError("create snapshot "+sid, err)
}

func (d *Driver) deleteSnapshot(ctx context.Context, sid string) error {
	_, err := d.ec2.DeleteSnapshotWithContext(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(sid)})
	return awsError("delete snapshot "+sid, err)
}

// CreateSnapshot creates an EBS snapshot and waits for it to complete
func (d *Driver) CreateSnapshot(ctx context.Context, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	vol := snap.Volume
	if vol == nil {
		vol = &driver.VolumeSpec{ID: snap.VolumeID}
	}
	vid, err := d.volumeID(ctx, vol)
	if err != nil {
		return nil, d.err(err)
	}
	sid, err := d.snapshot(ctx, vid, fmt.Sprintf("snapshot %s of volume %s", snap.ID, vol.ID), tags(TagSnapshotID, snap.ID, snap.Name))
	if err != nil {
		return nil, d.err(err)
	}
	return &driver.ModelUpdate{ProviderID: sid, Progress: "100%"}, nil
}

// DeleteSnapshot deletes the EBS snapshot
func (d *Driver) DeleteSnapshot(ctx context.Context, snap *driver.SnapshotSpec) error {
	if snap.ProviderID == "" {
		d.Log.Warningf("snapshot %s: no snapshot recorded", snap.ID)
		return nil
	}
	err := d.deleteSnapshot(ctx, snap.ProviderID)
	if driver.IsNotFound(err) {
		d.Log.Warningf("snapshot %s: %s does not exist", snap.ID, snap.ProviderID)
		return nil
	}
	return d.err(err)
}

// CreateVolumeFromSnapshot creates a volume restored from the snapshot
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, vol *driver.VolumeSpec, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	if snap.ProviderID == "" {
		return nil, d.err(driver.NewError(driver.CodeNotFound, "create volume from snapshot", "no snapshot recorded for "+snap.ID))
	}
	mu, err := d.createVolume(ctx, vol, snap.ProviderID)
	return mu, d.err(err)
}

// CreateClonedVolume copies a volume through a temporary snapshot
func (d *Driver) CreateClonedVolume(ctx context.Context, vol *driver.VolumeSpec, srcVol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	vid, err := d.volumeID(ctx, srcVol)
	if err != nil {
		return nil, d.err(err)
	}
	sid, err := d.snapshot(ctx, vid, fmt.Sprintf("clone %s of volume %s", vol.ID, srcVol.ID), tags(TagSnapshotID, "clone-"+vol.ID, ""))
	if sid != "" {
		defer func() {
			if derr := d.deleteSnapshot(ctx, sid); derr != nil {
				d.Log.Errorf("volume %s: failed to delete temporary snapshot %s: %s", vol.ID, sid, derr.Error())
			}
		}()
	}
	if err != nil {
		return nil, d.err(err)
	}
	mu, err := d.createVolume(ctx, vol, sid)
	return mu, d.err(err)
}

// devicePath will look up the device path for the volume, vid, on the instance, nid.
// An unused device path is returned when the volume is not already attached to the instance.
// The boolean return value indicates whether the returned device name is a new device name or not.
// When true, the caller must call releaseDevicePath when attachment completes (success or fail).
func (d *Driver) devicePath(ctx context.Context, vid, nid string) (string, bool, error) {
	dio, err := d.ec2.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{InstanceIds: []*string{aws.String(nid)}})
	if err != nil {
		return "", false, awsError("describe instance "+nid, err)
	}
	if len(dio.Reservations) == 0 || len(dio.Reservations[0].Instances) == 0 {
		return "", false, driver.NewError(driver.CodeNotFound, "describe instance", "instance "+nid+" not found")
	}
	instance := dio.Reservations[0].Instances[0]
	if instance.Placement != nil && aws.StringValue(instance.Placement.AvailabilityZone) != d.zone {
		return "", false, driver.NewError(driver.CodeInvalidInput, "attach volume", fmt.Sprintf("instance %s is not in %s", nid, d.zone))
	}
	attached := map[string]string{}
	for _, mapping := range instance.BlockDeviceMappings {
		deviceName := aws.StringValue(mapping.DeviceName)
		mappedVID := ""
		if mapping.Ebs != nil {
			mappedVID = aws.StringValue(mapping.Ebs.VolumeId)
		}
		attached[deviceName] = mappedVID
		if mappedVID == vid {
			return deviceName, false, nil
		}
	}
	// /dev/xvd[bc][a-z] does not conflict with ephemeral devices
	d.devMux.Lock()
	defer d.devMux.Unlock()
	prefix := "/dev/xvd"
	for first := 'b'; first <= 'c'; first++ {
		for second := 'a'; second <= 'z'; second++ {
			path := prefix + string([]rune{first, second})
			if _, found := attached[path]; !found {
				key := nid + ":" + path
				if _, found = d.attaching[key]; !found {
					d.attaching[key] = struct{}{}
					return path, true, nil
				}
			}
		}
	}
	return "", false, driver.NewError(driver.CodeCapacity, "attach volume", "all device names are in use on "+nid)
}

func (d *Driver) releaseDevicePath(nid, devicePath string) {
	d.devMux.Lock()
	defer d.devMux.Unlock()
	delete(d.attaching, nid+":"+devicePath)
}

func (d *Driver) waitAttached(ctx context.Context, vid, nid string) error {
	pa := d.poll
	pa.Op = "attach volume " + vid
	return driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		dvo, err := d.ec2.DescribeVolumesWithContext(ctx, describeVolume(vid))
		if err != nil {
			return false, awsError("describe volume "+vid, err)
		}
		for _, v := range dvo.Volumes {
			for _, a := range v.Attachments {
				if aws.StringValue(a.InstanceId) == nid && aws.StringValue(a.State) == ec2.VolumeAttachmentStateAttached {
					return true, nil
				}
			}
		}
		return false, nil
	})
}

// InitializeConnection attaches the volume to the instance of the connector
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if err := conn.Validate(driver.ConnLocal); err != nil {
		return nil, err
	}
	vid, err := d.volumeID(ctx, vol)
	if err != nil {
		return nil, d.err(err)
	}
	nid := conn.InstanceID
	devicePath, newMapping, err := d.devicePath(ctx, vid, nid)
	if err != nil {
		return nil, d.err(err)
	}
	if newMapping {
		defer d.releaseDevicePath(nid, devicePath)
		req := &ec2.AttachVolumeInput{
			Device:     aws.String(devicePath),
			InstanceId: aws.String(nid),
			VolumeId:   aws.String(vid),
		}
		if _, err = d.ec2.AttachVolumeWithContext(ctx, req); err != nil {
			return nil, d.err(awsError("attach volume "+vid, err))
		}
	}
	// AttachVolumeWithContext is asynchronous, must wait for attach to complete
	if err = d.waitAttached(ctx, vid, nid); err != nil {
		return nil, d.err(err)
	}
	return &driver.ConnectionInfo{
		DriverVolumeType: driver.ConnLocal,
		Data:             driver.ConnectionData{VolumeID: vol.ID, DevicePath: devicePath},
	}, nil
}

// TerminateConnection detaches the volume from the instance of the connector, or from any instance if none is given
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	vid, err := d.volumeID(ctx, vol)
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: volume does not exist", vol.ID)
		return nil, nil
	}
	if err != nil {
		return nil, d.err(err)
	}
	req := &ec2.DetachVolumeInput{VolumeId: aws.String(vid)}
	if conn != nil && conn.InstanceID != "" {
		req.InstanceId = aws.String(conn.InstanceID)
	}
	if _, err = d.ec2.DetachVolumeWithContext(ctx, req); err != nil {
		if aErr, ok := err.(awserr.Error); ok && (aErr.Code() == "InvalidAttachment.NotFound" || strings.Contains(aErr.Message(), "is in the 'available' state")) {
			d.Log.Warningf("volume %s: not attached", vol.ID)
			return nil, nil
		}
		return nil, d.err(awsError("detach volume "+vid, err))
	}
	// DetachVolumeWithContext is asynchronous, must wait for detach to complete
	if err = d.ec2.WaitUntilVolumeAvailableWithContext(ctx, describeVolume(vid)); err != nil {
		return nil, d.err(awsError("detach volume "+vid, err))
	}
	return nil, nil
}
