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


// Package fujitsu is the volume driver for Fujitsu ETERNUS DX arrays. It talks
// to the SMI-S provider of the array over CIM-XML. Volumes are carved from RAID
// groups or thin provisioning pools, snapshots and clones use the replication
// service and host access is granted with ExposePaths.
package fujitsu

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
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
const DriverType = "fujitsu"

// Configuration keys
const (
	KeyCIMURL       = "fujitsu_cim_url"
	KeyNamespace    = "fujitsu_namespace"
	KeyPools        = "fujitsu_pools"
	KeySnapshotPool = "fujitsu_snapshot_pool"
	KeyProtocol     = "fujitsu_protocol"
	KeyISCSIIPs     = "fujitsu_iscsi_ips"
	KeyPollInterval = "fujitsu_poll_interval"
	KeyPollTimeout  = "fujitsu_poll_timeout"
	KeyDebug        = "fujitsu_cim_debug"
)

// CIM classes
const (
	ClassStorageConfigService    = "FUJITSU_StorageConfigurationService"
	ClassReplicationService      = "FUJITSU_ReplicationService"
	ClassControllerConfigService = "FUJITSU_ControllerConfigurationService"
	ClassRAIDPool                = "FUJITSU_RAIDStoragePool"
	ClassThinPool                = "FUJITSU_ThinProvisioningPool"
	ClassStorageVolume           = "FUJITSU_StorageVolume"
	ClassAffinityGroupController = "FUJITSU_AffinityGroupController"
	ClassProtocolControllerUnit  = "FUJITSU_ProtocolControllerForUnit"
	ClassISCSIEndpoint           = "FUJITSU_iSCSIProtocolEndpoint"
	ClassSCSIEndpoint            = "FUJITSU_SCSIProtocolEndpoint"
)

// Method parameter values
const (
	ElementTypeRAID   = 2
	ElementTypeThin   = 5
	SyncTypeSnapshot  = 7
	SyncTypeClone     = 8
	DeviceAccessRW    = 2
	ConnectionTypeFC  = "2"
	VolumePrefix      = "FJosv_"
	SnapshotPrefix    = "FJosv_snap_"
	NamespaceDefault  = "root/eternus"
	iscsiPortDefault  = 3260
	jobStateCompleted = 7
	jobStateException = 10
)

// Driver is the ETERNUS driver
type Driver struct {
	Log      *logging.Logger
	cfg      *driver.Config
	cim      *CIMClient
	pools    []string
	snapPool string
	protocol string
	iscsiIPs []string
	poll     driver.PollArgs

	storageSvc    *InstanceName
	replSvc       *InstanceName
	controllerSvc *InstanceName

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

// Setup locates the services of the SMI-S provider and checks the pools
func (d *Driver) Setup(ctx context.Context, cfg *driver.Config) error {
	if err := cfg.Require(KeyCIMURL, driver.KeySanLogin, driver.KeySanPassword, KeyPools); err != nil {
		return err
	}
	pw, err := cfg.Secret(driver.KeySanPassword)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.pools = cfg.List(KeyPools)
	d.snapPool = cfg.String(KeySnapshotPool, d.pools[0])
	switch d.protocol = cfg.String(KeyProtocol, "iSCSI"); d.protocol {
	case "iSCSI", "FC":
	default:
		return d.err(driver.NewError(driver.CodeInvalidInput, "setup", fmt.Sprintf("invalid %s %q", KeyProtocol, d.protocol)))
	}
	d.iscsiIPs = cfg.List(KeyISCSIIPs)
	d.poll = driver.PollArgs{
		Interval: cfg.Duration(KeyPollInterval, 2*time.Second),
		Backoff:  1.5,
		Timeout:  cfg.Duration(KeyPollTimeout, 30*time.Minute),
	}
	rc, err := rest.New(&rest.Args{
		URLs:     []string{cfg.String(KeyCIMURL, "")},
		Insecure: !cfg.Bool(driver.KeyDriverSSLCertVerify, false),
		Debug:    cfg.Bool(KeyDebug, false),
		Log:      d.Log,
	})
	if err != nil {
		return d.err(driver.WrapError(driver.CodeInvalidInput, "setup", err))
	}
	d.cim = NewCIMClient(rc, cfg.String(KeyNamespace, NamespaceDefault), cfg.String(driver.KeySanLogin, ""), pw, d.Log)
	for _, s := range []struct {
		class string
		dst   **InstanceName
	}{
		{ClassStorageConfigService, &d.storageSvc},
		{ClassReplicationService, &d.replSvc},
		{ClassControllerConfigService, &d.controllerSvc},
	} {
		names, err := d.cim.EnumerateInstanceNames(ctx, s.class)
		if err != nil {
			return d.err(err)
		}
		if len(names) == 0 {
			return d.err(driver.NewError(driver.CodeNotSupported, "setup", s.class+" not found"))
		}
		*s.dst = names[0]
	}
	pools, err := d.listPools(ctx)
	if err != nil {
		return d.err(err)
	}
	for _, p := range append([]string{d.snapPool}, d.pools...) {
		if _, ok := pools[p]; !ok {
			return d.err(driver.NewError(driver.CodeInvalidInput, "setup", fmt.Sprintf("pool %q not found", p)))
		}
	}
	d.Log.Infof("%s: connected to %s", cfg.Name, rc.BaseURL())
	return nil
}

func (d *Driver) err(err error) error {
	if d.cfg != nil {
		return driver.WithBackend(err, d.cfg.Name)
	}
	return err
}

// VolumeName derives the array volume name from an id
func VolumeName(prefix, id string) string {
	sum := md5.Sum([]byte(id))
	return prefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

type poolInfo struct {
	path  *InstanceName
	name  string
	thin  bool
	total uint64
	free  uint64
}

func (d *Driver) listPools(ctx context.Context) (map[string]*poolInfo, error) {
	res := map[string]*poolInfo{}
	for _, class := range []string{ClassRAIDPool, ClassThinPool} {
		insts, err := d.cim.EnumerateInstances(ctx, class)
		if err != nil {
			return nil, err
		}
		for _, i := range insts {
			p := &poolInfo{
				path:  i.Path,
				name:  i.Prop("ElementName"),
				thin:  class == ClassThinPool,
				total: i.Uint("TotalManagedSpace"),
				free:  i.Uint("RemainingManagedSpace"),
			}
			res[p.name] = p
		}
	}
	return res, nil
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
		VendorName:      "FUJITSU",
		DriverVersion:   "1.4.0",
		StorageProtocol: d.protocol,
		Capabilities:    driver.CapabilitiesOf(d),
	}
	for _, name := range d.pools {
		p, ok := pools[name]
		if !ok {
			d.Log.Warningf("%s: pool %s not found", d.cfg.Name, name)
			continue
		}
		ps := &driver.PoolStats{
			Name:                   name,
			TotalCapacityGiB:       util.BytesToGiBFloat(int64(p.total)),
			FreeCapacityGiB:        util.BytesToGiBFloat(int64(p.free)),
			ProvisionedCapacityGiB: util.BytesToGiBFloat(int64(p.total - p.free)),
			ThinProvisioning:       p.thin,
			ThickProvisioning:      !p.thin,
		}
		d.cfg.ApplyPoolDefaults(ps)
		bs.Pools = append(bs.Pools, ps)
	}
	d.stats = bs
	return bs, nil
}

// selectPool returns the requested pool or the configured pool with the most free space
func (d *Driver) selectPool(ctx context.Context, name string) (*poolInfo, error) {
	pools, err := d.listPools(ctx)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if p, ok := pools[name]; ok {
			return p, nil
		}
		return nil, RetcodeError("select pool", RCPoolNotFound)
	}
	var best *poolInfo
	for _, n := range d.pools {
		if p, ok := pools[n]; ok && (best == nil || p.free > best.free) {
			best = p
		}
	}
	if best == nil {
		return nil, RetcodeError("select pool", RCPoolNotFound)
	}
	return best, nil
}

// elementPath is the form in which element names are stored as provider location
type elementPath struct {
	ClassName string            `json:"classname"`
	Keys      map[string]string `json:"keybindings"`
}

func locationOf(n *InstanceName) string {
	b, _ := json.Marshal(&elementPath{ClassName: n.ClassName, Keys: n.KeyMap()})
	return string(b)
}

func parseLocation(loc string) (*InstanceName, error) {
	ep := &elementPath{}
	if err := json.Unmarshal([]byte(loc), ep); err != nil || ep.ClassName == "" {
		return nil, driver.NewError(driver.CodeInvalidInput, "provider location", fmt.Sprintf("invalid element path %q", loc))
	}
	return NewInstanceName(ep.ClassName, ep.Keys), nil
}

// element returns the array element of a volume or snapshot, looking it up by name if no location is recorded
func (d *Driver) element(ctx context.Context, loc, name string) (*InstanceName, error) {
	if loc != "" {
		return parseLocation(loc)
	}
	vols, err := d.cim.EnumerateInstances(ctx, ClassStorageVolume)
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		if v.Prop("ElementName") == name {
			return v.Path, nil
		}
	}
	return nil, RetcodeError("find volume "+name, RCVolumeNotFound)
}

// invoke calls a method and waits for the job it starts
func (d *Driver) invoke(ctx context.Context, method string, svc *InstanceName, params ...ParamValue) (*MethodResult, error) {
	res, err := d.cim.InvokeMethod(ctx, method, svc, params...)
	if err != nil {
		return nil, err
	}
	switch res.RC {
	case RCSuccess:
		return res, nil
	case RCJobStarted:
		job := res.Ref("Job")
		if job == nil {
			return nil, driver.NewError(driver.CodeBackendAPI, method, "job started but no job returned")
		}
		return res, d.waitJob(ctx, method, job)
	}
	return res, RetcodeError(method, res.RC)
}

func (d *Driver) waitJob(ctx context.Context, method string, job *InstanceName) error {
	pa := d.poll
	pa.Op = method + " job " + job.Key("InstanceID")
	return driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		ji, err := d.cim.GetInstance(ctx, job)
		if err != nil {
			return false, err
		}
		switch st := ji.Uint("JobState"); {
		case st == jobStateCompleted:
			return true, nil
		case st > jobStateCompleted && st <= jobStateException:
			msg := ji.Prop("ErrorDescription")
			if msg == "" {
				msg = fmt.Sprintf("job ended in state %d", st)
			}
			if ec, err := strconv.ParseUint(ji.Prop("ErrorCode"), 10, 32); err == nil && ec != 0 {
				return false, RetcodeError(method, uint32(ec))
			}
			return false, driver.NewError(driver.CodeBackendAPI, method, msg)
		}
		return false, nil
	})
}

func volumeUpdate(n *InstanceName) *driver.ModelUpdate {
	return &driver.ModelUpdate{ProviderLocation: locationOf(n), ProviderID: n.Key("DeviceID")}
}

// CreateVolume creates a volume in the selected pool
func (d *Driver) CreateVolume(ctx context.Context, vol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	n, err := d.createVolume(ctx, vol)
	if err != nil {
		return nil, d.err(err)
	}
	return volumeUpdate(n), nil
}

func (d *Driver) createVolume(ctx context.Context, vol *driver.VolumeSpec) (*InstanceName, error) {
	p, err := d.selectPool(ctx, vol.Pool)
	if err != nil {
		return nil, err
	}
	et := uint64(ElementTypeRAID)
	if p.thin {
		et = ElementTypeThin
	}
	res, err := d.invoke(ctx, "CreateOrModifyElementFromStoragePool", d.storageSvc,
		StringParam("ElementName", VolumeName(VolumePrefix, vol.ID)),
		UintParam("ElementType", "uint16", et),
		UintParam("Size", "uint64", uint64(util.GiBToBytes(vol.SizeGiB))),
		RefParam("InPool", p.path),
	)
	if err != nil {
		return nil, err
	}
	n := res.Ref("TheElement")
	if n == nil {
		return nil, driver.NewError(driver.CodeBackendAPI, "create volume", "no element returned")
	}
	d.Log.Debugf("volume %s: created %s in pool %s", vol.ID, n.Key("DeviceID"), p.name)
	return n, nil
}

func (d *Driver) returnToPool(ctx context.Context, n *InstanceName) error {
	_, err := d.invoke(ctx, "ReturnToStoragePool", d.storageSvc, RefParam("TheElement", n))
	return err
}

// DeleteVolume returns the volume to its pool; a missing volume is not an error
func (d *Driver) DeleteVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	n, err := d.element(ctx, vol.ProviderLocation, VolumeName(VolumePrefix, vol.ID))
	if err == nil {
		err = d.returnToPool(ctx, n)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: volume does not exist", vol.ID)
		return nil
	}
	return d.err(err)
}

// ExtendVolume grows the volume
func (d *Driver) ExtendVolume(ctx context.Context, vol *driver.VolumeSpec, newSizeGiB int64) error {
	n, err := d.element(ctx, vol.ProviderLocation, VolumeName(VolumePrefix, vol.ID))
	if err == nil {
		_, err = d.invoke(ctx, "CreateOrModifyElementFromStoragePool", d.storageSvc,
			StringParam("ElementName", VolumeName(VolumePrefix, vol.ID)),
			UintParam("Size", "uint64", uint64(util.GiBToBytes(newSizeGiB))),
			RefParam("TheElement", n),
		)
	}
	return d.err(err)
}

// CreateSnapshot creates a snapshot volume in the snapshot pool
func (d *Driver) CreateSnapshot(ctx context.Context, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	src, err := d.element(ctx, snap.Volume.ProviderLocation, VolumeName(VolumePrefix, snap.Volume.ID))
	if err != nil {
		return nil, d.err(err)
	}
	p, err := d.selectPool(ctx, d.snapPool)
	if err != nil {
		return nil, d.err(err)
	}
	res, err := d.invoke(ctx, "CreateElementReplica", d.replSvc,
		StringParam("ElementName", VolumeName(SnapshotPrefix, snap.ID)),
		UintParam("SyncType", "uint16", SyncTypeSnapshot),
		RefParam("SourceElement", src),
		RefParam("TargetPool", p.path),
	)
	if err != nil {
		return nil, d.err(err)
	}
	n := res.Ref("TargetElement")
	if n == nil {
		return nil, d.err(driver.NewError(driver.CodeBackendAPI, "create snapshot", "no target element returned"))
	}
	return volumeUpdate(n), nil
}

// DeleteSnapshot returns the snapshot volume to its pool
func (d *Driver) DeleteSnapshot(ctx context.Context, snap *driver.SnapshotSpec) error {
	n, err := d.element(ctx, snap.ProviderLocation, VolumeName(SnapshotPrefix, snap.ID))
	if err == nil {
		err = d.returnToPool(ctx, n)
	}
	if driver.IsNotFound(err) {
		d.Log.Warningf("snapshot %s: does not exist on the array", snap.ID)
		return nil
	}
	return d.err(err)
}

// copyInto creates the volume and copies src into it; the new volume is removed on failure
func (d *Driver) copyInto(ctx context.Context, vol *driver.VolumeSpec, src *InstanceName) (*driver.ModelUpdate, error) {
	n, err := d.createVolume(ctx, vol)
	if err != nil {
		return nil, d.err(err)
	}
	_, err = d.invoke(ctx, "CreateElementReplica", d.replSvc,
		StringParam("ElementName", VolumeName(VolumePrefix, vol.ID)),
		UintParam("SyncType", "uint16", SyncTypeClone),
		RefParam("SourceElement", src),
		RefParam("TargetElement", n),
	)
	if err != nil {
		if derr := d.returnToPool(ctx, n); derr != nil {
			d.Log.Errorf("volume %s: failed to remove %s: %s", vol.ID, n.Key("DeviceID"), derr.Error())
		}
		return nil, d.err(err)
	}
	return volumeUpdate(n), nil
}

// CreateVolumeFromSnapshot copies a snapshot into a new volume
func (d *Driver) CreateVolumeFromSnapshot(ctx context.Context, vol *driver.VolumeSpec, snap *driver.SnapshotSpec) (*driver.ModelUpdate, error) {
	src, err := d.element(ctx, snap.ProviderLocation, VolumeName(SnapshotPrefix, snap.ID))
	if err != nil {
		return nil, d.err(err)
	}
	return d.copyInto(ctx, vol, src)
}

// CreateClonedVolume copies a volume into a new volume
func (d *Driver) CreateClonedVolume(ctx context.Context, vol *driver.VolumeSpec, srcVol *driver.VolumeSpec) (*driver.ModelUpdate, error) {
	src, err := d.element(ctx, srcVol.ProviderLocation, VolumeName(VolumePrefix, srcVol.ID))
	if err != nil {
		return nil, d.err(err)
	}
	return d.copyInto(ctx, vol, src)
}

func (d *Driver) connType() string {
	if d.protocol == "FC" {
		return driver.ConnFC
	}
	return driver.ConnISCSI
}

func (d *Driver) initiators(conn *driver.Connector) []string {
	if d.protocol == "FC" {
		res := make([]string, 0, len(conn.WWPNs))
		for _, w := range conn.WWPNs {
			res = append(res, util.NormalizeWWN(w))
		}
		return res
	}
	return []string{conn.Initiator}
}

// hostControllers returns the ids of the affinity group controllers of the initiators
func (d *Driver) hostControllers(ctx context.Context, initiators []string) (map[string]bool, error) {
	ctls, err := d.cim.EnumerateInstances(ctx, ClassAffinityGroupController)
	if err != nil {
		return nil, err
	}
	res := map[string]bool{}
	for _, c := range ctls {
		for _, i := range c.Array("InitiatorPortIDs") {
			if util.Contains(initiators, strings.ToLower(i)) || util.Contains(initiators, i) {
				res[c.Path.Key("DeviceID")] = true
			}
		}
	}
	return res, nil
}

// hostLUNs returns the host LUN numbers of the volumes mapped to the controllers, by volume device id
func (d *Driver) hostLUNs(ctx context.Context, ctls map[string]bool) (map[string]int, error) {
	units, err := d.cim.EnumerateInstances(ctx, ClassProtocolControllerUnit)
	if err != nil {
		return nil, err
	}
	res := map[string]int{}
	for _, u := range units {
		if !ctls[u.Ref("Antecedent").Key("DeviceID")] {
			continue
		}
		lun, err := strconv.ParseInt(u.Prop("DeviceNumber"), 16, 32)
		if err != nil {
			continue
		}
		res[u.Ref("Dependent").Key("DeviceID")] = int(lun)
	}
	return res, nil
}

func (d *Driver) fcTargets(ctx context.Context, initiators []string) ([]string, map[string][]string, error) {
	eps, err := d.cim.EnumerateInstances(ctx, ClassSCSIEndpoint)
	if err != nil {
		return nil, nil, err
	}
	var targets []string
	for _, ep := range eps {
		if ep.Prop("ConnectionType") == ConnectionTypeFC {
			targets = append(targets, util.NormalizeWWN(ep.Prop("Name")))
		}
	}
	if len(targets) == 0 {
		return nil, nil, driver.NewError(driver.CodeBackendAPI, "initialize connection", "no FC target port found")
	}
	itm := map[string][]string{}
	for _, i := range initiators {
		itm[i] = targets
	}
	return targets, itm, nil
}

// InitializeConnection exposes the volume to the initiators of the host
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if err := conn.Validate(d.connType()); err != nil {
		return nil, err
	}
	ci, err := d.initializeConnection(ctx, vol, conn)
	return ci, d.err(err)
}

func (d *Driver) initializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	n, err := d.element(ctx, vol.ProviderLocation, VolumeName(VolumePrefix, vol.ID))
	if err != nil {
		return nil, err
	}
	devID := n.Key("DeviceID")
	inits := d.initiators(conn)
	_, err = d.invoke(ctx, "ExposePaths", d.controllerSvc,
		ArrayParam("LUNames", "string", devID),
		ArrayParam("InitiatorPortIDs", "string", inits...),
		ArrayParam("DeviceAccesses", "uint16", strconv.Itoa(DeviceAccessRW)),
	)
	if err != nil && driver.CodeOf(err) != driver.CodeBusy {
		return nil, err
	}
	ctls, err := d.hostControllers(ctx, inits)
	if err != nil {
		return nil, err
	}
	luns, err := d.hostLUNs(ctx, ctls)
	if err != nil {
		return nil, err
	}
	lun, ok := luns[devID]
	if !ok {
		return nil, driver.NewError(driver.CodeBackendAPI, "initialize connection", fmt.Sprintf("volume %s is not mapped to %s", devID, conn.Host))
	}
	if d.protocol == "FC" {
		targets, itm, err := d.fcTargets(ctx, inits)
		if err != nil {
			return nil, err
		}
		return &driver.ConnectionInfo{
			DriverVolumeType: driver.ConnFC,
			Data: driver.ConnectionData{
				VolumeID:           vol.ID,
				TargetDiscovered:   true,
				TargetLUN:          lun,
				TargetWWN:          targets,
				InitiatorTargetMap: itm,
			},
		}, nil
	}
	eps, err := d.cim.EnumerateInstances(ctx, ClassISCSIEndpoint)
	if err != nil {
		return nil, err
	}
	var iqns, portals []string
	for _, ep := range eps {
		ip := ep.Prop("IPv4Address")
		if ip == "" || (len(d.iscsiIPs) > 0 && !util.Contains(d.iscsiIPs, ip)) {
			continue
		}
		port := int(ep.Uint("PortNumber"))
		if port == 0 {
			port = iscsiPortDefault
		}
		iqns = append(iqns, ep.Prop("Name"))
		portals = append(portals, net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	return driver.ISCSIConnection(vol.ID, iqns, portals, lun, conn.Multipath)
}

// TerminateConnection hides the volume from the initiators of the host. For FC the
// initiator target map is returned once no volume is exposed to the initiators.
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if err := conn.Validate(d.connType()); err != nil {
		return nil, err
	}
	ci, err := d.terminateConnection(ctx, vol, conn)
	return ci, d.err(err)
}

func (d *Driver) terminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	n, err := d.element(ctx, vol.ProviderLocation, VolumeName(VolumePrefix, vol.ID))
	if driver.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inits := d.initiators(conn)
	_, err = d.invoke(ctx, "HidePaths", d.controllerSvc,
		ArrayParam("LUNames", "string", n.Key("DeviceID")),
		ArrayParam("InitiatorPortIDs", "string", inits...),
	)
	if driver.IsNotFound(err) {
		d.Log.Warningf("volume %s: not exposed to %s", vol.ID, conn.Host)
		err = nil
	}
	if err != nil || d.protocol != "FC" {
		return nil, err
	}
	ctls, err := d.hostControllers(ctx, inits)
	if err != nil {
		return nil, err
	}
	luns, err := d.hostLUNs(ctx, ctls)
	if err != nil {
		return nil, err
	}
	if len(luns) > 0 {
		return nil, nil
	}
	targets, itm, err := d.fcTargets(ctx, inits)
	if err != nil {
		return nil, err
	}
	return &driver.ConnectionInfo{
		DriverVolumeType: driver.ConnFC,
		Data:             driver.ConnectionData{TargetWWN: targets, InitiatorTargetMap: itm},
	}, nil
}
