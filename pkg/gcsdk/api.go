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


package gcsdk

import (
	"context"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// API is an interface over the GC SDK
type API interface {
	// Add methods as needed

	NewComputeService(ctx context.Context, opts ...option.ClientOption) (ComputeService, error)
}

// ComputeService is an interface over compute.Service
type ComputeService interface {
	Disks() DisksService
	GlobalOperations() GlobalOperationsService
	Instances() InstancesService
	Snapshots() SnapshotsService
	ZoneOperations() ZoneOperationsService
	Zones() ZonesService
}

// DisksService is an interface over compute.DisksService
type DisksService interface {
	CreateSnapshot(project string, zone string, disk string, snapshot *compute.Snapshot) DisksCreateSnapshotCall
	Delete(project string, zone string, disk string) DisksDeleteCall
	Get(project string, zone string, disk string) DisksGetCall
	Insert(project string, zone string, disk *compute.Disk) DisksInsertCall
	List(project string, zone string) DisksListCall
	Resize(project string, zone string, disk string, resizeRequest *compute.DisksResizeRequest) DisksResizeCall
}

// DisksCreateSnapshotCall is an interface over compute.DisksCreateSnapshotCall
type DisksCreateSnapshotCall interface {
	Context(ctx context.Context) DisksCreateSnapshotCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// DisksDeleteCall is an interface over compute.DisksDeleteCall
type DisksDeleteCall interface {
	Context(ctx context.Context) DisksDeleteCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// DisksGetCall is an interface over compute.DisksGetCall
type DisksGetCall interface {
	Context(ctx context.Context) DisksGetCall
	Do(opts ...googleapi.CallOption) (*compute.Disk, error)
}

// DisksInsertCall is an interface over compute.DisksInsertCall
type DisksInsertCall interface {
	Context(ctx context.Context) DisksInsertCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// DisksListCall is an interface over compute.DisksListCall
type DisksListCall interface {
	Filter(filter string) DisksListCall
	Pages(ctx context.Context, f func(*compute.DiskList) error) error
}

// DisksResizeCall is an interface over compute.DisksResizeCall
type DisksResizeCall interface {
	Context(ctx context.Context) DisksResizeCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// GlobalOperationsService is an interface over compute.GlobalOperationsService
type GlobalOperationsService interface {
	Get(project string, operation string) GlobalOperationsGetCall
}

// GlobalOperationsGetCall is an interface over compute.GlobalOperationsGetCall
type GlobalOperationsGetCall interface {
	Context(ctx context.Context) GlobalOperationsGetCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// InstancesService is an interface over compute.InstancesService
type InstancesService interface {
	AttachDisk(project string, zone string, instance string, attacheddisk *compute.AttachedDisk) InstancesAttachDiskCall
	DetachDisk(project string, zone string, instance string, deviceName string) InstancesDetachDiskCall
	Get(project string, zone string, instance string) InstancesGetCall
}

// InstancesAttachDiskCall is an interface over compute.InstancesAttachDiskCall
type InstancesAttachDiskCall interface {
	Context(ctx context.Context) InstancesAttachDiskCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
	ForceAttach(forceAttach bool) InstancesAttachDiskCall
}

// InstancesDetachDiskCall is an interface over compute.InstancesDetachDiskCall
type InstancesDetachDiskCall interface {
	Context(ctx context.Context) InstancesDetachDiskCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// InstancesGetCall is an interface over compute.InstancesGetCall
type InstancesGetCall interface {
	Context(ctx context.Context) InstancesGetCall
	Do(opts ...googleapi.CallOption) (*compute.Instance, error)
}

// SnapshotsService is an interface over compute.SnapshotsService
type SnapshotsService interface {
	Delete(project string, snapshot string) SnapshotsDeleteCall
	Get(project string, snapshot string) SnapshotsGetCall
}

// SnapshotsDeleteCall is an interface over compute.SnapshotsDeleteCall
type SnapshotsDeleteCall interface {
	Context(ctx context.Context) SnapshotsDeleteCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// SnapshotsGetCall is an interface over compute.SnapshotsGetCall
type SnapshotsGetCall interface {
	Context(ctx context.Context) SnapshotsGetCall
	Do(opts ...googleapi.CallOption) (*compute.Snapshot, error)
}

// ZoneOperationsService is an interface over compute.ZoneOperationsService
type ZoneOperationsService interface {
	Get(project string, zone string, operation string) ZoneOperationsGetCall
}

// ZoneOperationsGetCall is an interface over compute.ZoneOperationsGetCall
type ZoneOperationsGetCall interface {
	Context(ctx context.Context) ZoneOperationsGetCall
	Do(opts ...googleapi.CallOption) (*compute.Operation, error)
}

// ZonesService is an interface over compute.ZonesService
type ZonesService interface {
	Get(project string, zone string) ZonesGetCall
}

// ZonesGetCall is an interface over compute.ZonesGetCall
type ZonesGetCall interface {
	Context(ctx context.Context) ZonesGetCall
	Do(opts ...googleapi.CallOption) (*compute.Zone, error)
}

// SDK satisfies Client.API
type sdk struct{}

var _ = API(&sdk{})

type service struct {
	s *compute.Service
}

var _ = ComputeService(&service{})

type disksService struct {
	d *compute.DisksService
}

var _ = DisksService(&disksService{})

type disksCreateSnapshotCall struct {
	c *compute.DisksCreateSnapshotCall
}

var _ = DisksCreateSnapshotCall(&disksCreateSnapshotCall{})

type disksDeleteCall struct {
	c *compute.DisksDeleteCall
}

var _ = DisksDeleteCall(&disksDeleteCall{})

type disksGetCall struct {
	c *compute.DisksGetCall
}

var _ = DisksGetCall(&disksGetCall{})

type disksInsertCall struct {
	c *compute.DisksInsertCall
}

var _ = DisksInsertCall(&disksInsertCall{})

type disksListCall struct {
	c *compute.DisksListCall
}

var _ = DisksListCall(&disksListCall{})

type disksResizeCall struct {
	c *compute.DisksResizeCall
}

var _ = DisksResizeCall(&disksResizeCall{})

type globalOperationsService struct {
	g *compute.GlobalOperationsService
}

var _ = GlobalOperationsService(&globalOperationsService{})

type globalOperationsGetCall struct {
	c *compute.GlobalOperationsGetCall
}

var _ = GlobalOperationsGetCall(&globalOperationsGetCall{})

type instancesService struct {
	i *compute.InstancesService
}

var _ = InstancesService(&instancesService{})

type instancesAttachDiskCall struct {
	c *compute.InstancesAttachDiskCall
}

var _ = InstancesAttachDiskCall(&instancesAttachDiskCall{})

type instancesDetachDiskCall struct {
	c *compute.InstancesDetachDiskCall
}

var _ = InstancesDetachDiskCall(&instancesDetachDiskCall{})

type instancesGetCall struct {
	c *compute.InstancesGetCall
}

var _ = InstancesGetCall(&instancesGetCall{})

type snapshotsService struct {
	s *compute.SnapshotsService
}

var _ = SnapshotsService(&snapshotsService{})

type snapshotsDeleteCall struct {
	c *compute.SnapshotsDeleteCall
}

var _ = SnapshotsDeleteCall(&snapshotsDeleteCall{})

type snapshotsGetCall struct {
	c *compute.SnapshotsGetCall
}

var _ = SnapshotsGetCall(&snapshotsGetCall{})

type zoneOperationsService struct {
	z *compute.ZoneOperationsService
}

var _ = ZoneOperationsService(&zoneOperationsService{})

type zoneOperationsGetCall struct {
	c *compute.ZoneOperationsGetCall
}

var _ = ZoneOperationsGetCall(&zoneOperationsGetCall{})

type zonesService struct {
	z *compute.ZonesService
}

var _ = ZonesService(&zonesService{})

type zonesGetCall struct {
	c *compute.ZonesGetCall
}

var _ = ZonesGetCall(&zonesGetCall{})

// New returns the real implementation of API over the GC SDK
func New() API {
	return &sdk{}
}

// NewComputeService wraps compute.NewService
func (c *sdk) NewComputeService(ctx context.Context, opts ...option.ClientOption) (ComputeService, error) {
	ret := &service{}
	var err error
	if ret.s, err = compute.NewService(ctx, opts...); err != nil {
		ret = nil
	}
	return ret, err
}

func (cs *service) Disks() DisksService {
	return &disksService{d: cs.s.Disks}
}

func (d *disksService) CreateSnapshot(project string, zone string, disk string, snapshot *compute.Snapshot) DisksCreateSnapshotCall {
	return &disksCreateSnapshotCall{c: d.d.CreateSnapshot(project, zone, disk, snapshot)}
}

func (c *disksCreateSnapshotCall) Context(ctx context.Context) DisksCreateSnapshotCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *disksCreateSnapshotCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (d *disksService) Delete(project string, zone string, disk string) DisksDeleteCall {
	return &disksDeleteCall{c: d.d.Delete(project, zone, disk)}
}

func (c *disksDeleteCall) Context(ctx context.Context) DisksDeleteCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *disksDeleteCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (d *disksService) Get(project string, zone string, disk string) DisksGetCall {
	return &disksGetCall{c: d.d.Get(project, zone, disk)}
}

func (c *disksGetCall) Context(ctx context.Context) DisksGetCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *disksGetCall) Do(opts ...googleapi.CallOption) (*compute.Disk, error) {
	return c.c.Do(opts...)
}

func (d *disksService) Insert(project string, zone string, disk *compute.Disk) DisksInsertCall {
	return &disksInsertCall{c: d.d.Insert(project, zone, disk)}
}

func (c *disksInsertCall) Context(ctx context.Context) DisksInsertCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *disksInsertCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (d *disksService) List(project string, zone string) DisksListCall {
	return &disksListCall{c: d.d.List(project, zone)}
}

func (c *disksListCall) Filter(filter string) DisksListCall {
	c.c.Filter(filter) // returns itself
	return c
}

func (c *disksListCall) Pages(ctx context.Context, f func(*compute.DiskList) error) error {
	return c.c.Pages(ctx, f)
}

func (d *disksService) Resize(project string, zone string, disk string, resizeRequest *compute.DisksResizeRequest) DisksResizeCall {
	return &disksResizeCall{c: d.d.Resize(project, zone, disk, resizeRequest)}
}

func (c *disksResizeCall) Context(ctx context.Context) DisksResizeCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *disksResizeCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (cs *service) GlobalOperations() GlobalOperationsService {
	return &globalOperationsService{g: cs.s.GlobalOperations}
}

func (gs *globalOperationsService) Get(project string, operation string) GlobalOperationsGetCall {
	return &globalOperationsGetCall{c: gs.g.Get(project, operation)}
}

func (c *globalOperationsGetCall) Context(ctx context.Context) GlobalOperationsGetCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *globalOperationsGetCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (cs *service) Instances() InstancesService {
	return &instancesService{i: cs.s.Instances}
}

func (i *instancesService) AttachDisk(project string, zone string, instance string, attacheddisk *compute.AttachedDisk) InstancesAttachDiskCall {
	return &instancesAttachDiskCall{c: i.i.AttachDisk(project, zone, instance, attacheddisk)}
}

func (c *instancesAttachDiskCall) Context(ctx context.Context) InstancesAttachDiskCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *instancesAttachDiskCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (c *instancesAttachDiskCall) ForceAttach(forceAttach bool) InstancesAttachDiskCall {
	c.c.ForceAttach(forceAttach) // returns itself
	return c
}

func (i *instancesService) DetachDisk(project string, zone string, instance string, deviceName string) InstancesDetachDiskCall {
	return &instancesDetachDiskCall{c: i.i.DetachDisk(project, zone, instance, deviceName)}
}

func (c *instancesDetachDiskCall) Context(ctx context.Context) InstancesDetachDiskCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *instancesDetachDiskCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (i *instancesService) Get(project string, zone string, instance string) InstancesGetCall {
	return &instancesGetCall{c: i.i.Get(project, zone, instance)}
}

func (c *instancesGetCall) Context(ctx context.Context) InstancesGetCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *instancesGetCall) Do(opts ...googleapi.CallOption) (*compute.Instance, error) {
	return c.c.Do(opts...)
}

func (cs *service) Snapshots() SnapshotsService {
	return &snapshotsService{s: cs.s.Snapshots}
}

func (ss *snapshotsService) Delete(project string, snapshot string) SnapshotsDeleteCall {
	return &snapshotsDeleteCall{c: ss.s.Delete(project, snapshot)}
}

func (c *snapshotsDeleteCall) Context(ctx context.Context) SnapshotsDeleteCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *snapshotsDeleteCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (ss *snapshotsService) Get(project string, snapshot string) SnapshotsGetCall {
	return &snapshotsGetCall{c: ss.s.Get(project, snapshot)}
}

func (c *snapshotsGetCall) Context(ctx context.Context) SnapshotsGetCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *snapshotsGetCall) Do(opts ...googleapi.CallOption) (*compute.Snapshot, error) {
	return c.c.Do(opts...)
}

func (cs *service) ZoneOperations() ZoneOperationsService {
	return &zoneOperationsService{z: cs.s.ZoneOperations}
}

func (zs *zoneOperationsService) Get(project string, zone string, operation string) ZoneOperationsGetCall {
	return &zoneOperationsGetCall{c: zs.z.Get(project, zone, operation)}
}

func (c *zoneOperationsGetCall) Context(ctx context.Context) ZoneOperationsGetCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *zoneOperationsGetCall) Do(opts ...googleapi.CallOption) (*compute.Operation, error) {
	return c.c.Do(opts...)
}

func (cs *service) Zones() ZonesService {
	return &zonesService{z: cs.s.Zones}
}

func (zs *zonesService) Get(project string, zone string) ZonesGetCall {
	return &zonesGetCall{c: zs.z.Get(project, zone)}
}

func (c *zonesGetCall) Context(ctx context.Context) ZonesGetCall {
	c.c.Context(ctx) // returns itself
	return c
}

func (c *zonesGetCall) Do(opts ...googleapi.CallOption) (*compute.Zone, error) {
	return c.c.Do(opts...)
}
