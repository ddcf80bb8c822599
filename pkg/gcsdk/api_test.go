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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

func TestAPI(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	serviceAccount := `{ "type": "service_account", "project_id": "test-proj-1" }`
	api := New()
	assert.NotNil(api)

	cs, err := api.NewComputeService(ctx, option.WithCredentialsJSON([]byte("{")))
	assert.Nil(cs)
	assert.Regexp("unexpected end of JSON input", err)

	cs, err = api.NewComputeService(ctx, option.WithCredentialsJSON([]byte(serviceAccount)))
	assert.NotNil(cs)
	assert.NoError(err)
	_, ok := cs.(*service)
	assert.True(ok)

	// cannot actually test success, just test failure
	expired := func() context.Context {
		ctx, cancelFn := context.WithTimeout(context.Background(), 0*time.Second)
		defer cancelFn()
		return ctx
	}

	d := cs.Disks()
	_, ok = d.(*disksService)
	assert.True(ok)
	dCS := d.CreateSnapshot("project", "zone", "disk-1", &compute.Snapshot{Name: "snap-1"})
	assert.Equal(dCS, dCS.Context(expired()))
	op, err := dCS.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	dDel := d.Delete("project", "zone", "disk-1")
	assert.Equal(dDel, dDel.Context(expired()))
	op, err = dDel.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	dGet := d.Get("project", "zone", "disk-1")
	assert.Equal(dGet, dGet.Context(expired()))
	disk, err := dGet.Do()
	assert.Nil(disk)
	assert.Regexp("context deadline exceeded", err)

	dInsert := d.Insert("project", "zone", &compute.Disk{})
	assert.Equal(dInsert, dInsert.Context(expired()))
	op, err = dInsert.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	dList := d.List("project", "zone")
	assert.Equal(dList, dList.Filter("name = vid"))
	err = dList.Pages(expired(), nil)
	assert.Regexp("context deadline exceeded", err)

	dResize := d.Resize("project", "zone", "disk-1", &compute.DisksResizeRequest{SizeGb: 20})
	assert.Equal(dResize, dResize.Context(expired()))
	op, err = dResize.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	g := cs.GlobalOperations()
	_, ok = g.(*globalOperationsService)
	assert.True(ok)
	gGet := g.Get("project", "op")
	assert.Equal(gGet, gGet.Context(expired()))
	op, err = gGet.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	i := cs.Instances()
	_, ok = i.(*instancesService)
	assert.True(ok)
	iAttach := i.AttachDisk("project", "zone", "instance-1", &compute.AttachedDisk{})
	assert.Equal(iAttach, iAttach.Context(expired()))
	assert.Equal(iAttach, iAttach.ForceAttach(true))
	op, err = iAttach.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	iDetach := i.DetachDisk("project", "zone", "instance-1", "device-name")
	assert.Equal(iDetach, iDetach.Context(expired()))
	op, err = iDetach.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	iGet := i.Get("project", "zone", "instance-1")
	assert.Equal(iGet, iGet.Context(expired()))
	inst, err := iGet.Do()
	assert.Nil(inst)
	assert.Regexp("context deadline exceeded", err)

	s := cs.Snapshots()
	_, ok = s.(*snapshotsService)
	assert.True(ok)
	sDel := s.Delete("project", "snap-1")
	assert.Equal(sDel, sDel.Context(expired()))
	op, err = sDel.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	sGet := s.Get("project", "snap-1")
	assert.Equal(sGet, sGet.Context(expired()))
	snap, err := sGet.Do()
	assert.Nil(snap)
	assert.Regexp("context deadline exceeded", err)

	o := cs.ZoneOperations()
	_, ok = o.(*zoneOperationsService)
	assert.True(ok)
	oGet := o.Get("project", "zone", "op")
	assert.Equal(oGet, oGet.Context(expired()))
	op, err = oGet.Do()
	assert.Nil(op)
	assert.Regexp("context deadline exceeded", err)

	z := cs.Zones()
	_, ok = z.(*zonesService)
	assert.True(ok)
	zGet := z.Get("project", "zone")
	assert.Equal(zGet, zGet.Context(expired()))
	zone, err := zGet.Do()
	assert.Nil(zone)
	assert.Regexp("context deadline exceeded", err)
}
