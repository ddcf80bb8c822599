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


package fake

import (
	"context"
	"fmt"
	"testing"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/stretchr/testify/assert"
)

func TestFakeDriver(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	di, err := driver.New(DriverType, tl.Logger())
	assert.NoError(err)
	d, ok := di.(*Driver)
	assert.True(ok)
	assert.Equal(DriverType, d.Type())
	assert.Equal(driver.Capabilities{Snapshot: true, Clone: true, Extend: true, Manage: true, Migrate: true}, driver.CapabilitiesOf(d))

	err = d.Setup(ctx, driver.NewConfig("b1", map[string]string{KeyPools: "gold:10, silver:x"}))
	assert.Regexp(`invalid pool "silver:x"`, err)
	assert.NoError(d.Setup(ctx, driver.NewConfig("b1", map[string]string{KeyPools: "gold:10, silver:5", driver.KeyBackendName: "fast"})))

	bs, err := d.Stats(ctx, true)
	assert.NoError(err)
	assert.Equal("fast", bs.BackendName)
	assert.Len(bs.Pools, 2)
	assert.Equal("gold", bs.Pools[0].Name)
	assert.Equal(10.0, bs.Pools[0].FreeCapacityGiB)

	v1 := &driver.VolumeSpec{ID: "v1", SizeGiB: 4, Pool: "gold"}
	mu, err := d.CreateVolume(ctx, v1)
	assert.NoError(err)
	assert.Equal("lun-1", mu.ProviderID)
	v1.ProviderID = mu.ProviderID
	_, err = d.CreateVolume(ctx, &driver.VolumeSpec{ID: "v2", SizeGiB: 7, Pool: "gold"})
	assert.Equal(driver.CodeCapacity, driver.CodeOf(err))
	_, err = d.CreateVolume(ctx, &driver.VolumeSpec{ID: "v2", SizeGiB: 1, Pool: "bronze"})
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(err))

	// connections
	conn := &driver.Connector{Host: "h1", Initiator: "iqn.h1"}
	ci, err := d.InitializeConnection(ctx, v1, conn)
	assert.NoError(err)
	assert.Equal(driver.ConnISCSI, ci.DriverVolumeType)
	assert.Equal(1, ci.Data.TargetLUN)
	ci, err = d.InitializeConnection(ctx, v1, conn)
	assert.NoError(err)
	assert.Equal(1, ci.Data.TargetLUN)
	_, err = d.InitializeConnection(ctx, v1, &driver.Connector{Host: "h2"})
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(err))
	mvs, err := d.GetManageableVolumes(ctx)
	assert.NoError(err)
	assert.Len(mvs, 1)
	assert.False(mvs[0].SafeToManage)
	ci, err = d.TerminateConnection(ctx, v1, conn)
	assert.NoError(err)
	assert.Nil(ci)

	// snapshots and copies
	s1 := &driver.SnapshotSpec{ID: "s1", Volume: v1}
	mu, err = d.CreateSnapshot(ctx, s1)
	assert.NoError(err)
	s1.ProviderID = mu.ProviderID
	assert.Equal(driver.CodeBusy, driver.CodeOf(d.DeleteVolume(ctx, v1)))
	_, err = d.CreateVolumeFromSnapshot(ctx, &driver.VolumeSpec{ID: "v3", SizeGiB: 2}, s1)
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(err))
	mu, err = d.CreateVolumeFromSnapshot(ctx, &driver.VolumeSpec{ID: "v3", SizeGiB: 4}, s1)
	assert.NoError(err)
	assert.Equal("gold/lun-3", mu.ProviderLocation)
	assert.NoError(d.DeleteSnapshot(ctx, s1))
	mu, err = d.CreateClonedVolume(ctx, &driver.VolumeSpec{ID: "v4", SizeGiB: 1}, v1)
	assert.Equal(driver.CodeCapacity, driver.CodeOf(err))
	assert.Nil(mu)

	// extend, migrate
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(d.ExtendVolume(ctx, v1, 4)))
	assert.Equal(driver.CodeCapacity, driver.CodeOf(d.ExtendVolume(ctx, v1, 7)))
	assert.NoError(d.ExtendVolume(ctx, v1, 5))
	moved, mu, err := d.MigrateVolume(ctx, v1, "silver")
	assert.NoError(err)
	assert.True(moved)
	assert.Equal("silver/lun-1", mu.ProviderLocation)
	moved, _, err = d.MigrateVolume(ctx, v1, "other")
	assert.NoError(err)
	assert.False(moved)

	// manage
	sz, err := d.ManageExistingGetSize(ctx, nil, map[string]string{"source-name": "v3"})
	assert.NoError(err)
	assert.EqualValues(4, sz)
	_, err = d.ManageExistingGetSize(ctx, nil, map[string]string{"source-name": "nope"})
	assert.True(driver.IsNotFound(err))
	_, err = d.ManageExistingGetSize(ctx, nil, map[string]string{})
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(err))
	mu, err = d.ManageExisting(ctx, &driver.VolumeSpec{ID: "v5"}, map[string]string{"source-id": "lun-3"})
	assert.NoError(err)
	assert.Equal("lun-3", mu.ProviderID)
	assert.NoError(d.UnmanageVolume(ctx, &driver.VolumeSpec{ProviderID: "lun-3"}))
	assert.True(driver.IsNotFound(d.UnmanageVolume(ctx, &driver.VolumeSpec{ProviderID: "lun-9"})))

	assert.NoError(d.DeleteVolume(ctx, v1))
	assert.NoError(d.DeleteVolume(ctx, v1))
	assert.Equal(1, tl.CountPattern("does not exist"))
	luns := d.LUNs()
	assert.Len(luns, 1)
	assert.Equal("v5", luns[0].Name)

	d.Errors["Stats"] = fmt.Errorf("stats-error")
	_, err = d.Stats(ctx, false)
	assert.Regexp("stats-error", err)
	assert.Equal(2, d.Calls["Stats"])
	assert.Equal(3, d.Calls["DeleteVolume"])
	assert.Equal(1, d.Calls["DeleteSnapshot"])
}

func TestFakeFC(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	d := New(tl.Logger())
	assert.NoError(d.Setup(ctx, driver.NewConfig("b2", map[string]string{KeyProtocol: driver.ConnFC})))
	v := &driver.VolumeSpec{ID: "v1", SizeGiB: 1}
	mu, err := d.CreateVolume(ctx, v)
	assert.NoError(err)
	assert.Equal("pool0/lun-1", mu.ProviderLocation)
	v.ProviderID = mu.ProviderID
	conn := &driver.Connector{Host: "h1", WWPNs: []string{"10000090fa000001"}}
	ci, err := d.InitializeConnection(ctx, v, conn)
	assert.NoError(err)
	assert.Equal(driver.ConnFC, ci.DriverVolumeType)
	assert.Len(ci.Data.InitiatorTargetMap["10000090fa000001"], 2)
	ci, err = d.TerminateConnection(ctx, v, conn)
	assert.NoError(err)
	assert.NotNil(ci)
	assert.Len(ci.Data.TargetWWN, 2)
}
