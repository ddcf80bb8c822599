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


package main

import (
	"testing"

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotCommands(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t, nil)
	defer e.done()

	volID := e.createVolume("v1")

	cc := &snapshotCreateCmd{VolumeID: "nosuch"}
	assert.Regexp("\\(404\\)", cc.Execute(nil))
	cc = &snapshotCreateCmd{VolumeID: volID, Name: "s1", Metadata: map[string]string{"k": "v"}}
	cc.Wait = true
	assert.NoError(cc.Execute(nil))
	assert.Equal([]string{hID, hName, hVolumeID, hSize, hStatus, hProgress, hCreated}, e.te.tableHeaders)
	if !assert.Len(e.te.tableData, 1) {
		return
	}
	snapID := e.te.tableData[0][0]
	assert.Equal([]string{"s1", volID, "1GiB", objects.SnapshotAvailable}, e.te.tableData[0][1:5])

	lc := &snapshotListCmd{VolumeID: volID, Status: []string{objects.SnapshotAvailable}}
	assert.NoError(lc.Execute(nil))
	assert.Len(e.te.tableData, 1)
	lc.Status = []string{objects.SnapshotError}
	assert.NoError(lc.Execute(nil))
	assert.Empty(e.te.tableData)
	lc = &snapshotListCmd{}
	lc.OutputFormat = "json"
	assert.NoError(lc.Execute(nil))
	if svs, ok := e.te.jsonData.([]*api.SnapshotView); assert.True(ok) && assert.Len(svs, 1) {
		assert.Equal("v", svs[0].Metadata["k"])
	}
	appCtx.ObjectVersions = "Snapshot=1.0"
	appCtx.client.ObjectVersions = appCtx.ObjectVersions
	assert.NoError(lc.Execute(nil))
	if l, ok := e.te.jsonData.([]interface{}); assert.True(ok) {
		assert.Len(l, 1)
	}
	gc := &snapshotGetCmd{}
	gc.ID = snapID
	gc.OutputFormat = "json"
	assert.NoError(gc.Execute(nil))
	if p, ok := e.te.jsonData.(map[string]interface{}); assert.True(ok) {
		assert.Equal("Snapshot", p[objects.PrimitiveName])
	}
	appCtx.ObjectVersions = ""
	appCtx.client.ObjectVersions = ""

	gc = &snapshotGetCmd{}
	assert.Regexp("expected --id", gc.Execute(nil))
	gc.ID = snapID
	assert.NoError(gc.Execute(nil))
	assert.Equal(snapID, e.te.tableData[0][0])

	rc := &snapshotResetStatusCmd{Status: "bogus"}
	rc.ID = snapID
	assert.Regexp("\\(400\\)", rc.Execute(nil))
	rc.Status = objects.SnapshotError
	assert.NoError(rc.Execute(nil))
	assert.Equal(objects.SnapshotError, e.te.tableData[0][4])

	dc := &snapshotDeleteCmd{}
	dc.ID = snapID
	assert.Regexp("specify --confirm", dc.Execute(nil))
	dc.Confirm = true
	dc.Wait = true
	assert.NoError(dc.Execute(nil))
	assert.Regexp("\\(404\\)", gc.Execute(nil))
}
