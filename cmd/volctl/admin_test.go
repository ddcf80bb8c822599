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
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/stretchr/testify/assert"
)

func TestServiceCommands(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t, nil)
	defer e.done()

	lc := &serviceListCmd{Binary: volume.Binary}
	assert.NoError(lc.Execute(nil))
	if assert.Len(e.te.tableData, 1) {
		assert.Equal([]string{volume.Binary, "host1", "", "enabled", "up", ""}, e.te.tableData[0][1:7])
	}
	lc = &serviceListCmd{Host: "nosuch"}
	assert.NoError(lc.Execute(nil))
	assert.Empty(e.te.tableData)

	dc := &serviceDisableCmd{Reason: "maintenance"}
	dc.serviceSelector = serviceSelector{Host: "host1", Binary: volume.Binary}
	dc.OutputFormat = "json"
	assert.NoError(dc.Execute(nil))
	if m, ok := e.te.jsonData.(map[string]interface{}); assert.True(ok) {
		assert.Equal("disabled", m["status"])
		assert.Equal("maintenance", m["disabled_reason"])
	}
	lc = &serviceListCmd{}
	lc.OutputFormat = "yaml"
	assert.NoError(lc.Execute(nil))
	if svs, ok := e.te.yamlData.([]*api.ServiceView); assert.True(ok) && assert.Len(svs, 1) {
		assert.Equal("disabled", svs[0].Status)
	}

	ec := &serviceEnableCmd{}
	ec.serviceSelector = serviceSelector{Host: "nosuch", Binary: volume.Binary}
	assert.Regexp("\\(404\\)", ec.Execute(nil))
	ec.serviceSelector.Host = "host1"
	assert.NoError(ec.Execute(nil))
	if m, ok := e.te.jsonData.(map[string]interface{}); assert.True(ok) {
		assert.Equal("enabled", m["status"])
	}

	// log levels
	sc := &serviceSetLogCmd{Level: "warning", Prefix: "volctltest"}
	assert.NoError(sc.Execute(nil))
	gc := &serviceGetLogCmd{Prefix: "volctltest"}
	assert.NoError(gc.Execute(nil))
	assert.Equal([]string{hHost, hBinary, hPrefix, hLevel}, e.te.tableHeaders)
	if assert.Len(e.te.tableData, 1) {
		assert.Equal([]string{"host1", volume.Binary, "volctltest", "WARNING"}, e.te.tableData[0])
	}
	gc = &serviceGetLogCmd{Prefix: "volctltest", Host: "other"}
	assert.NoError(gc.Execute(nil))
	assert.Empty(e.te.tableData)
	gc.OutputFormat = "json"
	assert.NoError(gc.Execute(nil))
	if lls, ok := e.te.jsonData.([]*api.LogLevels); assert.True(ok) {
		assert.Empty(lls)
	}
}

func TestPoolCommands(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t, nil)
	defer e.done()

	c := &poolListCmd{}
	assert.NoError(c.Execute(nil))
	assert.Equal([]string{hPool}, e.te.tableHeaders)
	assert.Equal([][]string{{"host1@be1#gold"}}, e.te.tableData)
	c.OutputFormat = "json"
	assert.NoError(c.Execute(nil))
	assert.Equal([]map[string]string{{"name": "host1@be1#gold"}}, e.te.jsonData)

	c = &poolListCmd{Detail: true}
	assert.NoError(c.Execute(nil))
	assert.Equal([]string{hPool, hBackend, hProtocol, hTotal, hFree}, e.te.tableHeaders)
	if assert.Len(e.te.tableData, 1) {
		assert.Equal("host1@be1#gold", e.te.tableData[0][0])
		assert.Equal(capacityString(100), e.te.tableData[0][4])
	}
	c.OutputFormat = "yaml"
	assert.NoError(c.Execute(nil))
	if pis, ok := e.te.yamlData.([]*volume.PoolInfo); assert.True(ok) && assert.Len(pis, 1) {
		assert.EqualValues(100, pis[0].FreeGiB)
	}

	c.RemainingArgs.Rest = []string{"x"}
	assert.Regexp("unexpected arguments", c.Execute(nil))
}

func TestCleanupCommand(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t, nil)
	defer e.done()

	c := &cleanupCmd{}
	assert.NoError(c.Execute(nil))
	if assert.Len(e.te.tableData, 1) {
		assert.Equal([]string{volume.Binary, "host1"}, e.te.tableData[0][1:3])
		assert.Equal("cleaning", e.te.tableData[0][4])
	}
	c = &cleanupCmd{Host: "nosuch", Disabled: "false"}
	assert.NoError(c.Execute(nil))
	assert.Empty(e.te.tableData)
}

func TestTaskCommands(t *testing.T) {
	assert := assert.New(t)
	e := newTestEnv(t, nil)
	defer e.done()

	volID := e.createVolume("v1")

	lc := &taskListCmd{Operation: volume.OpCreateVolume}
	assert.NoError(lc.Execute(nil))
	if !assert.Len(e.te.tableData, 1) {
		return
	}
	taskID := e.te.tableData[0][0]
	assert.Equal([]string{volume.OpCreateVolume, volID, "SUCCEEDED", "100%", ""}, e.te.tableData[0][1:6])
	lc.Operation = "nosuch"
	assert.NoError(lc.Execute(nil))
	assert.Empty(e.te.tableData)

	gc := &taskGetCmd{}
	gc.ID = taskID
	gc.OutputFormat = "json"
	assert.NoError(gc.Execute(nil))
	if tvs, ok := e.te.jsonData.([]*tasks.View); assert.True(ok) && assert.Len(tvs, 1) {
		assert.Equal(taskID, tvs[0].ID)
	}
	gc.ID = "nosuch"
	assert.Regexp("\\(404\\)", gc.Execute(nil))

	cc := &taskCancelCmd{}
	cc.ID = "nosuch"
	assert.Regexp("specify --confirm", cc.Execute(nil))
	cc.Confirm = true
	assert.Regexp("\\(404\\)", cc.Execute(nil))

	// waiting for a failed task
	tw := &taskWaiter{Wait: true}
	assert.Regexp("\\(404\\)", tw.waitFor("nosuch"))
	assert.NoError((&taskWaiter{}).waitFor("nosuch"))
}
