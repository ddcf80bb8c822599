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


package tatlin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

const gib = int64(1024 * 1024 * 1024)

// fakeTatlin is an in-memory Tatlin REST interface
type fakeTatlin struct {
	mux      sync.Mutex
	srv      *httptest.Server
	token    string
	logins   int
	expire   bool
	pools    []*Pool
	res      map[string]*Resource
	hosts    []*Host
	maps     map[string][]*Mapping
	ports    []*Port
	nextLUN  int
	calls    map[string]int
	failures map[string]int
}

func newFakeTatlin() *fakeTatlin {
	ft := &fakeTatlin{
		pools: []*Pool{
			{ID: "p-1", Name: "pool1", Status: "ready", Thin: true, CapacityTotal: 100 * gib, CapacityUsed: 30 * gib, CapacityFree: 70 * gib},
		},
		res: map[string]*Resource{},
		hosts: []*Host{
			{ID: "h-1", Name: "node1", Initiators: []string{"iqn.1994-05.com.redhat:node1"}},
		},
		maps: map[string][]*Mapping{},
		ports: []*Port{
			{Name: "p00", IQN: "iqn.2018-11.com.yadro:tatlin:sp0", IP: "10.0.0.1", Port: 3260},
			{Name: "p01", IQN: "iqn.2018-11.com.yadro:tatlin:sp1", IP: "10.0.1.1"},
		},
		nextLUN:  1,
		calls:    map[string]int{},
		failures: map[string]int{},
	}
	r := httprouter.New()
	r.POST("/auth/login", ft.login)
	r.GET("/block/pools", ft.auth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) { ft.reply(w, ft.pools) }))
	r.GET("/block/resources", ft.auth(ft.listResources))
	r.GET("/block/resources/:id", ft.auth(ft.getResource))
	r.PUT("/block/resources/:id", ft.auth(ft.putResource))
	r.DELETE("/block/resources/:id", ft.auth(ft.deleteResource))
	r.POST("/block/resources/:id/size", ft.auth(ft.resize))
	r.GET("/block/resources/:id/mapping", ft.auth(ft.listMappings))
	r.PUT("/block/resources/:id/mapping/hosts/:host", ft.auth(ft.mapHost))
	r.DELETE("/block/resources/:id/mapping/hosts/:host", ft.auth(ft.unmapHost))
	r.GET("/personalities/hosts", ft.auth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) { ft.reply(w, ft.hosts) }))
	r.GET("/ports", ft.auth(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) { ft.reply(w, ft.ports) }))
	ft.srv = httptest.NewServer(r)
	return ft
}

func (ft *fakeTatlin) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (ft *fakeTatlin) fail(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"message":%q}`, msg)
}

func (ft *fakeTatlin) auth(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ft.mux.Lock()
		defer ft.mux.Unlock()
		key := r.Method + " " + r.URL.Path
		ft.calls[key]++
		if ft.expire {
			ft.expire = false
			ft.token = ""
		}
		if ft.token == "" || r.Header.Get("X-Auth-Token") != ft.token {
			ft.fail(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if st, ok := ft.failures[key]; ok {
			ft.fail(w, st, "injected failure")
			return
		}
		h(w, r, p)
	}
}

func (ft *fakeTatlin) login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	var in map[string]string
	json.NewDecoder(r.Body).Decode(&in)
	if in["login"] != "admin" || in["secret"] != "secret" {
		ft.fail(w, http.StatusUnauthorized, "bad credentials")
		return
	}
	ft.logins++
	ft.token = fmt.Sprintf("tok-%d", ft.logins)
	ft.reply(w, map[string]string{"token": ft.token})
}

func (ft *fakeTatlin) listResources(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	pool := r.URL.Query().Get("pool_id")
	list := []*Resource{}
	for _, res := range ft.res {
		if pool == "" || res.PoolID == pool {
			list = append(list, res)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	ft.reply(w, list)
}

func (ft *fakeTatlin) getResource(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	res, ok := ft.res[p.ByName("id")]
	if !ok {
		ft.fail(w, http.StatusNotFound, "resource not found")
		return
	}
	cp := *res
	if res.Status == StatusCreating {
		res.Status = StatusReady
	}
	ft.reply(w, &cp)
}

func (ft *fakeTatlin) putResource(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if _, ok := ft.res[id]; ok {
		ft.fail(w, http.StatusConflict, "resource exists")
		return
	}
	res := &Resource{}
	if err := json.NewDecoder(r.Body).Decode(res); err != nil || res.Size <= 0 || res.PoolID == "" {
		ft.fail(w, http.StatusBadRequest, "invalid resource")
		return
	}
	res.ID = id
	res.Status = StatusCreating
	ft.res[id] = res
	ft.reply(w, res)
}

func (ft *fakeTatlin) deleteResource(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if _, ok := ft.res[id]; !ok {
		ft.fail(w, http.StatusNotFound, "resource not found")
		return
	}
	if len(ft.maps[id]) > 0 {
		ft.fail(w, http.StatusConflict, "resource is mapped")
		return
	}
	delete(ft.res, id)
}

func (ft *fakeTatlin) resize(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	res, ok := ft.res[p.ByName("id")]
	if !ok {
		ft.fail(w, http.StatusNotFound, "resource not found")
		return
	}
	var in map[string]int64
	json.NewDecoder(r.Body).Decode(&in)
	if in["new_size"] <= res.Size {
		ft.fail(w, http.StatusBadRequest, "size must grow")
		return
	}
	res.Size = in["new_size"]
	if res.Status == StatusReady {
		res.Status = StatusCreating
	}
}

func (ft *fakeTatlin) listMappings(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if _, ok := ft.res[id]; !ok {
		ft.fail(w, http.StatusNotFound, "resource not found")
		return
	}
	list := ft.maps[id]
	if list == nil {
		list = []*Mapping{}
	}
	ft.reply(w, list)
}

func (ft *fakeTatlin) mapHost(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, host := p.ByName("id"), p.ByName("host")
	if _, ok := ft.res[id]; !ok {
		ft.fail(w, http.StatusNotFound, "resource not found")
		return
	}
	for _, m := range ft.maps[id] {
		if m.HostID == host {
			ft.fail(w, http.StatusConflict, "already mapped")
			return
		}
	}
	ft.maps[id] = append(ft.maps[id], &Mapping{HostID: host, Resource: id, LUN: ft.nextLUN})
	ft.nextLUN++
}

func (ft *fakeTatlin) unmapHost(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id, host := p.ByName("id"), p.ByName("host")
	list := ft.maps[id]
	for i, m := range list {
		if m.HostID == host {
			ft.maps[id] = append(list[:i], list[i+1:]...)
			return
		}
	}
	ft.fail(w, http.StatusNotFound, "mapping not found")
}

func testConfig(ft *fakeTatlin, over map[string]string) *driver.Config {
	m := map[string]string{
		KeyURLs:               "http://127.0.0.1:1," + ft.srv.URL,
		driver.KeySanLogin:    "admin",
		driver.KeySanPassword: "secret",
		KeyPool:               "pool1",
		KeyPollInterval:       "1ms",
		KeyPollTimeout:        "2s",
	}
	for k, v := range over {
		m[k] = v
	}
	return driver.NewConfig("tatlin1", m)
}

func TestSetup(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()
	ft := newFakeTatlin()
	defer ft.srv.Close()

	d := &Driver{Log: tl.Logger()}
	assert.Equal(DriverType, d.Type())
	err := d.Setup(ctx, testConfig(ft, map[string]string{KeyPool: ""}))
	assert.Regexp("pool_name is required", err)
	err = d.Setup(ctx, testConfig(ft, map[string]string{driver.KeySanPassword: "wrong"}))
	assert.Equal(driver.CodeAuth, driver.CodeOf(err))
	err = d.Setup(ctx, testConfig(ft, map[string]string{KeyPool: "pool9"}))
	assert.Regexp(`tatlin1: setup: pool "pool9" not found`, err)

	assert.NoError(d.Setup(ctx, testConfig(ft, nil)))
	assert.Equal("p-1", d.poolID)
	assert.Equal(ft.srv.URL, d.client.rc.BaseURL())

	bs, err := d.Stats(ctx, false)
	assert.NoError(err)
	assert.Equal("YADRO", bs.VendorName)
	assert.True(bs.Capabilities.Extend)
	assert.False(bs.Capabilities.Snapshot)
	if assert.Len(bs.Pools, 1) {
		assert.Equal(100.0, bs.Pools[0].TotalCapacityGiB)
		assert.Equal(70.0, bs.Pools[0].FreeCapacityGiB)
		assert.True(bs.Pools[0].ThinProvisioning)
	}
	n := ft.calls["GET /block/pools"]
	bs2, err := d.Stats(ctx, false)
	assert.NoError(err)
	assert.True(bs == bs2)
	assert.Equal(n, ft.calls["GET /block/pools"])

	// token expiry
	ft.expire = true
	_, err = d.Stats(ctx, true)
	assert.NoError(err)
	assert.Equal(1, tl.CountPattern("token rejected, logging in again"))
	assert.Equal("tok-"+fmt.Sprint(ft.logins), d.client.rc.Header("X-Auth-Token"))
}

func TestVolumes(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()
	ft := newFakeTatlin()
	defer ft.srv.Close()

	d := &Driver{Log: tl.Logger()}
	assert.NoError(d.Setup(ctx, testConfig(ft, map[string]string{KeyMaxResourceCount: "2"})))

	vol := &driver.VolumeSpec{ID: "7f1c2bd6-6a4e-4e0a-9d2b-41b3cbbd1f20", SizeGiB: 2, ExtraSpecs: map[string]string{"provisioning:type": "thick"}}
	mu, err := d.CreateVolume(ctx, vol)
	assert.NoError(err)
	assert.Equal(vol.ID, mu.ProviderID)
	assert.Equal("pool1/"+vol.ID, mu.ProviderLocation)
	res := ft.res[vol.ID]
	if assert.NotNil(res) {
		assert.Equal(2*gib, res.Size)
		assert.False(res.Thin)
		assert.Equal(StatusReady, res.Status)
	}

	_, err = d.CreateVolume(ctx, vol)
	assert.Equal(driver.CodeBusy, driver.CodeOf(err))

	vol2 := &driver.VolumeSpec{ID: "vol-2", SizeGiB: 1, ExtraSpecs: map[string]string{}}
	_, err = d.CreateVolume(ctx, vol2)
	assert.NoError(err)
	assert.True(ft.res["vol-2"].Thin)
	_, err = d.CreateVolume(ctx, &driver.VolumeSpec{ID: "vol-3", SizeGiB: 1})
	assert.Equal(driver.CodeCapacity, driver.CodeOf(err))
	assert.Regexp("pool pool1 already holds 2 resources", err)

	assert.NoError(d.ExtendVolume(ctx, vol, 5))
	assert.Equal(5*gib, ft.res[vol.ID].Size)
	err = d.ExtendVolume(ctx, vol, 1)
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(err))

	// error state while waiting
	ft.res[vol.ID].Status = StatusError
	err = d.ExtendVolume(ctx, vol, 6)
	assert.Regexp("resource is in error state", err)
	ft.res[vol.ID].Status = StatusReady

	// poll timeout
	d.poll.Timeout = 20 * time.Millisecond
	ft.res["vol-2"].Status = "resizing"
	err = d.ExtendVolume(ctx, vol2, 2)
	assert.Regexp("timed out", err)
	d.poll.Timeout = 2 * time.Second

	assert.NoError(d.DeleteVolume(ctx, vol))
	assert.Nil(ft.res[vol.ID])
	assert.NoError(d.DeleteVolume(ctx, vol))
	assert.Equal(1, tl.CountPattern("resource does not exist"))

	ft.failures["DELETE /block/resources/vol-2"] = http.StatusInternalServerError
	err = d.DeleteVolume(ctx, vol2)
	assert.Equal(driver.CodeBackendAPI, driver.CodeOf(err))
	assert.Regexp("injected failure", err)
}

func TestConnection(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()
	ft := newFakeTatlin()
	defer ft.srv.Close()

	d := &Driver{Log: tl.Logger()}
	assert.NoError(d.Setup(ctx, testConfig(ft, nil)))
	vol := &driver.VolumeSpec{ID: "vol-1", SizeGiB: 1}
	_, err := d.CreateVolume(ctx, vol)
	assert.NoError(err)

	_, err = d.InitializeConnection(ctx, vol, &driver.Connector{Host: "node1"})
	assert.Equal(driver.CodeInvalidInput, driver.CodeOf(err))
	conn := &driver.Connector{Host: "node9", Initiator: "iqn.1994-05.com.redhat:node9"}
	_, err = d.InitializeConnection(ctx, vol, conn)
	assert.Equal(driver.CodeNotFound, driver.CodeOf(err))
	assert.Regexp("no host with initiator iqn.1994-05.com.redhat:node9", err)

	conn = &driver.Connector{Host: "node1", Initiator: "iqn.1994-05.com.redhat:node1", Multipath: true}
	ci, err := d.InitializeConnection(ctx, vol, conn)
	assert.NoError(err)
	assert.Equal(driver.ConnISCSI, ci.DriverVolumeType)
	assert.Equal(1, ci.Data.TargetLUN)
	assert.Equal("10.0.0.1:3260", ci.Data.TargetPortal)
	assert.Equal([]string{"10.0.0.1:3260", "10.0.1.1:3260"}, ci.Data.TargetPortals)
	assert.Equal([]int{1, 1}, ci.Data.TargetLUNs)

	// mapping again is idempotent
	ci, err = d.InitializeConnection(ctx, vol, conn)
	assert.NoError(err)
	assert.Equal(1, ci.Data.TargetLUN)
	assert.Len(ft.maps["vol-1"], 1)

	// port filter
	d.ports = []string{"p01"}
	ci, err = d.InitializeConnection(ctx, vol, conn)
	assert.NoError(err)
	assert.Equal("iqn.2018-11.com.yadro:tatlin:sp1", ci.Data.TargetIQN)
	assert.Nil(ci.Data.TargetPortals)
	d.ports = []string{"p99"}
	_, err = d.InitializeConnection(ctx, vol, conn)
	assert.Regexp("no usable iSCSI target", err)
	d.ports = nil

	err = d.DeleteVolume(ctx, vol)
	assert.Equal(driver.CodeBusy, driver.CodeOf(err))

	ci, err = d.TerminateConnection(ctx, vol, conn)
	assert.NoError(err)
	assert.Nil(ci)
	assert.Empty(ft.maps["vol-1"])
	_, err = d.TerminateConnection(ctx, vol, conn)
	assert.NoError(err)
	_, err = d.TerminateConnection(ctx, vol, &driver.Connector{Host: "node9", Initiator: "iqn.1994-05.com.redhat:node9"})
	assert.NoError(err)
	assert.Equal(1, tl.CountPattern("no host with initiator"))

	// force detach removes all mappings
	_, err = d.InitializeConnection(ctx, vol, conn)
	assert.NoError(err)
	_, err = d.TerminateConnection(ctx, vol, nil)
	assert.NoError(err)
	assert.Empty(ft.maps["vol-1"])
	assert.NoError(d.DeleteVolume(ctx, vol))
	_, err = d.TerminateConnection(ctx, vol, nil)
	assert.NoError(err)
}
