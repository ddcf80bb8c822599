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


package brocade

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/zone"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

// fakeWebTools serves the NVP pages of a switch from an in-memory zone database
type fakeWebTools struct {
	mux        sync.Mutex
	srv        *httptest.Server
	session    string
	logins     int
	logouts    int
	expire     bool
	fw         string
	txnID      int
	activeCfg  string
	cfgs       map[string][]string
	zones      map[string][]string
	ns         []string
	lastForm   url.Values
	vfids      []string
	postStatus string
	postMsg    string
}

func newFakeWebTools() *fakeWebTools {
	fw := &fakeWebTools{
		fw:        "v7.4.2c",
		txnID:     100,
		activeCfg: "cfg1",
		cfgs:      map[string][]string{"cfg1": {"za", "zb"}},
		zones: map[string][]string{
			"za": {"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:04"},
			"zb": {"10:00:00:90:fa:1b:2c:3e", "50:06:0b:00:00:c2:66:04"},
			"zx": {"10:00:00:90:fa:1b:2c:3f"},
		},
		ns: []string{
			"N 010100;2,3;10:00:00:90:fa:1b:2c:3d;20:00:00:90:fa:1b:2c:3d;FCP",
			"N 010200;2,3;50:06:0b:00:00:c2:66:04;50:06:0b:00:00:c2:66:00;FCP",
		},
		postStatus: "0",
	}
	r := httprouter.New()
	r.GET(authPage, fw.login)
	r.GET(switchPage, fw.auth(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		fmt.Fprintf(w, "--BEGIN SWITCH INFORMATION\nswName=sw1\nswFWVersion=%s\n--END SWITCH INFORMATION\n", fw.fw)
	}))
	r.GET(zoneInfoPage, fw.auth(fw.getZoneInfo))
	r.POST(zoneInfoPage, fw.auth(fw.postZoneInfo))
	r.GET(nsInfoPage, fw.auth(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		fmt.Fprintf(w, "--BEGIN NS INFO\n%s\n--END NS INFO\n", strings.Join(fw.ns, "\n"))
	}))
	r.GET(logoutPage, fw.auth(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		fw.logouts++
		fw.session = ""
	}))
	fw.srv = httptest.NewServer(r)
	return fw
}

func (fw *fakeWebTools) fabric() *zone.Fabric {
	u, _ := url.Parse(fw.srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return &zone.Fabric{
		Name:       "fb",
		Address:    u.Hostname(),
		Port:       port,
		User:       "admin",
		Password:   "password",
		Protocol:   zone.ProtocolHTTP,
		ZoneConfig: zone.ZoneConfigDefault,
	}
}

func (fw *fakeWebTools) login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fw.mux.Lock()
	defer fw.mux.Unlock()
	exp := "Custom_Basic " + base64.StdEncoding.EncodeToString([]byte("admin:password"))
	if r.Header.Get("Authorization") != exp {
		fmt.Fprint(w, "--BEGIN AUTHENTICATE\nauthenticated=no\n--END AUTHENTICATE\n")
		return
	}
	fw.logins++
	fw.session = fmt.Sprintf("session-%d", fw.logins)
	fmt.Fprintf(w, "--BEGIN AUTHENTICATE\nauthenticated=yes\nisAdminRole=yes\nsessionID=%s\n--END AUTHENTICATE\n", fw.session)
}

func (fw *fakeWebTools) auth(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fw.mux.Lock()
		defer fw.mux.Unlock()
		if fw.expire {
			fw.expire = false
			fw.session = ""
		}
		if fw.session == "" || r.Header.Get("Authorization") != "Custom_Basic "+fw.session {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if v := r.URL.Query().Get("vfid"); v != "" {
			fw.vfids = append(fw.vfids, v)
		}
		h(w, r, p)
	}
}

func (fw *fakeWebTools) checksum() string {
	return fmt.Sprintf("ck%d", fw.txnID)
}

func (fw *fakeWebTools) getZoneInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprintf(w, "--BEGIN ZONE_TXN_INFO\ntxnId=%d\n--END ZONE_TXN_INFO\n", fw.txnID)
	fmt.Fprintf(w, "--BEGIN ZONE INFO\nactiveCfg=%s\nchecksum=%s\n", fw.activeCfg, fw.checksum())
	for _, n := range util.SortedStringKeys(fw.cfgs) {
		fmt.Fprintf(w, "cfg=%s;%s\n", n, strings.Join(fw.cfgs[n], ";"))
	}
	for _, n := range util.SortedStringKeys(fw.zones) {
		fmt.Fprintf(w, "zone=%s;%s\n", n, strings.Join(fw.zones[n], ";"))
	}
	fmt.Fprint(w, "--END ZONE INFO\n")
}

func (fw *fakeWebTools) postZoneInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.ParseForm()
	fw.lastForm = r.PostForm
	status, msg := fw.postStatus, fw.postMsg
	if r.PostForm.Get("txnId") != strconv.Itoa(fw.txnID) || r.PostForm.Get("checksum") != fw.checksum() {
		status, msg = "2", "checksum mismatch"
	}
	if status == "0" {
		fw.cfgs, fw.zones = map[string][]string{}, map[string][]string{}
		for _, l := range strings.Split(r.PostForm.Get("zoneCfgInfo"), "\n") {
			kv := strings.SplitN(l, "=", 2)
			if len(kv) != 2 {
				continue
			}
			parts := strings.Split(kv[1], ";")
			if kv[0] == "cfg" {
				fw.cfgs[parts[0]] = parts[1:]
			} else {
				fw.zones[parts[0]] = parts[1:]
			}
		}
		if r.PostForm.Get("saveonly") == "false" {
			fw.activeCfg = r.PostForm.Get("effectiveCfgName")
		}
		if r.PostForm.Get("disable") == "true" {
			fw.activeCfg = ""
		}
		fw.txnID++
	}
	fmt.Fprintf(w, "--BEGIN ZONE_TXN_INFO\nstatusCode=%s\nstatusMessage=%s\n--END ZONE_TXN_INFO\n", status, msg)
}

func TestHTTPClient(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	fw := newFakeWebTools()
	defer fw.srv.Close()
	f := fw.fabric()
	zc, err := NewClient(f, tl.Logger())
	assert.NoError(err)
	c, ok := zc.(*httpClient)
	assert.True(ok)

	ok, err = c.IsSupportedFirmware(ctx)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(1, fw.logins)

	zs, err := c.GetActiveZoneSet(ctx)
	assert.NoError(err)
	assert.Equal("cfg1", zs.ActiveCfg)
	assert.Equal([]string{"za", "zb"}, util.SortedStringKeys(zs.Zones))
	assert.Equal(fw.zones["za"], zs.Zones["za"])

	ns, err := c.GetNameServerInfo(ctx)
	assert.NoError(err)
	assert.Equal([]string{"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:04"}, ns)

	// add a zone to the active configuration and enable it
	assert.NoError(c.AddZones(ctx, map[string][]string{"zc": {"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:05"}}, true, zs))
	assert.Equal([]string{"za", "zb", "zc"}, fw.cfgs["cfg1"])
	assert.Equal([]string{"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:05"}, fw.zones["zc"])
	assert.Equal("false", fw.lastForm.Get("saveonly"))
	assert.Equal("cfg1", fw.lastForm.Get("effectiveCfgName"))
	assert.Equal(101, fw.txnID)

	assert.NoError(c.UpdateZones(ctx, map[string][]string{"za": {"50:06:0b:00:00:c2:66:05"}}, false, zone.ZoneAdd, zs))
	assert.Len(fw.zones["za"], 3)
	assert.Equal("true", fw.lastForm.Get("saveonly"))
	assert.Equal("", fw.lastForm.Get("effectiveCfgName"))
	assert.NoError(c.UpdateZones(ctx, map[string][]string{"za": {"50:06:0b:00:00:c2:66:04"}}, false, zone.ZoneRemove, zs))
	assert.Equal([]string{"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:05"}, fw.zones["za"])
	err = c.UpdateZones(ctx, map[string][]string{"zz": {"50:06:0b:00:00:c2:66:04"}}, false, zone.ZoneRemove, zs)
	assert.True(driver.IsNotFound(err))

	// session expired
	fw.expire = true
	assert.NoError(c.DeleteZones(ctx, []string{"zb"}, true, zs))
	assert.Equal(2, fw.logins)
	assert.Equal([]string{"za", "zc"}, fw.cfgs["cfg1"])
	_, ok = fw.zones["zb"]
	assert.False(ok)

	// last zones
	zs, err = c.GetActiveZoneSet(ctx)
	assert.NoError(err)
	assert.NoError(c.DeleteZones(ctx, []string{"za", "zc"}, true, zs))
	_, ok = fw.cfgs["cfg1"]
	assert.False(ok)
	assert.Equal("", fw.activeCfg)
	assert.Equal("true", fw.lastForm.Get("disable"))
	assert.Equal([]string{"zx"}, util.SortedStringKeys(fw.zones))

	// a new configuration is created when none is active
	zs, err = c.GetActiveZoneSet(ctx)
	assert.NoError(err)
	assert.Empty(zs.Zones)
	assert.NoError(c.AddZones(ctx, map[string][]string{"zd": {"10:00:00:90:fa:1b:2c:3d"}}, true, zs))
	assert.Equal(zone.ZoneConfigDefault, fw.activeCfg)
	assert.Equal([]string{"zd"}, fw.cfgs[zone.ZoneConfigDefault])

	// failures
	fw.postStatus, fw.postMsg = "4", "Zone DB transaction in progress"
	err = c.AddZones(ctx, map[string][]string{"ze": {"10:00:00:90:fa:1b:2c:3d"}}, true, zs)
	assert.Equal(driver.CodeBusy, driver.CodeOf(err))
	assert.Regexp("zone update: Zone DB transaction in progress \\(code 4\\)", err)
	fw.postStatus = "0"
	fw.fw = "v5.0.1"
	ok, err = c.IsSupportedFirmware(ctx)
	assert.NoError(err)
	assert.False(ok)
	fw.fw = ""
	_, err = c.IsSupportedFirmware(ctx)
	assert.Regexp("no firmware version", err)

	// virtual fabric
	f.VirtualFabricID = "10"
	_, err = c.GetNameServerInfo(ctx)
	assert.NoError(err)
	assert.Equal([]string{"10"}, fw.vfids)

	assert.NoError(c.Close())
	assert.Equal(1, fw.logouts)
	assert.NoError(c.Close())
	assert.Equal(1, fw.logouts)

	// bad credentials
	f.Password = "wrong"
	zc, err = NewClient(f, tl.Logger())
	assert.NoError(err)
	_, err = zc.GetActiveZoneSet(ctx)
	assert.Equal(driver.CodeAuth, driver.CodeOf(err))
	assert.Regexp("^login: authentication failed", err)
}

func TestNVP(t *testing.T) {
	assert := assert.New(t)

	body := "junk\n--BEGIN A\n x=1 \n\ny = 2\nz\n--END A\n--BEGIN B\n"
	lines, ok := nvpSection(body, "A")
	assert.True(ok)
	assert.Equal([]string{"x=1", "y = 2", "z"}, lines)
	assert.Equal(map[string]string{"x": "1", "y": "2"}, nvpValues(lines))
	_, ok = nvpSection(body, "B")
	assert.False(ok)
	_, ok = nvpSection(body, "C")
	assert.False(ok)

	db := &zoneDB{
		cfgs:  map[string][]string{"c": {"z1", "z2"}},
		zones: map[string][]string{"z2": {"b"}, "z1": {"a"}},
	}
	assert.Equal("cfg=c;z1;z2\nzone=z1;a\nzone=z2;b\n", db.encode())
}
