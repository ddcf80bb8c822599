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
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/zone"
	logging "github.com/op/go-logging"
)

// Web Tools pages
const (
	authPage     = "/authenticate.html"
	switchPage   = "/switch.html"
	zoneInfoPage = "/gzoneinfo.htm"
	nsInfoPage   = "/nsinfo.htm"
	logoutPage   = "/logout.html"
)

// NVP sections
const (
	secAuth     = "AUTHENTICATE"
	secSwitch   = "SWITCH INFORMATION"
	secZoneTxn  = "ZONE_TXN_INFO"
	secZoneInfo = "ZONE INFO"
	secNSInfo   = "NS INFO"
)

type httpClient struct {
	fabric *zone.Fabric
	log    *logging.Logger
	rc     *rest.Client

	mux      sync.Mutex
	loggedIn bool
}

func baseURL(f *zone.Fabric, https bool) string {
	scheme := "http"
	if https {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(f.Address, strconv.Itoa(f.Port))
}

func newHTTPClient(f *zone.Fabric, log *logging.Logger) (*httpClient, error) {
	rc, err := rest.New(&rest.Args{
		URLs:           []string{baseURL(f, f.Protocol == zone.ProtocolHTTPS)},
		Insecure:       f.Insecure,
		CACert:         f.CACert,
		SensitivePaths: []string{authPage},
		Log:            log,
	})
	if err != nil {
		return nil, driver.WrapError(driver.CodeInvalidInput, "connect", err)
	}
	return &httpClient{fabric: f, log: log, rc: rc}, nil
}

// nvpSection returns the lines between --BEGIN name and --END name
func nvpSection(body, name string) ([]string, bool) {
	begin, end := "--BEGIN "+name, "--END "+name
	i := strings.Index(body, begin)
	if i < 0 {
		return nil, false
	}
	tail := body[i+len(begin):]
	j := strings.Index(tail, end)
	if j < 0 {
		return nil, false
	}
	lines := []string{}
	for _, l := range strings.Split(tail[:j], "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, true
}

func nvpValues(lines []string) map[string]string {
	res := map[string]string{}
	for _, l := range lines {
		if kv := strings.SplitN(l, "=", 2); len(kv) == 2 {
			res[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return res
}

func (c *httpClient) login(ctx context.Context) error {
	c.rc.ClearSession("Authorization")
	creds := base64.StdEncoding.EncodeToString([]byte(c.fabric.User + ":" + c.fabric.Password))
	resp, err := c.rc.Do(ctx, &rest.Request{Method: "GET", Path: authPage, Header: http.Header{"Authorization": {"Custom_Basic " + creds}}})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return rest.StatusError("login", resp)
	}
	lines, ok := nvpSection(string(resp.Body), secAuth)
	vals := nvpValues(lines)
	if !ok || vals["authenticated"] != "yes" || vals["sessionID"] == "" {
		return driver.NewError(driver.CodeAuth, "login", "authentication failed")
	}
	c.rc.SetHeader("Authorization", "Custom_Basic "+vals["sessionID"])
	c.loggedIn = true
	return nil
}

// call performs a request in the session, logging in first if needed and once more if the session expired
func (c *httpClient) call(ctx context.Context, method, page string, form url.Values) (string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	var query url.Values
	if c.fabric.VirtualFabricID != "" {
		query = url.Values{"vfid": {c.fabric.VirtualFabricID}}
	}
	for attempt := 0; ; attempt++ {
		if !c.loggedIn {
			if err := c.login(ctx); err != nil {
				return "", err
			}
		}
		req := &rest.Request{Method: method, Path: page, Query: query}
		if form != nil {
			req.Body = []byte(form.Encode())
			req.ContentType = "application/x-www-form-urlencoded"
		}
		resp, err := c.rc.Do(ctx, req)
		if err != nil {
			return "", err
		}
		if resp.Status == http.StatusUnauthorized && attempt == 0 {
			c.loggedIn = false
			continue
		}
		if !resp.OK() {
			return "", rest.StatusError(method+" "+page, resp)
		}
		return string(resp.Body), nil
	}
}

// zoneDB is the defined zone database read from gzoneinfo.htm
type zoneDB struct {
	txnID     string
	checksum  string
	activeCfg string
	cfgs      map[string][]string
	zones     map[string][]string
}

func (c *httpClient) loadZoneDB(ctx context.Context) (*zoneDB, error) {
	body, err := c.call(ctx, "GET", zoneInfoPage, nil)
	if err != nil {
		return nil, err
	}
	txn, ok := nvpSection(body, secZoneTxn)
	info, ok2 := nvpSection(body, secZoneInfo)
	if !ok || !ok2 {
		return nil, driver.NewError(driver.CodeBackendAPI, "zone info", "malformed response")
	}
	db := &zoneDB{txnID: nvpValues(txn)["txnId"], cfgs: map[string][]string{}, zones: map[string][]string{}}
	for _, l := range info {
		kv := strings.SplitN(l, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "activeCfg":
			db.activeCfg = kv[1]
		case "checksum":
			db.checksum = kv[1]
		case "cfg", "zone":
			parts := strings.Split(kv[1], ";")
			members := []string{}
			for _, m := range parts[1:] {
				if m = strings.TrimSpace(m); m != "" {
					members = append(members, strings.ToLower(m))
				}
			}
			if kv[0] == "cfg" {
				db.cfgs[parts[0]] = members
			} else {
				db.zones[parts[0]] = members
			}
		}
	}
	return db, nil
}

func (db *zoneDB) encode() string {
	var b strings.Builder
	for _, n := range util.SortedStringKeys(db.cfgs) {
		fmt.Fprintf(&b, "cfg=%s;%s\n", n, strings.Join(db.cfgs[n], ";"))
	}
	for _, n := range util.SortedStringKeys(db.zones) {
		fmt.Fprintf(&b, "zone=%s;%s\n", n, strings.Join(db.zones[n], ";"))
	}
	return b.String()
}

// save posts the whole defined configuration; cfg is enabled if activate is set
func (c *httpClient) save(ctx context.Context, db *zoneDB, cfg string, activate, disable bool) error {
	form := url.Values{
		"txnId":       {db.txnID},
		"checksum":    {db.checksum},
		"zoneCfgInfo": {db.encode()},
		"saveonly":    {strconv.FormatBool(!activate)},
	}
	if activate {
		form.Set("effectiveCfgName", cfg)
	}
	if disable {
		form.Set("disable", "true")
	}
	body, err := c.call(ctx, "POST", zoneInfoPage, form)
	if err != nil {
		return err
	}
	lines, ok := nvpSection(body, secZoneTxn)
	if !ok {
		return driver.NewError(driver.CodeBackendAPI, "zone update", "malformed response")
	}
	vals := nvpValues(lines)
	if vals["statusCode"] != "0" {
		code := driver.CodeBackendAPI
		if cliBusyRe.MatchString(vals["statusMessage"]) {
			code = driver.CodeBusy
		}
		return &driver.Error{Code: code, Op: "zone update", VendorCode: vals["statusCode"], Message: vals["statusMessage"]}
	}
	return nil
}

// GetActiveZoneSet returns the zones of the effective configuration
func (c *httpClient) GetActiveZoneSet(ctx context.Context) (*zone.ZoneSet, error) {
	db, err := c.loadZoneDB(ctx)
	if err != nil {
		return nil, err
	}
	zs := &zone.ZoneSet{ActiveCfg: db.activeCfg, Zones: map[string][]string{}}
	for _, z := range db.cfgs[db.activeCfg] {
		if m, ok := db.zones[z]; ok {
			zs.Zones[z] = m
		}
	}
	return zs, nil
}

// AddZones defines the zones and adds them to the configuration
func (c *httpClient) AddZones(ctx context.Context, zones map[string][]string, activate bool, active *zone.ZoneSet) error {
	db, err := c.loadZoneDB(ctx)
	if err != nil {
		return err
	}
	cfg := cfgName(c.fabric, active)
	for _, n := range util.SortedStringKeys(zones) {
		db.zones[n] = zones[n]
		if !util.Contains(db.cfgs[cfg], n) {
			db.cfgs[cfg] = append(db.cfgs[cfg], n)
		}
	}
	return c.save(ctx, db, cfg, activate, false)
}

// UpdateZones changes the members of existing zones
func (c *httpClient) UpdateZones(ctx context.Context, zones map[string][]string, activate bool, op zone.UpdateOp, active *zone.ZoneSet) error {
	db, err := c.loadZoneDB(ctx)
	if err != nil {
		return err
	}
	for n, members := range zones {
		cur, ok := db.zones[n]
		if !ok {
			return driver.NewError(driver.CodeNotFound, "zone update", fmt.Sprintf("zone %s not found", n))
		}
		if op == zone.ZoneAdd {
			for _, m := range members {
				if !util.Contains(cur, m) {
					cur = append(cur, m)
				}
			}
		} else {
			kept := []string{}
			for _, m := range cur {
				if !util.Contains(members, m) {
					kept = append(kept, m)
				}
			}
			cur = kept
		}
		db.zones[n] = cur
	}
	return c.save(ctx, db, cfgName(c.fabric, active), activate, false)
}

// DeleteZones removes zones; the configuration is disabled and removed with its last zone
func (c *httpClient) DeleteZones(ctx context.Context, names []string, activate bool, active *zone.ZoneSet) error {
	db, err := c.loadZoneDB(ctx)
	if err != nil {
		return err
	}
	cfg := cfgName(c.fabric, active)
	for _, n := range names {
		delete(db.zones, n)
	}
	if deletesAll(names, active) {
		delete(db.cfgs, cfg)
		return c.save(ctx, db, cfg, false, true)
	}
	kept := []string{}
	for _, z := range db.cfgs[cfg] {
		if !util.Contains(names, z) {
			kept = append(kept, z)
		}
	}
	db.cfgs[cfg] = kept
	return c.save(ctx, db, cfg, activate, false)
}

// GetNameServerInfo returns the port WWNs listed by nsinfo.htm
func (c *httpClient) GetNameServerInfo(ctx context.Context) ([]string, error) {
	body, err := c.call(ctx, "GET", nsInfoPage, nil)
	if err != nil {
		return nil, err
	}
	lines, ok := nvpSection(body, secNSInfo)
	if !ok {
		return nil, driver.NewError(driver.CodeBackendAPI, "name server", "malformed response")
	}
	return nsPortNames(lines), nil
}

// IsSupportedFirmware checks the switch firmware version
func (c *httpClient) IsSupportedFirmware(ctx context.Context) (bool, error) {
	body, err := c.call(ctx, "GET", switchPage, nil)
	if err != nil {
		return false, err
	}
	lines, _ := nvpSection(body, secSwitch)
	fw := nvpValues(lines)["swFWVersion"]
	if fw == "" {
		return false, driver.NewError(driver.CodeBackendAPI, "switch info", "no firmware version found")
	}
	ok, err := firmwareAtLeast(fw, MinFirmwareVersion)
	if err != nil {
		return false, fabricError("switch info", err)
	}
	return ok, nil
}

// Close ends the session
func (c *httpClient) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if !c.loggedIn {
		return nil
	}
	if _, err := c.rc.Do(context.Background(), &rest.Request{Method: "GET", Path: logoutPage}); err != nil {
		c.log.Warningf("fabric %s: logout: %s", c.fabric.Name, err.Error())
	}
	c.loggedIn = false
	c.rc.ClearSession("Authorization")
	return nil
}
