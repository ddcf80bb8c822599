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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/zone"
	logging "github.com/op/go-logging"
)

// FOS REST resources
const (
	restLogin     = "/rest/login"
	restLogout    = "/rest/logout"
	restZone      = "/rest/running/brocade-zone"
	restDefined   = restZone + "/defined-configuration"
	restEffective = restZone + "/effective-configuration"
	restNS        = "/rest/running/brocade-name-server/fibrechannel-name-server"
	restSwitch    = "/rest/running/brocade-fabric/fabric-switch"
	yangJSON      = "application/yang-data+json"
)

// Effective configuration actions
const (
	cfgActionSave    = 1
	cfgActionDisable = 2
	cfgActionAbort   = 3
)

type memberZone struct {
	ZoneName []string `json:"zone-name"`
}

type memberEntry struct {
	EntryName []string `json:"entry-name"`
}

type zoneEntry struct {
	Name        string      `json:"zone-name,omitempty"`
	MemberEntry memberEntry `json:"member-entry"`
}

type cfgEntry struct {
	Name       string     `json:"cfg-name,omitempty"`
	MemberZone memberZone `json:"member-zone"`
}

type effectiveConfig struct {
	CfgName     string      `json:"cfg-name,omitempty"`
	Checksum    string      `json:"checksum,omitempty"`
	EnabledZone []zoneEntry `json:"enabled-zone,omitempty"`
}

type nsEntry struct {
	PortName string `json:"port-name"`
}

type fabricSwitch struct {
	Name            string `json:"name"`
	FirmwareVersion string `json:"firmware-version"`
	Principal       int    `json:"principal"`
}

type restErrors struct {
	Errors struct {
		Error []struct {
			Type    string `json:"error-type"`
			Tag     string `json:"error-tag"`
			Message string `json:"error-message"`
		} `json:"error"`
	} `json:"errors"`
}

type restClient struct {
	fabric *zone.Fabric
	log    *logging.Logger
	rc     *rest.Client

	mux   sync.Mutex
	token string
}

func newRESTClient(f *zone.Fabric, log *logging.Logger) (*restClient, error) {
	rc, err := rest.New(&rest.Args{
		URLs:           []string{baseURL(f, f.Protocol == zone.ProtocolRESTHTTPS)},
		Insecure:       f.Insecure,
		CACert:         f.CACert,
		SensitivePaths: []string{restLogin},
		Log:            log,
	})
	if err != nil {
		return nil, driver.WrapError(driver.CodeInvalidInput, "connect", err)
	}
	return &restClient{fabric: f, log: log, rc: rc}, nil
}

func restError(op string, resp *rest.Response) error {
	err := rest.StatusError(op, resp)
	var re restErrors
	if json.Unmarshal(resp.Body, &re) == nil && len(re.Errors.Error) > 0 {
		de := err.(*driver.Error)
		msgs := []string{}
		for _, e := range re.Errors.Error {
			msgs = append(msgs, e.Message)
		}
		de.Message = strings.Join(msgs, "; ")
		if cliBusyRe.MatchString(de.Message) {
			de.Code = driver.CodeBusy
		}
	}
	return err
}

func (c *restClient) login(ctx context.Context) error {
	c.rc.ClearSession("Authorization")
	creds := base64.StdEncoding.EncodeToString([]byte(c.fabric.User + ":" + c.fabric.Password))
	resp, err := c.rc.Do(ctx, &rest.Request{
		Method: "POST",
		Path:   restLogin,
		Header: http.Header{"Authorization": {"Basic " + creds}, "Accept": {yangJSON}},
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return restError("login", resp)
	}
	token := resp.Header.Get("Authorization")
	if token == "" {
		return driver.NewError(driver.CodeAuth, "login", "no session token returned")
	}
	c.token = token
	c.rc.SetHeader("Authorization", token)
	return nil
}

// call sends in and decodes the Response member of the reply into out.
// The session is established on first use and once more if it expired.
func (c *restClient) call(ctx context.Context, method, path string, in, out interface{}) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	op := method + " " + strings.TrimPrefix(path, "/rest/running/")
	req := &rest.Request{Method: method, Path: path, Header: http.Header{"Accept": {yangJSON}}}
	if c.fabric.VirtualFabricID != "" {
		req.Query = url.Values{"vf-id": {c.fabric.VirtualFabricID}}
	}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return driver.WrapError(driver.CodeInvalidInput, op, err)
		}
		req.Body = b
		req.ContentType = yangJSON
	}
	for attempt := 0; ; attempt++ {
		if c.token == "" {
			if err := c.login(ctx); err != nil {
				return err
			}
		}
		resp, err := c.rc.Do(ctx, req)
		if err != nil {
			return err
		}
		if resp.Status == http.StatusUnauthorized && attempt == 0 {
			c.token = ""
			continue
		}
		if !resp.OK() {
			return restError(op, resp)
		}
		if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
			return nil
		}
		var env struct {
			Response json.RawMessage `json:"Response"`
		}
		if err = json.Unmarshal(resp.Body, &env); err == nil {
			err = json.Unmarshal(env.Response, out)
		}
		if err != nil {
			return driver.WrapError(driver.CodeBackendAPI, op, fmt.Errorf("invalid response: %w", err))
		}
		return nil
	}
}

func (c *restClient) effective(ctx context.Context) (*effectiveConfig, error) {
	var res struct {
		EC effectiveConfig `json:"effective-configuration"`
	}
	if err := c.call(ctx, "GET", restEffective, nil, &res); err != nil {
		return nil, err
	}
	return &res.EC, nil
}

// action applies an effective configuration change guarded by the current checksum
func (c *restClient) action(ctx context.Context, path string) error {
	ec, err := c.effective(ctx)
	if err != nil {
		return err
	}
	body := map[string]interface{}{"effective-configuration": effectiveConfig{Checksum: ec.Checksum}}
	return c.call(ctx, "PATCH", path, body, nil)
}

func (c *restClient) commit(ctx context.Context, cfg string, activate bool) error {
	if activate {
		return c.action(ctx, restEffective+"/cfg-name/"+cfg)
	}
	return c.action(ctx, fmt.Sprintf("%s/cfg-action/%d", restEffective, cfgActionSave))
}

// transaction runs the steps and aborts the open zone transaction if one fails
func (c *restClient) transaction(ctx context.Context, steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			if aErr := c.action(ctx, fmt.Sprintf("%s/cfg-action/%d", restEffective, cfgActionAbort)); aErr != nil {
				c.log.Warningf("fabric %s: transaction abort: %s", c.fabric.Name, aErr.Error())
			}
			return err
		}
	}
	return nil
}

func zonePath(name string) string {
	return restDefined + "/zone/zone-name/" + url.PathEscape(name)
}

func cfgPath(name string) string {
	return restDefined + "/cfg/cfg-name/" + url.PathEscape(name)
}

// GetActiveZoneSet returns the effective configuration
func (c *restClient) GetActiveZoneSet(ctx context.Context) (*zone.ZoneSet, error) {
	ec, err := c.effective(ctx)
	if err != nil {
		return nil, err
	}
	zs := &zone.ZoneSet{ActiveCfg: ec.CfgName, Zones: map[string][]string{}}
	for _, z := range ec.EnabledZone {
		members := make([]string, 0, len(z.MemberEntry.EntryName))
		for _, m := range z.MemberEntry.EntryName {
			members = append(members, strings.ToLower(m))
		}
		zs.Zones[z.Name] = members
	}
	return zs, nil
}

// AddZones creates the zones and adds them to the configuration
func (c *restClient) AddZones(ctx context.Context, zones map[string][]string, activate bool, active *zone.ZoneSet) error {
	names := util.SortedStringKeys(zones)
	cfg := cfgName(c.fabric, active)
	steps := []func() error{}
	for _, n := range names {
		p := zonePath(n)
		body := map[string]interface{}{"member-entry": memberEntry{EntryName: zones[n]}}
		steps = append(steps, func() error { return c.call(ctx, "POST", p, body, nil) })
	}
	method := "PATCH"
	if active == nil || active.ActiveCfg == "" {
		method = "POST"
	}
	steps = append(steps,
		func() error {
			return c.call(ctx, method, cfgPath(cfg), map[string]interface{}{"member-zone": memberZone{ZoneName: names}}, nil)
		},
		func() error { return c.commit(ctx, cfg, activate) },
	)
	return c.transaction(ctx, steps...)
}

// UpdateZones adds or removes zone members
func (c *restClient) UpdateZones(ctx context.Context, zones map[string][]string, activate bool, op zone.UpdateOp, active *zone.ZoneSet) error {
	steps := []func() error{}
	for _, n := range util.SortedStringKeys(zones) {
		n, members := n, zones[n]
		if op == zone.ZoneAdd {
			body := map[string]interface{}{"member-entry": memberEntry{EntryName: members}}
			steps = append(steps, func() error { return c.call(ctx, "PATCH", zonePath(n), body, nil) })
			continue
		}
		for _, m := range members {
			p := zonePath(n) + "/member-entry/entry-name/" + url.PathEscape(m)
			steps = append(steps, func() error { return c.call(ctx, "DELETE", p, nil, nil) })
		}
	}
	steps = append(steps, func() error { return c.commit(ctx, cfgName(c.fabric, active), activate) })
	return c.transaction(ctx, steps...)
}

// DeleteZones removes zones; the configuration is disabled and deleted with its last zone
func (c *restClient) DeleteZones(ctx context.Context, names []string, activate bool, active *zone.ZoneSet) error {
	names = append([]string{}, names...)
	sort.Strings(names)
	cfg := cfgName(c.fabric, active)
	all := deletesAll(names, active)
	steps := []func() error{}
	if all {
		steps = append(steps, func() error {
			return c.action(ctx, fmt.Sprintf("%s/cfg-action/%d", restEffective, cfgActionDisable))
		})
	} else {
		for _, n := range names {
			p := cfgPath(cfg) + "/member-zone/zone-name/" + url.PathEscape(n)
			steps = append(steps, func() error { return c.call(ctx, "DELETE", p, nil, nil) })
		}
	}
	for _, n := range names {
		p := zonePath(n)
		steps = append(steps, func() error { return c.call(ctx, "DELETE", p, nil, nil) })
	}
	if all {
		steps = append(steps,
			func() error { return c.call(ctx, "DELETE", cfgPath(cfg), nil, nil) },
			func() error { return c.commit(ctx, cfg, false) },
		)
	} else {
		steps = append(steps, func() error { return c.commit(ctx, cfg, activate) })
	}
	return c.transaction(ctx, steps...)
}

// GetNameServerInfo returns the port WWNs known to the name server
func (c *restClient) GetNameServerInfo(ctx context.Context) ([]string, error) {
	var res struct {
		Entries []nsEntry `json:"fibrechannel-name-server"`
	}
	if err := c.call(ctx, "GET", restNS, nil, &res); err != nil {
		return nil, err
	}
	wwns := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		wwns = append(wwns, util.ColonWWN(e.PortName))
	}
	return wwns, nil
}

// IsSupportedFirmware checks the firmware of the principal switch, or of the switch named by principal_switch_wwn
func (c *restClient) IsSupportedFirmware(ctx context.Context) (bool, error) {
	var res struct {
		Switches []fabricSwitch `json:"fabric-switch"`
	}
	if err := c.call(ctx, "GET", restSwitch, nil, &res); err != nil {
		return false, err
	}
	var sw *fabricSwitch
	for i, s := range res.Switches {
		if c.fabric.PrincipalSwitchWWN != "" {
			if util.NormalizeWWN(s.Name) == util.NormalizeWWN(c.fabric.PrincipalSwitchWWN) {
				sw = &res.Switches[i]
				break
			}
			continue
		}
		if s.Principal == 1 {
			sw = &res.Switches[i]
			break
		}
	}
	if sw == nil {
		return false, driver.NewError(driver.CodeNotFound, "fabric-switch", "switch not found")
	}
	ok, err := firmwareAtLeast(sw.FirmwareVersion, MinRESTFirmwareVersion)
	if err != nil {
		return false, fabricError("fabric-switch", err)
	}
	return ok, nil
}

// Close ends the session
func (c *restClient) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.token == "" {
		return nil
	}
	if _, err := c.rc.Do(context.Background(), &rest.Request{Method: "POST", Path: restLogout, Header: http.Header{"Accept": {yangJSON}}}); err != nil {
		c.log.Warningf("fabric %s: logout: %s", c.fabric.Name, err.Error())
	}
	c.token = ""
	c.rc.ClearSession("Authorization")
	return nil
}
