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


package huawei

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/util"
)

type namedObject struct {
	ID   string `json:"ID"`
	Name string `json:"NAME"`
}

type initiatorInfo struct {
	ID            string `json:"ID"`
	ParentID      string `json:"PARENTID"`
	RunningStatus string `json:"RUNNINGSTATUS"`
}

type hostLUN struct {
	ID                string `json:"ID"`
	AssociateMetadata string `json:"ASSOCIATEMETADATA"`
}

type hostLink struct {
	InitiatorPortWWN string `json:"INITIATOR_PORT_WWN"`
	TargetPortWWN    string `json:"TARG_PORT_WWN"`
}

const iscsiPort = "3260"

func assocQuery(objType int, id string) url.Values {
	return url.Values{"ASSOCIATEOBJTYPE": {strconv.Itoa(objType)}, "ASSOCIATEOBJID": {id}}
}

func containsID(objs []*namedObject, id string) bool {
	for _, o := range objs {
		if o.ID == id {
			return true
		}
	}
	return false
}

// ensureObject returns the id of the named object of the given kind, creating it if necessary
func (d *Driver) ensureObject(ctx context.Context, kind, name string, body map[string]interface{}) (string, error) {
	id, err := d.findObject(ctx, kind, name)
	if err != nil || id != "" {
		return id, err
	}
	body["NAME"] = name
	o := &namedObject{}
	if err = d.client.call(ctx, "POST", "/"+kind, nil, body, o); err != nil {
		return "", err
	}
	d.Log.Debugf("Created %s %s (%s)", kind, name, o.ID)
	return o.ID, nil
}

// findObject returns the id of the named object or the empty string
func (d *Driver) findObject(ctx context.Context, kind, name string) (string, error) {
	var objs []*namedObject
	if err := d.client.call(ctx, "GET", "/"+kind, nameFilter(name), nil, &objs); err != nil {
		return "", err
	}
	for _, o := range objs {
		if o.Name == name {
			return o.ID, nil
		}
	}
	return "", nil
}

func (d *Driver) associated(ctx context.Context, kind string, objType int, id string) ([]*namedObject, error) {
	var objs []*namedObject
	err := d.client.call(ctx, "GET", "/"+kind+"/associate", assocQuery(objType, id), nil, &objs)
	return objs, err
}

func (d *Driver) ensureHost(ctx context.Context, host string) (string, error) {
	return d.ensureObject(ctx, "host", EncodeHostName(host), map[string]interface{}{
		"TYPE":            objTypeHost,
		"OPERATIONSYSTEM": "0",
		"DESCRIPTION":     host,
	})
}

// mapLUN adds the LUN to the LUN group of the host, creating the host group, LUN group and
// mapping view of the host as needed
func (d *Driver) mapLUN(ctx context.Context, hostID, lunID string) error {
	hgID, err := d.ensureObject(ctx, "hostgroup", HostGroupPrefix+hostID, map[string]interface{}{"TYPE": objTypeHostGroup})
	if err != nil {
		return err
	}
	hosts, err := d.associated(ctx, "host", objTypeHostGroup, hgID)
	if err != nil {
		return err
	}
	if !containsID(hosts, hostID) {
		body := map[string]interface{}{"TYPE": objTypeHostGroup, "ID": hgID, "ASSOCIATEOBJTYPE": objTypeHost, "ASSOCIATEOBJID": hostID}
		if err = d.client.call(ctx, "POST", "/hostgroup/associate", nil, body, nil); err != nil {
			return err
		}
	}
	lgID, err := d.ensureObject(ctx, "lungroup", LUNGroupPrefix+hostID, map[string]interface{}{"APPTYPE": "0", "GROUPTYPE": "0"})
	if err != nil {
		return err
	}
	luns, err := d.associated(ctx, "lun", objTypeLUNGroup, lgID)
	if err != nil {
		return err
	}
	if !containsID(luns, lunID) {
		body := map[string]interface{}{"ID": lgID, "ASSOCIATEOBJTYPE": objTypeLUN, "ASSOCIATEOBJID": lunID}
		if err = d.client.call(ctx, "POST", "/lungroup/associate", nil, body, nil); err != nil {
			return err
		}
	}
	mvID, err := d.ensureObject(ctx, "mappingview", MappingViewPrefix+hostID, map[string]interface{}{"TYPE": objTypeMappingView})
	if err != nil {
		return err
	}
	for _, a := range []struct {
		objType int
		id      string
	}{{objTypeHostGroup, hgID}, {objTypeLUNGroup, lgID}} {
		views, err := d.associated(ctx, "mappingview", a.objType, a.id)
		if err != nil {
			return err
		}
		if containsID(views, mvID) {
			continue
		}
		body := map[string]interface{}{"TYPE": objTypeMappingView, "ID": mvID, "ASSOCIATEOBJTYPE": a.objType, "ASSOCIATEOBJID": a.id}
		if err = d.client.call(ctx, "PUT", "/mappingview/create_associate", nil, body, nil); err != nil {
			return err
		}
	}
	return nil
}

// hostLUNID returns the LUN number the host sees for the LUN
func (d *Driver) hostLUNID(ctx context.Context, hostID, lunID string) (int, error) {
	var luns []*hostLUN
	if err := d.client.call(ctx, "GET", "/lun/associate", assocQuery(objTypeHost, hostID), nil, &luns); err != nil {
		return 0, err
	}
	for _, l := range luns {
		if l.ID != lunID {
			continue
		}
		var md struct {
			HostLUNID int `json:"HostLUNID"`
		}
		if err := json.Unmarshal([]byte(l.AssociateMetadata), &md); err != nil {
			return 0, driver.WrapError(driver.CodeBackendAPI, "host LUN id", err)
		}
		return md.HostLUNID, nil
	}
	return 0, &driver.Error{Code: driver.CodeNotFound, Op: "host LUN id", Message: fmt.Sprintf("LUN %s is not mapped to host %s", lunID, hostID)}
}

// iscsiTargets returns the target IQNs and portals, restricted to the configured target IPs.
// Port ids look like "0+iqn.2006-08.com.huawei:oceanstor:2100...::22003:10.0.0.1,t,0x01".
func (d *Driver) iscsiTargets(ctx context.Context) ([]string, []string, error) {
	var ports []*namedObject
	if err := d.client.call(ctx, "GET", "/iscsi_tgt_port", nil, nil, &ports); err != nil {
		return nil, nil, err
	}
	iqns, portals := []string{}, []string{}
	for _, p := range ports {
		parts := strings.SplitN(p.ID, "+", 2)
		if len(parts) != 2 {
			continue
		}
		iqn := strings.SplitN(parts[1], ",", 2)[0]
		i := strings.LastIndex(iqn, ":")
		if i < 0 {
			continue
		}
		ip := iqn[i+1:]
		if len(d.tgtIPs) > 0 && !util.Contains(d.tgtIPs, ip) {
			continue
		}
		iqns = append(iqns, iqn)
		portals = append(portals, ip+":"+iscsiPort)
	}
	return iqns, portals, nil
}

func (d *Driver) ensureISCSIInitiator(ctx context.Context, iqn, hostID string) error {
	var inits []*initiatorInfo
	if err := d.client.call(ctx, "GET", "/iscsi_initiator", url.Values{"filter": {"ID::" + iqn}}, nil, &inits); err != nil {
		return err
	}
	var ini *initiatorInfo
	for _, i := range inits {
		if i.ID == iqn {
			ini = i
		}
	}
	if ini == nil {
		body := map[string]interface{}{"ID": iqn, "TYPE": objTypeISCSIInit, "USECHAP": "false"}
		if err := d.client.call(ctx, "POST", "/iscsi_initiator", nil, body, nil); err != nil {
			return err
		}
		ini = &initiatorInfo{ID: iqn}
	}
	switch ini.ParentID {
	case hostID:
		return nil
	case "":
		body := map[string]interface{}{"ID": iqn, "TYPE": objTypeISCSIInit, "USECHAP": "false", "PARENTTYPE": objTypeHost, "PARENTID": hostID}
		return d.client.call(ctx, "PUT", "/iscsi_initiator/"+iqn, nil, body, nil)
	}
	return driver.NewError(driver.CodeInvalidInput, "add initiator", fmt.Sprintf("initiator %s belongs to host %s", iqn, ini.ParentID))
}

// ensureFCInitiators adds the online connector ports to the host and returns them
func (d *Driver) ensureFCInitiators(ctx context.Context, wwpns []string, hostID string) ([]string, error) {
	online := []string{}
	for _, w := range wwpns {
		w = util.NormalizeWWN(w)
		ini := &initiatorInfo{}
		err := d.client.call(ctx, "GET", "/fc_initiator/"+w, nil, nil, ini)
		if driver.IsNotFound(err) {
			d.Log.Warningf("FC initiator %s is not logged in to the array", w)
			continue
		}
		if err != nil {
			return nil, err
		}
		switch ini.ParentID {
		case hostID:
		case "":
			body := map[string]interface{}{"ID": w, "TYPE": objTypeFCInit, "PARENTTYPE": objTypeHost, "PARENTID": hostID}
			if err = d.client.call(ctx, "PUT", "/fc_initiator/"+w, nil, body, nil); err != nil {
				return nil, err
			}
		default:
			return nil, driver.NewError(driver.CodeInvalidInput, "add initiator", fmt.Sprintf("initiator %s belongs to host %s", w, ini.ParentID))
		}
		online = append(online, w)
	}
	if len(online) == 0 {
		return nil, driver.NewError(driver.CodeBackendAPI, "add initiator", "no FC initiator of the host is online")
	}
	return online, nil
}

// fcTargets returns the array ports each initiator is logged in to
func (d *Driver) fcTargets(ctx context.Context, wwpns []string) ([]string, map[string][]string, error) {
	itm := map[string][]string{}
	all := map[string]struct{}{}
	for _, w := range wwpns {
		w = util.NormalizeWWN(w)
		var links []*hostLink
		q := url.Values{"INITIATOR_TYPE": {strconv.Itoa(objTypeFCInit)}, "INITIATOR_PORT_WWN": {w}}
		if err := d.client.call(ctx, "GET", "/host_link", q, nil, &links); err != nil {
			return nil, nil, err
		}
		for _, l := range links {
			t := util.NormalizeWWN(l.TargetPortWWN)
			itm[w] = append(itm[w], t)
			all[t] = struct{}{}
		}
	}
	targets := make([]string, 0, len(all))
	for t := range all {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, itm, nil
}

// InitializeConnection maps the LUN to the connector host over iSCSI or FC
func (d *Driver) InitializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	connType := driver.ConnISCSI
	if d.protocol == "FC" {
		connType = driver.ConnFC
	}
	if err := conn.Validate(connType); err != nil {
		return nil, err
	}
	ci, err := d.initializeConnection(ctx, vol, conn, connType)
	return ci, d.err(err)
}

func (d *Driver) initializeConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector, connType string) (*driver.ConnectionInfo, error) {
	lunID, err := d.lunID(ctx, vol)
	if err != nil {
		return nil, err
	}
	hostID, err := d.ensureHost(ctx, conn.Host)
	if err != nil {
		return nil, err
	}
	var wwpns []string
	if connType == driver.ConnISCSI {
		err = d.ensureISCSIInitiator(ctx, conn.Initiator, hostID)
	} else {
		wwpns, err = d.ensureFCInitiators(ctx, conn.WWPNs, hostID)
	}
	if err != nil {
		return nil, err
	}
	if err = d.mapLUN(ctx, hostID, lunID); err != nil {
		return nil, err
	}
	hlun, err := d.hostLUNID(ctx, hostID, lunID)
	if err != nil {
		return nil, err
	}
	if connType == driver.ConnISCSI {
		iqns, portals, err := d.iscsiTargets(ctx)
		if err != nil {
			return nil, err
		}
		return driver.ISCSIConnection(vol.ID, iqns, portals, hlun, conn.Multipath)
	}
	targets, itm, err := d.fcTargets(ctx, wwpns)
	if err != nil {
		return nil, err
	}
	return &driver.ConnectionInfo{
		DriverVolumeType: driver.ConnFC,
		Data: driver.ConnectionData{
			VolumeID:           vol.ID,
			TargetLUN:          hlun,
			TargetWWN:          targets,
			InitiatorTargetMap: itm,
		},
	}, nil
}

// TerminateConnection removes the LUN from the LUN group of the host. For FC the initiator
// target map is returned once the host has no LUNs left so that its zones can be removed.
func (d *Driver) TerminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	ci, err := d.terminateConnection(ctx, vol, conn)
	return ci, d.err(err)
}

func (d *Driver) terminateConnection(ctx context.Context, vol *driver.VolumeSpec, conn *driver.Connector) (*driver.ConnectionInfo, error) {
	if conn == nil || conn.Host == "" {
		return nil, driver.NewError(driver.CodeInvalidInput, "terminate connection", "host is required")
	}
	lunID, err := d.lunID(ctx, vol)
	if err != nil {
		return nil, err
	}
	hostID, err := d.findObject(ctx, "host", EncodeHostName(conn.Host))
	if err != nil || hostID == "" {
		return nil, err
	}
	lgID, err := d.findObject(ctx, "lungroup", LUNGroupPrefix+hostID)
	if err != nil || lgID == "" {
		return nil, err
	}
	luns, err := d.associated(ctx, "lun", objTypeLUNGroup, lgID)
	if err != nil {
		return nil, err
	}
	if containsID(luns, lunID) {
		q := url.Values{"ID": {lgID}, "ASSOCIATEOBJTYPE": {strconv.Itoa(objTypeLUN)}, "ASSOCIATEOBJID": {lunID}}
		if err = d.client.call(ctx, "DELETE", "/lungroup/associate", q, nil, nil); err != nil {
			return nil, err
		}
		d.Log.Debugf("Removed LUN %s from LUN group %s", lunID, lgID)
	}
	if d.protocol != "FC" || len(luns) > 1 || (len(luns) == 1 && !containsID(luns, lunID)) {
		return nil, nil
	}
	targets, itm, err := d.fcTargets(ctx, conn.WWPNs)
	if err != nil {
		return nil, err
	}
	return &driver.ConnectionInfo{
		DriverVolumeType: driver.ConnFC,
		Data:             driver.ConnectionData{TargetWWN: targets, InitiatorTargetMap: itm},
	}, nil
}
