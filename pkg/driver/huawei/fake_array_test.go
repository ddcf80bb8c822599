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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	fakeDeviceID = "2102350BVB10K3000003"
	restPrefix   = "/deviceManager/rest"
	gib          = 2097152
)

// fakeArray is an in-memory OceanStor REST interface
type fakeArray struct {
	t          *testing.T
	mux        sync.Mutex
	srv        *httptest.Server
	token      string
	logins     int
	expire     bool
	nextID     int
	pools      []*poolInfo
	luns       map[string]*lunInfo
	snaps      map[string]*snapshotInfo
	tasks      map[string]*taskInfo
	objs       map[string]map[string]*namedObject
	assoc      map[string]bool
	iscsiInits map[string]*initiatorInfo
	fcInits    map[string]*initiatorInfo
	links      map[string][]string
	hostLUN    map[string]int
	calls      map[string]int
	errors     map[string]int
}

func newFakeArray(t *testing.T) *fakeArray {
	fa := &fakeArray{
		t: t,
		pools: []*poolInfo{
			{ID: "0", Name: "pool1", UsageType: "1", UserTotalCapacity: fmt.Sprint(100 * gib), UserFreeCapacity: fmt.Sprint(60 * gib), LUNConfigedCapacity: fmt.Sprint(40 * gib)},
			{ID: "1", Name: "pool2", UsageType: "1", UserTotalCapacity: fmt.Sprint(50 * gib), UserFreeCapacity: fmt.Sprint(50 * gib), LUNConfigedCapacity: "0"},
			{ID: "2", Name: "files", UsageType: "2", UserTotalCapacity: fmt.Sprint(50 * gib), UserFreeCapacity: fmt.Sprint(50 * gib)},
		},
		luns:       map[string]*lunInfo{},
		snaps:      map[string]*snapshotInfo{},
		tasks:      map[string]*taskInfo{},
		objs:       map[string]map[string]*namedObject{},
		assoc:      map[string]bool{},
		iscsiInits: map[string]*initiatorInfo{},
		fcInits:    map[string]*initiatorInfo{},
		links:      map[string][]string{},
		hostLUN:    map[string]int{},
		calls:      map[string]int{},
		errors:     map[string]int{},
	}
	fa.srv = httptest.NewServer(fa)
	return fa
}

func (fa *fakeArray) url() string {
	return fa.srv.URL + restPrefix
}

func (fa *fakeArray) id() string {
	fa.nextID++
	return strconv.Itoa(fa.nextID)
}

func str(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func (fa *fakeArray) reply(w http.ResponseWriter, data interface{}, code int) {
	env := map[string]interface{}{"data": data, "error": map[string]interface{}{"code": code, "description": fmt.Sprintf("error %d", code)}}
	if code == 0 {
		env["error"] = map[string]interface{}{"code": 0, "description": "0"}
	}
	json.NewEncoder(w).Encode(env)
}

func (fa *fakeArray) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fa.mux.Lock()
	defer fa.mux.Unlock()
	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)
	path := strings.TrimPrefix(r.URL.Path, restPrefix)
	if r.Method == "POST" && path == "/xx/sessions" {
		if body["username"] != "admin" || body["password"] != "pw" {
			fa.reply(w, nil, -401)
			return
		}
		fa.logins++
		fa.token = fmt.Sprintf("token-%d", fa.logins)
		fa.reply(w, map[string]interface{}{"deviceid": fakeDeviceID, "iBaseToken": fa.token, "accountstate": 1}, 0)
		return
	}
	if !strings.HasPrefix(path, "/"+fakeDeviceID+"/") || r.Header.Get("iBaseToken") != fa.token || fa.expire {
		fa.expire = false
		fa.token = ""
		fa.reply(w, nil, -401)
		return
	}
	path = strings.TrimPrefix(path, "/"+fakeDeviceID)
	parts := strings.Split(strings.Trim(path, "/"), "/")
	key, arg := r.Method+" "+parts[0], ""
	if len(parts) > 1 {
		switch parts[1] {
		case "associate", "create_associate", "expand", "activate", "stop", "start":
			key += "/" + parts[1]
		default:
			arg = parts[1]
		}
	}
	fa.calls[key]++
	if code, ok := fa.errors[key]; ok {
		delete(fa.errors, key)
		fa.reply(w, nil, code)
		return
	}
	q := r.URL.Query()
	data, code := fa.handle(key, arg, q.Get("filter"), q, body)
	fa.reply(w, data, code)
}

func (fa *fakeArray) filterName(filter string) string {
	if strings.HasPrefix(filter, "NAME::") {
		return strings.TrimPrefix(filter, "NAME::")
	}
	return ""
}

func (fa *fakeArray) handle(key, arg, filter string, q map[string][]string, body map[string]interface{}) (interface{}, int) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	switch key {
	case "DELETE sessions":
		return nil, 0
	case "GET storagepool":
		return fa.pools, 0
	case "POST lun":
		l := &lunInfo{ID: fa.id(), Name: str(body["NAME"]), Description: str(body["DESCRIPTION"]), ParentID: str(body["PARENTID"]),
			Capacity: str(body["CAPACITY"]), AllocType: str(body["ALLOCTYPE"]), HealthStatus: "1", RunningStatus: "initializing", IsAdd2LUNGroup: "false"}
		for _, p := range fa.pools {
			if p.ID == l.ParentID {
				l.ParentName = p.Name
			}
		}
		l.WWN = "6a0b" + l.ID
		fa.luns[l.ID] = l
		c := *l
		return &c, 0
	case "GET lun":
		if arg != "" {
			l, ok := fa.luns[arg]
			if !ok {
				return nil, ErrCodeLUNNotExist
			}
			c := *l
			l.RunningStatus = statusLUNReady
			return &c, 0
		}
		res := []*lunInfo{}
		name := fa.filterName(filter)
		for _, id := range sortedIDs(fa.luns) {
			l := fa.luns[id]
			if name == "" || l.Name == name {
				res = append(res, l)
			}
		}
		return res, 0
	case "PUT lun":
		l, ok := fa.luns[arg]
		if !ok {
			return nil, ErrCodeLUNNotExist
		}
		l.Name = str(body["NAME"])
		return nil, 0
	case "DELETE lun":
		if _, ok := fa.luns[arg]; !ok {
			return nil, ErrCodeLUNNotExist
		}
		delete(fa.luns, arg)
		return nil, 0
	case "PUT lun/expand":
		l, ok := fa.luns[str(body["ID"])]
		if !ok {
			return nil, ErrCodeLUNNotExist
		}
		l.Capacity = str(body["CAPACITY"])
		return nil, 0
	case "GET lun/associate":
		id := get("ASSOCIATEOBJID")
		if get("ASSOCIATEOBJTYPE") == "21" {
			id = fa.objID("lungroup", LUNGroupPrefix+id)
			res := []*hostLUN{}
			for _, lid := range sortedIDs(fa.luns) {
				if n, ok := fa.hostLUN[id+"/"+lid]; ok {
					res = append(res, &hostLUN{ID: lid, AssociateMetadata: fmt.Sprintf(`{"HostLUNID":%d}`, n)})
				}
			}
			return res, 0
		}
		return fa.assocList("lun", id), 0
	case "POST snapshot":
		s := &snapshotInfo{ID: fa.id(), Name: str(body["NAME"]), ParentID: str(body["PARENTID"]), RunningStatus: "45"}
		if _, ok := fa.luns[s.ParentID]; !ok {
			return nil, ErrCodeLUNNotExist
		}
		fa.snaps[s.ID] = s
		c := *s
		return &c, 0
	case "POST snapshot/activate":
		for _, id := range body["SNAPSHOTLIST"].([]interface{}) {
			fa.snaps[str(id)].RunningStatus = statusSnapshotActive
		}
		return nil, 0
	case "GET snapshot":
		if arg != "" {
			s, ok := fa.snaps[arg]
			if !ok {
				return nil, ErrCodeSnapshotNotExist
			}
			return s, 0
		}
		res := []*snapshotInfo{}
		for _, s := range fa.snaps {
			if s.Name == fa.filterName(filter) {
				res = append(res, s)
			}
		}
		return res, 0
	case "PUT snapshot/stop":
		fa.snaps[str(body["ID"])].RunningStatus = "45"
		return nil, 0
	case "DELETE snapshot":
		s, ok := fa.snaps[arg]
		if !ok {
			return nil, ErrCodeSnapshotNotExist
		}
		if s.RunningStatus == statusSnapshotActive {
			return nil, 1077937891
		}
		delete(fa.snaps, arg)
		return nil, 0
	case "POST luncopy":
		src := strings.Split(str(body["SOURCELUN"]), ";")[1]
		if _, ok := fa.snaps[src]; !ok {
			return nil, ErrCodeSnapshotNotExist
		}
		t := &taskInfo{ID: fa.id(), HealthStatus: "1", RunningStatus: "38"}
		fa.tasks["luncopy/"+t.ID] = t
		return t, 0
	case "PUT luncopy/start":
		fa.tasks["luncopy/"+str(body["ID"])].RunningStatus = "39"
		return nil, 0
	case "GET luncopy":
		t, ok := fa.tasks["luncopy/"+arg]
		if !ok {
			return nil, ErrCodeLUNCopyNotExist
		}
		c := *t
		t.RunningStatus = statusLUNCopyComplete
		return &c, 0
	case "DELETE luncopy":
		delete(fa.tasks, "luncopy/"+arg)
		return nil, 0
	case "POST lun_migration":
		src, tgt := fa.luns[str(body["PARENTID"])], fa.luns[str(body["TARGETLUNID"])]
		if src == nil || tgt == nil {
			return nil, ErrCodeLUNNotExist
		}
		fa.tasks["lun_migration/"+src.ID] = &taskInfo{ID: src.ID, ParentID: src.ID, RunningStatus: "75"}
		src.ParentID, src.ParentName = tgt.ParentID, tgt.ParentName
		delete(fa.luns, tgt.ID)
		return nil, 0
	case "GET lun_migration":
		t, ok := fa.tasks["lun_migration/"+arg]
		if !ok {
			return nil, ErrCodeMigrationNotExist
		}
		c := *t
		t.RunningStatus = statusMigrationDone
		return &c, 0
	case "DELETE lun_migration":
		delete(fa.tasks, "lun_migration/"+arg)
		return nil, 0
	case "GET host", "GET hostgroup", "GET lungroup", "GET mappingview":
		kind := strings.TrimPrefix(key, "GET ")
		res := []*namedObject{}
		if id := fa.objID(kind, fa.filterName(filter)); id != "" {
			res = append(res, fa.objs[kind][id])
		}
		return res, 0
	case "POST host", "POST hostgroup", "POST lungroup", "POST mappingview":
		kind := strings.TrimPrefix(key, "POST ")
		if fa.objs[kind] == nil {
			fa.objs[kind] = map[string]*namedObject{}
		}
		o := &namedObject{ID: fa.id(), Name: str(body["NAME"])}
		fa.objs[kind][o.ID] = o
		return o, 0
	case "GET host/associate":
		return fa.assocList("host", get("ASSOCIATEOBJID")), 0
	case "GET mappingview/associate":
		return fa.assocList("mappingview", get("ASSOCIATEOBJID")), 0
	case "POST hostgroup/associate":
		fa.assoc["host/"+str(body["ASSOCIATEOBJID"])+"/"+str(body["ID"])] = true
		return nil, 0
	case "POST lungroup/associate":
		lg, lun := str(body["ID"]), str(body["ASSOCIATEOBJID"])
		fa.assoc["lun/"+lun+"/"+lg] = true
		fa.hostLUN[lg+"/"+lun] = len(fa.assocList("lun", lg))
		fa.luns[lun].IsAdd2LUNGroup = "true"
		return nil, 0
	case "DELETE lungroup/associate":
		lg, lun := get("ID"), get("ASSOCIATEOBJID")
		delete(fa.assoc, "lun/"+lun+"/"+lg)
		delete(fa.hostLUN, lg+"/"+lun)
		fa.luns[lun].IsAdd2LUNGroup = "false"
		return nil, 0
	case "PUT mappingview/create_associate":
		fa.assoc["mappingview/"+str(body["ID"])+"/"+str(body["ASSOCIATEOBJID"])] = true
		return nil, 0
	case "GET iscsi_tgt_port":
		return []*namedObject{
			{ID: "0+iqn.2006-08.com.huawei:oceanstor:2100c0bfc0a8d488::22003:10.0.0.1,t,0x01"},
			{ID: "0+iqn.2006-08.com.huawei:oceanstor:2100c0bfc0a8d488::22004:10.0.0.2,t,0x02"},
			{ID: "garbage"},
		}, 0
	case "GET iscsi_initiator":
		res := []*initiatorInfo{}
		if i, ok := fa.iscsiInits[strings.TrimPrefix(filter, "ID::")]; ok {
			res = append(res, i)
		}
		return res, 0
	case "POST iscsi_initiator":
		fa.iscsiInits[str(body["ID"])] = &initiatorInfo{ID: str(body["ID"])}
		return nil, 0
	case "PUT iscsi_initiator":
		fa.iscsiInits[arg].ParentID = str(body["PARENTID"])
		return nil, 0
	case "GET fc_initiator":
		i, ok := fa.fcInits[arg]
		if !ok {
			return nil, ErrCodeObjectNotExist
		}
		return i, 0
	case "PUT fc_initiator":
		fa.fcInits[arg].ParentID = str(body["PARENTID"])
		return nil, 0
	case "GET host_link":
		res := []*hostLink{}
		for _, t := range fa.links[get("INITIATOR_PORT_WWN")] {
			res = append(res, &hostLink{InitiatorPortWWN: get("INITIATOR_PORT_WWN"), TargetPortWWN: t})
		}
		return res, 0
	}
	fa.t.Errorf("unexpected request %s %s", key, arg)
	return nil, 1
}

func (fa *fakeArray) objID(kind, name string) string {
	for id, o := range fa.objs[kind] {
		if o.Name == name {
			return id
		}
	}
	return ""
}

// assocList returns the objects of kind associated with id; keys are kind/objID/id
func (fa *fakeArray) assocList(kind, id string) []*namedObject {
	res := []*namedObject{}
	for k := range fa.assoc {
		p := strings.Split(k, "/")
		if p[0] == kind && p[2] == id {
			res = append(res, &namedObject{ID: p[1]})
		}
	}
	return res
}

func sortedIDs(m map[string]*lunInfo) []string {
	res := []string{}
	for id := range m {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool {
		a, _ := strconv.Atoi(res[i])
		b, _ := strconv.Atoi(res[j])
		return a < b
	})
	return res
}
