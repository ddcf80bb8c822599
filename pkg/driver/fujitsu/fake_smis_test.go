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


package fujitsu

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
)

const (
	fakeSystem = "ET103ACU"
	gib        = uint64(1 << 30)
)

type fakeVolume struct {
	id     string
	name   string
	size   uint64
	pool   string
	source string
}

type fakePool struct {
	class string
	id    string
	name  string
	total uint64
	used  uint64
}

type fakeUnit struct {
	ctl string
	vol string
	lun int
}

// fakeSMIS is an in-memory ETERNUS SMI-S provider
type fakeSMIS struct {
	mux       sync.Mutex
	srv       *httptest.Server
	pools     []*fakePool
	vols      map[string]*fakeVolume
	ctls      map[string][]string
	units     []*fakeUnit
	jobs      map[string]int
	nextVol   int
	nextJob   int
	noRepl    bool
	jobErr    uint32
	retcodes  map[string]uint32
	cimErrors map[string]int
	calls     map[string]int
}

func newFakeSMIS() *fakeSMIS {
	fs := &fakeSMIS{
		pools: []*fakePool{
			{class: ClassRAIDPool, id: "RSP0", name: "RG0", total: 100 * gib, used: 40 * gib},
			{class: ClassThinPool, id: "TPP0", name: "TPP0", total: 200 * gib, used: 50 * gib},
		},
		vols:      map[string]*fakeVolume{},
		ctls:      map[string][]string{},
		jobs:      map[string]int{},
		retcodes:  map[string]uint32{},
		cimErrors: map[string]int{},
		calls:     map[string]int{},
	}
	fs.srv = httptest.NewServer(fs)
	return fs
}

func svcName(class string) *InstanceName {
	return NewInstanceName(class, map[string]string{"CreationClassName": class, "Name": "FUJITSU:" + fakeSystem, "SystemName": fakeSystem})
}

func volName(id string) *InstanceName {
	return NewInstanceName(ClassStorageVolume, map[string]string{"CreationClassName": ClassStorageVolume, "DeviceID": id, "SystemName": fakeSystem})
}

func (fp *fakePool) path() *InstanceName {
	return NewInstanceName(fp.class, map[string]string{"InstanceID": "ETERNUS_DX:" + fp.id})
}

func newInstance(class string, props map[string]string) *Instance {
	inst := &Instance{ClassName: class}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := props[k]
		inst.Properties = append(inst.Properties, Property{Name: k, Type: "string", Value: &v})
	}
	return inst
}

func (fs *fakeSMIS) reply(w http.ResponseWriter, rsp *SimpleRsp) {
	doc := &CIM{CIMVersion: "2.0", DTDVersion: "2.0", Message: Message{ID: "1", ProtocolVersion: "1.0", Rsp: rsp}}
	b, _ := xml.Marshal(doc)
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	w.Write(b)
}

func (fs *fakeSMIS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mux.Lock()
	defer fs.mux.Unlock()
	if u, p, ok := r.BasicAuth(); !ok || u != "root" || p != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Path != CIMPath || r.Header.Get("CIMOperation") != "MethodCall" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req := &CIM{}
	if err := xml.NewDecoder(r.Body).Decode(req); err != nil || req.Message.Req == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	method := r.Header.Get("CIMMethod")
	fs.calls[method]++
	if code, ok := fs.cimErrors[method]; ok {
		e := &Error{Code: code, Description: "injected"}
		if req.Message.Req.IMethodCall != nil {
			fs.reply(w, &SimpleRsp{IMethodResponse: &IMethodResponse{Name: method, Error: e}})
		} else {
			fs.reply(w, &SimpleRsp{MethodResponse: &MethodResponse{Name: method, Error: e}})
		}
		return
	}
	if mc := req.Message.Req.IMethodCall; mc != nil {
		fs.reply(w, &SimpleRsp{IMethodResponse: fs.intrinsic(mc)})
		return
	}
	mc := req.Message.Req.MethodCall
	params := map[string]ParamValue{}
	for _, p := range mc.Params {
		params[p.Name] = p
	}
	mr := &MethodResponse{Name: mc.Name}
	rc, ok := fs.retcodes[mc.Name]
	var out map[string]*InstanceName
	if !ok {
		rc, out = fs.extrinsic(mc.Name, params)
	}
	mr.Return = &ReturnValue{Type: "uint32", Value: strconv.FormatUint(uint64(rc), 10)}
	for k, v := range out {
		mr.Params = append(mr.Params, ParamValue{Name: k, Type: "reference", Ref: &ValueReference{InstanceName: v}})
	}
	fs.reply(w, &SimpleRsp{MethodResponse: mr})
}

func (fs *fakeSMIS) intrinsic(mc *IMethodCall) *IMethodResponse {
	ir := &IMethodResponse{Name: mc.Name, Return: &IReturnValue{}}
	var class string
	var name *InstanceName
	for _, p := range mc.Params {
		if p.ClassName != nil {
			class = p.ClassName.Name
		}
		if p.InstanceName != nil {
			name = p.InstanceName
		}
	}
	switch mc.Name {
	case "EnumerateInstanceNames":
		switch class {
		case ClassStorageConfigService, ClassControllerConfigService:
			ir.Return.InstanceNames = []*InstanceName{svcName(class)}
		case ClassReplicationService:
			if !fs.noRepl {
				ir.Return.InstanceNames = []*InstanceName{svcName(class)}
			}
		default:
			ir.Error = &Error{Code: CIMErrInvalidClass}
		}
	case "EnumerateInstances":
		ir.Return.NamedInstances = fs.enumerate(class)
	case "GetInstance":
		jobID := name.Key("InstanceID")
		st, ok := fs.jobs[jobID]
		if name.ClassName != "FUJITSU_StorageConfigurationJob" || !ok {
			ir.Error = &Error{Code: CIMErrNotFound}
			break
		}
		props := map[string]string{"InstanceID": jobID, "JobState": strconv.Itoa(st)}
		if st == 10 {
			props["ErrorCode"] = strconv.FormatUint(uint64(fs.jobErr), 10)
			props["ErrorDescription"] = "copy failed"
		}
		ir.Return.Instances = []*Instance{newInstance(name.ClassName, props)}
		if st < jobStateCompleted {
			fs.jobs[jobID] = jobStateCompleted
		}
	default:
		ir.Error = &Error{Code: CIMErrNotSupported}
	}
	return ir
}

func (fs *fakeSMIS) enumerate(class string) []NamedInstance {
	var res []NamedInstance
	add := func(n *InstanceName, i *Instance) {
		res = append(res, NamedInstance{Name: n, Instance: i})
	}
	switch class {
	case ClassRAIDPool, ClassThinPool:
		for _, p := range fs.pools {
			if p.class == class {
				add(p.path(), newInstance(class, map[string]string{
					"ElementName":           p.name,
					"TotalManagedSpace":     strconv.FormatUint(p.total, 10),
					"RemainingManagedSpace": strconv.FormatUint(p.total-p.used, 10),
				}))
			}
		}
	case ClassStorageVolume:
		for _, id := range sortedKeys(fs.vols) {
			v := fs.vols[id]
			add(volName(id), newInstance(class, map[string]string{"ElementName": v.name, "DeviceID": id}))
		}
	case ClassAffinityGroupController:
		ids := make([]string, 0, len(fs.ctls))
		for id := range fs.ctls {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			n := NewInstanceName(class, map[string]string{"DeviceID": id, "SystemName": fakeSystem})
			i := newInstance(class, map[string]string{"DeviceID": id})
			i.Arrays = []PropertyArray{{Name: "InitiatorPortIDs", Type: "string", Values: &ValueArray{Values: fs.ctls[id]}}}
			add(n, i)
		}
	case ClassProtocolControllerUnit:
		for _, u := range fs.units {
			ctl := NewInstanceName(ClassAffinityGroupController, map[string]string{"DeviceID": u.ctl, "SystemName": fakeSystem})
			i := newInstance(class, map[string]string{"DeviceNumber": fmt.Sprintf("%04x", u.lun)})
			i.Refs = []PropertyRef{
				{Name: "Antecedent", Ref: &ValueReference{InstanceName: ctl}},
				{Name: "Dependent", Ref: &ValueReference{InstanceName: volName(u.vol)}},
			}
			add(&InstanceName{ClassName: class}, i)
		}
	case ClassISCSIEndpoint:
		add(NewInstanceName(class, map[string]string{"Name": "cm0"}), newInstance(class, map[string]string{
			"Name": "iqn.2000-09.com.fujitsu:storage-system.eternus-dx400:00c0c1p0", "IPv4Address": "10.1.0.1", "PortNumber": "3260",
		}))
		add(NewInstanceName(class, map[string]string{"Name": "cm1"}), newInstance(class, map[string]string{
			"Name": "iqn.2000-09.com.fujitsu:storage-system.eternus-dx400:00c1c1p0", "IPv4Address": "10.1.0.2",
		}))
	case ClassSCSIEndpoint:
		for i, wwn := range []string{"500000E0DA0C4520", "500000E0DA0C4521", "500000E0DA0C4530"} {
			ct := ConnectionTypeFC
			if i == 2 {
				ct = "3"
			}
			add(NewInstanceName(class, map[string]string{"Name": wwn}), newInstance(class, map[string]string{"Name": wwn, "ConnectionType": ct}))
		}
	}
	return res
}

func sortedKeys(m map[string]*fakeVolume) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (fs *fakeSMIS) pool(n *InstanceName) *fakePool {
	for _, p := range fs.pools {
		if n != nil && p.path().Key("InstanceID") == n.Key("InstanceID") {
			return p
		}
	}
	return nil
}

func (fs *fakeSMIS) poolNamed(name string) *fakePool {
	for _, p := range fs.pools {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (fs *fakeSMIS) newVolume(name string, size uint64, p *fakePool, source string) *fakeVolume {
	fs.nextVol++
	v := &fakeVolume{id: fmt.Sprintf("0x%04x", fs.nextVol), name: name, size: size, pool: p.name, source: source}
	fs.vols[v.id] = v
	p.used += size
	return v
}

func (fs *fakeSMIS) job() *InstanceName {
	fs.nextJob++
	id := fmt.Sprintf("job-%d", fs.nextJob)
	fs.jobs[id] = 4
	if fs.jobErr != 0 {
		fs.jobs[id] = 10
	}
	return NewInstanceName("FUJITSU_StorageConfigurationJob", map[string]string{"InstanceID": id})
}

func val(p ParamValue) string {
	if p.Value == nil {
		return ""
	}
	return *p.Value
}

func (fs *fakeSMIS) extrinsic(method string, params map[string]ParamValue) (uint32, map[string]*InstanceName) {
	switch method {
	case "CreateOrModifyElementFromStoragePool":
		size, _ := strconv.ParseUint(val(params["Size"]), 10, 64)
		if te, ok := params["TheElement"]; ok {
			v, ok := fs.vols[te.Ref.Name().Key("DeviceID")]
			if !ok {
				return RCVolumeNotFound, nil
			}
			if size <= v.size {
				return RCSizeNotSupported, nil
			}
			fs.poolNamed(v.pool).used += size - v.size
			v.size = size
			return RCSuccess, nil
		}
		p := fs.pool(params["InPool"].Ref.Name())
		if p == nil {
			return RCPoolNotFound, nil
		}
		et := val(params["ElementType"])
		if (p.class == ClassThinPool) != (et == strconv.Itoa(ElementTypeThin)) {
			return RCInvalidParameter, nil
		}
		if p.class == ClassRAIDPool && size > p.total-p.used {
			return RCNoSpace, nil
		}
		v := fs.newVolume(val(params["ElementName"]), size, p, "")
		return RCSuccess, map[string]*InstanceName{"TheElement": volName(v.id)}
	case "ReturnToStoragePool":
		id := params["TheElement"].Ref.Name().Key("DeviceID")
		v, ok := fs.vols[id]
		if !ok {
			return RCVolumeNotFound, nil
		}
		for _, u := range fs.units {
			if u.vol == id {
				return RCVolumeInUse, nil
			}
		}
		for _, o := range fs.vols {
			if o.source == id {
				return RCVolumeIsCopySource, nil
			}
		}
		fs.poolNamed(v.pool).used -= v.size
		delete(fs.vols, id)
		return RCSuccess, nil
	case "CreateElementReplica":
		src, ok := fs.vols[params["SourceElement"].Ref.Name().Key("DeviceID")]
		if !ok {
			return RCVolumeNotFound, nil
		}
		switch val(params["SyncType"]) {
		case strconv.Itoa(SyncTypeSnapshot):
			p := fs.pool(params["TargetPool"].Ref.Name())
			if p == nil {
				return RCPoolNotFound, nil
			}
			v := fs.newVolume(val(params["ElementName"]), src.size, p, src.id)
			return RCSuccess, map[string]*InstanceName{"TargetElement": volName(v.id)}
		case strconv.Itoa(SyncTypeClone):
			if _, ok := fs.vols[params["TargetElement"].Ref.Name().Key("DeviceID")]; !ok {
				return RCVolumeNotFound, nil
			}
			return RCJobStarted, map[string]*InstanceName{"Job": fs.job()}
		}
		return RCInvalidParameter, nil
	case "ExposePaths", "HidePaths":
		vol := params["LUNames"].Array.Values[0]
		if _, ok := fs.vols[vol]; !ok {
			return RCVolumeNotFound, nil
		}
		inits := params["InitiatorPortIDs"].Array.Values
		ctl := ""
		for id, ii := range fs.ctls {
			for _, i := range ii {
				if i == inits[0] {
					ctl = id
				}
			}
		}
		if method == "HidePaths" {
			for i, u := range fs.units {
				if u.ctl == ctl && u.vol == vol {
					fs.units = append(fs.units[:i], fs.units[i+1:]...)
					return RCSuccess, nil
				}
			}
			return RCNotExposed, nil
		}
		if ctl == "" {
			ctl = fmt.Sprintf("AG%d", len(fs.ctls))
			fs.ctls[ctl] = inits
		}
		lun := 0
		for _, u := range fs.units {
			if u.ctl == ctl {
				if u.vol == vol {
					return RCAlreadyExposed, nil
				}
				if u.lun >= lun {
					lun = u.lun + 1
				}
			}
		}
		fs.units = append(fs.units, &fakeUnit{ctl: ctl, vol: vol, lun: lun})
		return RCSuccess, nil
	}
	return RCNotSupported, nil
}
