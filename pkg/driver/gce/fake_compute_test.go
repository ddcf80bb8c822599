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


package gce

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
	"google.golang.org/api/compute/v1"
)

// fakeCompute is an in-memory subset of the compute v1 REST interface
type fakeCompute struct {
	mux        sync.Mutex
	srv        *httptest.Server
	zoneStatus string
	disks      map[string]*compute.Disk
	snapshots  map[string]*compute.Snapshot
	instances  map[string]*compute.Instance
	ops        map[string]*fakeOp
	nextOp     int
	calls      map[string]int
	// failures are keyed by "METHOD last-path-element" and return an HTTP error
	failures map[string]*fakeErr
	// opFailures are keyed the same way and fail the operation
	opFailures map[string]string
}

type fakeOp struct {
	op    *compute.Operation
	polls int
}

type fakeErr struct {
	status int
	reason string
}

func newFakeCompute() *fakeCompute {
	fc := &fakeCompute{
		zoneStatus: "UP",
		disks:      map[string]*compute.Disk{},
		snapshots:  map[string]*compute.Snapshot{},
		instances: map[string]*compute.Instance{
			"i-1": {Name: "i-1", Disks: []*compute.AttachedDisk{{DeviceName: "persistent-disk-0", Source: "projects/p1/zones/z1/disks/boot", Boot: true}}},
			"i-2": {Name: "i-2"},
		},
		ops:        map[string]*fakeOp{},
		calls:      map[string]int{},
		failures:   map[string]*fakeErr{},
		opFailures: map[string]string{},
	}
	r := httprouter.New()
	base := "/compute/v1/projects/:project"
	r.GET(base+"/zones/:zone", fc.wrap(fc.getZone))
	r.GET(base+"/zones/:zone/disks", fc.wrap(fc.listDisks))
	r.POST(base+"/zones/:zone/disks", fc.wrap(fc.insertDisk))
	r.GET(base+"/zones/:zone/disks/:disk", fc.wrap(fc.getDisk))
	r.DELETE(base+"/zones/:zone/disks/:disk", fc.wrap(fc.deleteDisk))
	r.POST(base+"/zones/:zone/disks/:disk/resize", fc.wrap(fc.resizeDisk))
	r.POST(base+"/zones/:zone/disks/:disk/createSnapshot", fc.wrap(fc.createSnapshot))
	r.GET(base+"/zones/:zone/instances/:instance", fc.wrap(fc.getInstance))
	r.POST(base+"/zones/:zone/instances/:instance/attachDisk", fc.wrap(fc.attachDisk))
	r.POST(base+"/zones/:zone/instances/:instance/detachDisk", fc.wrap(fc.detachDisk))
	r.GET(base+"/zones/:zone/operations/:op", fc.wrap(fc.getOperation))
	r.GET(base+"/global/operations/:op", fc.wrap(fc.getOperation))
	r.DELETE(base+"/global/snapshots/:snapshot", fc.wrap(fc.deleteSnapshot))
	fc.srv = httptest.NewServer(r)
	return fc
}

func (fc *fakeCompute) endpoint() string {
	return fc.srv.URL + "/compute/v1/projects/"
}

func (fc *fakeCompute) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (fc *fakeCompute) fail(w http.ResponseWriter, status int, reason, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"domain":"global","reason":%q,"message":%q}]}}`, status, msg, reason, msg)
}

func (fc *fakeCompute) wrap(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fc.mux.Lock()
		defer fc.mux.Unlock()
		key := r.Method + " " + path.Base(r.URL.Path)
		fc.calls[key]++
		if fe, ok := fc.failures[key]; ok {
			fc.fail(w, fe.status, fe.reason, "injected failure")
			return
		}
		h(w, r, p)
	}
}

// operation returns a pending operation; a failed operation does not apply its change
func (fc *fakeCompute) operation(w http.ResponseWriter, r *http.Request, p httprouter.Params, global bool, apply func()) {
	fc.nextOp++
	op := &compute.Operation{Name: fmt.Sprintf("op-%d", fc.nextOp), Status: "PENDING"}
	if !global {
		op.Zone = "projects/" + p.ByName("project") + "/zones/" + p.ByName("zone")
	}
	if code, ok := fc.opFailures[r.Method+" "+path.Base(r.URL.Path)]; ok {
		op.Error = &compute.OperationError{Errors: []*compute.OperationErrorErrors{{Code: code, Message: "operation failed"}}}
	} else {
		apply()
	}
	fc.ops[op.Name] = &fakeOp{op: op}
	fc.reply(w, op)
}

func (fc *fakeCompute) getOperation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	fo, ok := fc.ops[p.ByName("op")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "operation not found")
		return
	}
	fo.polls++
	op := *fo.op
	op.Status = "RUNNING"
	if fo.polls > 1 {
		op.Status = "DONE"
	}
	fc.reply(w, &op)
}

func (fc *fakeCompute) getZone(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	fc.reply(w, &compute.Zone{Name: p.ByName("zone"), Status: fc.zoneStatus})
}

func (fc *fakeCompute) listDisks(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	filter := r.URL.Query().Get("filter")
	names := []string{}
	for n, disk := range fc.disks {
		if strings.HasPrefix(filter, "labels.") {
			label := strings.TrimSuffix(strings.TrimPrefix(filter, "labels."), ":*")
			if _, ok := disk.Labels[label]; !ok {
				continue
			}
		}
		names = append(names, n)
	}
	sort.Strings(names)
	// one disk per page to exercise paging
	start := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		fmt.Sscanf(tok, "%d", &start)
	}
	dl := &compute.DiskList{}
	if start < len(names) {
		dl.Items = []*compute.Disk{fc.disks[names[start]]}
		if start+1 < len(names) {
			dl.NextPageToken = fmt.Sprintf("%d", start+1)
		}
	}
	fc.reply(w, dl)
}

func (fc *fakeCompute) insertDisk(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	disk := &compute.Disk{}
	if err := json.NewDecoder(r.Body).Decode(disk); err != nil || disk.Name == "" || disk.SizeGb <= 0 {
		fc.fail(w, http.StatusBadRequest, "invalid", "invalid disk")
		return
	}
	if _, ok := fc.disks[disk.Name]; ok {
		fc.fail(w, http.StatusConflict, "alreadyExists", "disk "+disk.Name+" already exists")
		return
	}
	if disk.SourceSnapshot != "" {
		if _, ok := fc.snapshots[path.Base(disk.SourceSnapshot)]; !ok {
			fc.fail(w, http.StatusNotFound, "notFound", "snapshot not found")
			return
		}
	}
	fc.operation(w, r, p, false, func() {
		disk.Status = "READY"
		fc.disks[disk.Name] = disk
	})
}

func (fc *fakeCompute) getDisk(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	disk, ok := fc.disks[p.ByName("disk")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "disk not found")
		return
	}
	fc.reply(w, disk)
}

func (fc *fakeCompute) deleteDisk(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("disk")
	disk, ok := fc.disks[name]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "disk not found")
		return
	}
	if len(disk.Users) > 0 {
		fc.fail(w, http.StatusBadRequest, "resourceInUseByAnotherResource", "disk is in use")
		return
	}
	fc.operation(w, r, p, false, func() { delete(fc.disks, name) })
}

func (fc *fakeCompute) resizeDisk(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	disk, ok := fc.disks[p.ByName("disk")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "disk not found")
		return
	}
	req := &compute.DisksResizeRequest{}
	json.NewDecoder(r.Body).Decode(req)
	if req.SizeGb <= disk.SizeGb {
		fc.fail(w, http.StatusBadRequest, "invalid", "size must grow")
		return
	}
	fc.operation(w, r, p, false, func() { disk.SizeGb = req.SizeGb })
}

func (fc *fakeCompute) createSnapshot(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	disk, ok := fc.disks[p.ByName("disk")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "disk not found")
		return
	}
	snap := &compute.Snapshot{}
	json.NewDecoder(r.Body).Decode(snap)
	fc.operation(w, r, p, false, func() {
		snap.Status = "READY"
		snap.DiskSizeGb = disk.SizeGb
		snap.SourceDisk = disk.Name
		fc.snapshots[snap.Name] = snap
	})
}

func (fc *fakeCompute) deleteSnapshot(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("snapshot")
	if _, ok := fc.snapshots[name]; !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "snapshot not found")
		return
	}
	fc.operation(w, r, p, true, func() { delete(fc.snapshots, name) })
}

func (fc *fakeCompute) getInstance(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	inst, ok := fc.instances[p.ByName("instance")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "instance not found")
		return
	}
	fc.reply(w, inst)
}

func (fc *fakeCompute) attachDisk(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	inst, ok := fc.instances[p.ByName("instance")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "instance not found")
		return
	}
	ad := &compute.AttachedDisk{}
	json.NewDecoder(r.Body).Decode(ad)
	disk, ok := fc.disks[path.Base(ad.Source)]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "disk not found")
		return
	}
	if len(disk.Users) > 0 {
		fc.fail(w, http.StatusBadRequest, "resourceInUseByAnotherResource", "disk is attached to "+disk.Users[0])
		return
	}
	fc.operation(w, r, p, false, func() {
		inst.Disks = append(inst.Disks, ad)
		disk.Users = append(disk.Users, "projects/"+p.ByName("project")+"/zones/"+p.ByName("zone")+"/instances/"+inst.Name)
	})
}

func (fc *fakeCompute) detachDisk(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	inst, ok := fc.instances[p.ByName("instance")]
	if !ok {
		fc.fail(w, http.StatusNotFound, "notFound", "instance not found")
		return
	}
	device := r.URL.Query().Get("deviceName")
	for i, ad := range inst.Disks {
		if ad.DeviceName != device {
			continue
		}
		fc.operation(w, r, p, false, func() {
			inst.Disks = append(inst.Disks[:i:i], inst.Disks[i+1:]...)
			if disk, ok := fc.disks[path.Base(ad.Source)]; ok {
				disk.Users = nil
			}
		})
		return
	}
	fc.fail(w, http.StatusBadRequest, "invalid", "device "+device+" is not attached")
}
