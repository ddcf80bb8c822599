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


package api

import (
	"encoding/json"
	"net/http"

	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/julienschmidt/httprouter"
)

// SnapshotCreateBody is the body of a snapshot create request
type SnapshotCreateBody struct {
	Snapshot struct {
		VolumeID    string            `json:"volume_id"`
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Force       bool              `json:"force"`
		Metadata    map[string]string `json:"metadata"`
	} `json:"snapshot"`
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	caps, err := versionCaps(r)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	f := &store.SnapshotFilter{VolumeID: q.Get("volume_id"), Host: q.Get("host")}
	if st := q.Get("status"); st != "" {
		f.Status = util.SplitList(st)
	}
	snaps, err := s.Store.SnapshotList(r.Context(), f)
	if err != nil {
		return err
	}
	res := make([]interface{}, 0, len(snaps))
	for _, sn := range snaps {
		o, err := render(sn, caps, snapshotView(sn))
		if err != nil {
			return err
		}
		res = append(res, o)
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": res})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	caps, err := versionCaps(r)
	if err != nil {
		return err
	}
	sn, err := s.Store.SnapshotGet(r.Context(), ps.ByName("id"))
	if err != nil {
		return err
	}
	o, err := render(sn, caps, snapshotView(sn))
	if err != nil {
		return err
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": o})
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	body := &SnapshotCreateBody{}
	if err := decode(r, body); err != nil {
		return err
	}
	b := body.Snapshot
	sn, taskID, err := s.Volumes.CreateSnapshot(r.Context(), &volume.SnapshotArgs{
		VolumeID:    b.VolumeID,
		Name:        b.Name,
		Description: b.Description,
		Metadata:    b.Metadata,
		Force:       b.Force,
	})
	if err != nil {
		return err
	}
	return s.acceptTask(w, taskID, map[string]interface{}{"snapshot": snapshotView(sn)})
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	taskID, err := s.Volumes.DeleteSnapshot(r.Context(), ps.ByName("id"))
	if err != nil {
		return err
	}
	return s.acceptTask(w, taskID, nil)
}

func (s *Server) snapshotAction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	body := map[string]json.RawMessage{}
	if err := decode(r, &body); err != nil {
		return err
	}
	raw, ok := body["os-reset_status"]
	if !ok || len(body) != 1 {
		return badRequest("only os-reset_status is supported")
	}
	a := &ResetStatusAction{}
	if err := json.Unmarshal(raw, a); err != nil {
		return badRequest("os-reset_status: %s", err.Error())
	}
	if _, err := s.Volumes.ResetSnapshotStatus(r.Context(), ps.ByName("id"), a.Status); err != nil {
		return err
	}
	return s.acceptTask(w, "", nil)
}
