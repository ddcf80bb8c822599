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
	"strconv"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/julienschmidt/httprouter"
)

// VolumeCreateBody is the body of a volume create request
type VolumeCreateBody struct {
	Volume struct {
		Name             string            `json:"name"`
		Description      string            `json:"description"`
		Size             int64             `json:"size"`
		VolumeType       string            `json:"volume_type"`
		AvailabilityZone string            `json:"availability_zone"`
		SnapshotID       string            `json:"snapshot_id"`
		SourceVolID      string            `json:"source_volid"`
		Metadata         map[string]string `json:"metadata"`
		Host             string            `json:"host"`
	} `json:"volume"`
}

// VolumeManageBody is the body of a manage request
type VolumeManageBody struct {
	Volume struct {
		Host             string            `json:"host"`
		Ref              map[string]string `json:"ref"`
		Name             string            `json:"name"`
		Description      string            `json:"description"`
		VolumeType       string            `json:"volume_type"`
		AvailabilityZone string            `json:"availability_zone"`
		Metadata         map[string]string `json:"metadata"`
	} `json:"volume"`
}

// Volume action bodies
type (
	ExtendAction struct {
		NewSize int64 `json:"new_size"`
	}
	ConnectionAction struct {
		Connector *driver.Connector `json:"connector"`
		Force     bool              `json:"force"`
	}
	MigrateAction struct {
		Host          string `json:"host"`
		ForceHostCopy bool   `json:"force_host_copy"`
	}
	ResetStatusAction struct {
		Status          string `json:"status"`
		AttachStatus    string `json:"attach_status"`
		MigrationStatus string `json:"migration_status"`
	}
)

// queryBool parses a boolean query parameter; a missing value is false
func queryBool(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "on", "1":
		return true, nil
	case "false", "f", "no", "n", "off", "0":
		return false, nil
	}
	return false, badRequest("%s: invalid boolean value %q", name, s)
}

func (s *Server) acceptTask(w http.ResponseWriter, taskID string, body interface{}) error {
	if taskID != "" {
		w.Header().Set(TaskIDHeader, taskID)
	}
	return s.writeJSON(w, http.StatusAccepted, body)
}

func (s *Server) listVolumes(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	caps, err := versionCaps(r)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	f := &store.VolumeFilter{Host: q.Get("host"), Name: q.Get("name"), ClusterName: q.Get("cluster_name")}
	if st := q.Get("status"); st != "" {
		f.Status = util.SplitList(st)
	}
	if l := q.Get("limit"); l != "" {
		if f.Limit, err = strconv.Atoi(l); err != nil || f.Limit < 0 {
			return badRequest("invalid limit %q", l)
		}
	}
	vols, err := s.Store.VolumeList(r.Context(), f)
	if err != nil {
		return err
	}
	res := make([]interface{}, 0, len(vols))
	for _, v := range vols {
		o, err := render(v, caps, volumeView(v, nil))
		if err != nil {
			return err
		}
		res = append(res, o)
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"volumes": res})
}

func (s *Server) getVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	caps, err := versionCaps(r)
	if err != nil {
		return err
	}
	v, err := s.Store.VolumeGet(r.Context(), ps.ByName("id"))
	if err != nil {
		return err
	}
	ats, err := s.Volumes.Attachments(r.Context(), v.ID)
	if err != nil {
		return err
	}
	o, err := render(v, caps, volumeView(v, ats))
	if err != nil {
		return err
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"volume": o})
}

func (s *Server) createVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	body := &VolumeCreateBody{}
	if err := decode(r, body); err != nil {
		return err
	}
	b := body.Volume
	v, taskID, err := s.Volumes.CreateVolume(r.Context(), &volume.CreateArgs{
		Name:             b.Name,
		Description:      b.Description,
		SizeGiB:          b.Size,
		VolumeType:       b.VolumeType,
		AvailabilityZone: b.AvailabilityZone,
		SnapshotID:       b.SnapshotID,
		SourceVolID:      b.SourceVolID,
		Metadata:         b.Metadata,
		Host:             b.Host,
	})
	if err != nil {
		return err
	}
	s.Log.Infof("Create volume %s (%d GiB): task %s", v.ID, v.Size, taskID)
	return s.acceptTask(w, taskID, map[string]interface{}{"volume": volumeView(v, nil)})
}

func (s *Server) deleteVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	force, err := queryBool(r, "force")
	if err != nil {
		return err
	}
	taskID, err := s.Volumes.DeleteVolume(r.Context(), ps.ByName("id"), force)
	if err != nil {
		return err
	}
	return s.acceptTask(w, taskID, nil)
}

// volumeAction dispatches the single action named by the key of the body
func (s *Server) volumeAction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	body := map[string]json.RawMessage{}
	if err := decode(r, &body); err != nil {
		return err
	}
	if len(body) != 1 {
		return badRequest("exactly one action is required")
	}
	ctx, id := r.Context(), ps.ByName("id")
	for action, raw := range body {
		unmarshal := func(v interface{}) error {
			if len(raw) == 0 || string(raw) == "null" {
				return nil
			}
			if err := json.Unmarshal(raw, v); err != nil {
				return badRequest("%s: %s", action, err.Error())
			}
			return nil
		}
		switch action {
		case "os-extend":
			a := &ExtendAction{}
			if err := unmarshal(a); err != nil {
				return err
			}
			taskID, err := s.Volumes.ExtendVolume(ctx, id, a.NewSize)
			if err != nil {
				return err
			}
			return s.acceptTask(w, taskID, nil)
		case "os-initialize_connection":
			a := &ConnectionAction{}
			if err := unmarshal(a); err != nil {
				return err
			}
			ci, err := s.Volumes.InitializeConnection(ctx, id, a.Connector)
			if err != nil {
				return err
			}
			return s.writeJSON(w, http.StatusOK, map[string]interface{}{"connection_info": ci})
		case "os-terminate_connection", "os-force_detach":
			a := &ConnectionAction{}
			if err := unmarshal(a); err != nil {
				return err
			}
			if err := s.Volumes.TerminateConnection(ctx, id, a.Connector, a.Force || action == "os-force_detach"); err != nil {
				return err
			}
			return s.acceptTask(w, "", nil)
		case "os-migrate_volume":
			a := &MigrateAction{}
			if err := unmarshal(a); err != nil {
				return err
			}
			taskID, err := s.Volumes.MigrateVolume(ctx, id, a.Host, a.ForceHostCopy)
			if err != nil {
				return err
			}
			return s.acceptTask(w, taskID, nil)
		case "os-reset_status":
			a := &ResetStatusAction{}
			if err := unmarshal(a); err != nil {
				return err
			}
			if _, err := s.Volumes.ResetStatus(ctx, id, a.Status, a.AttachStatus, a.MigrationStatus); err != nil {
				return err
			}
			return s.acceptTask(w, "", nil)
		case "os-unmanage":
			taskID, err := s.Volumes.UnmanageVolume(ctx, id)
			if err != nil {
				return err
			}
			return s.acceptTask(w, taskID, nil)
		case "os-force_delete":
			taskID, err := s.Volumes.DeleteVolume(ctx, id, true)
			if err != nil {
				return err
			}
			return s.acceptTask(w, taskID, nil)
		}
		return badRequest("unsupported action %q", action)
	}
	return nil
}

func (s *Server) listAttachments(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	id := ps.ByName("id")
	if _, err := s.Store.VolumeGet(r.Context(), id); err != nil {
		return err
	}
	ats, err := s.Volumes.Attachments(r.Context(), id)
	if err != nil {
		return err
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"attachments": ats})
}

func (s *Server) manageVolume(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	body := &VolumeManageBody{}
	if err := decode(r, body); err != nil {
		return err
	}
	b := body.Volume
	v, taskID, err := s.Volumes.ManageExisting(r.Context(), &volume.ManageArgs{
		Host:             b.Host,
		Ref:              b.Ref,
		Name:             b.Name,
		Description:      b.Description,
		VolumeType:       b.VolumeType,
		AvailabilityZone: b.AvailabilityZone,
		Metadata:         b.Metadata,
	})
	if err != nil {
		return err
	}
	return s.acceptTask(w, taskID, map[string]interface{}{"volume": volumeView(v, nil)})
}

func (s *Server) listManageable(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	host := r.URL.Query().Get("host")
	if host == "" {
		return badRequest("host is required")
	}
	mvs, err := s.Volumes.GetManageableVolumes(r.Context(), host)
	if err != nil {
		return err
	}
	if mvs == nil {
		mvs = []*objects.ManageableVolume{}
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"manageable-volumes": mvs})
}
