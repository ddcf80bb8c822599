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
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/julienschmidt/httprouter"
	logging "github.com/op/go-logging"
)

// ServiceActionBody is the body of the os-services enable and disable actions
type ServiceActionBody struct {
	Host           string `json:"host"`
	Binary         string `json:"binary"`
	DisabledReason string `json:"disabled_reason"`
}

// LogLevels are the levels of the loggers of a service
type LogLevels struct {
	Host   string            `json:"host"`
	Binary string            `json:"binary"`
	Levels map[string]string `json:"levels"`
}

type cleanupService struct {
	ID          int64  `json:"id"`
	Host        string `json:"host"`
	Binary      string `json:"binary"`
	ClusterName string `json:"cluster_name"`
}

func cleanupServices(svcs []*store.Service) []*cleanupService {
	res := make([]*cleanupService, 0, len(svcs))
	for _, svc := range svcs {
		res = append(res, &cleanupService{ID: svc.ID, Host: svc.Host, Binary: svc.Binary, ClusterName: svc.ClusterName})
	}
	return res
}

func (s *Server) workersCleanup(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	req := &objects.CleanupRequest{}
	if r.ContentLength != 0 {
		if err := decode(r, req); err != nil {
			return err
		}
	}
	cleaning, unavailable, err := s.Volumes.Cleanup(r.Context(), req)
	if err != nil {
		return err
	}
	return s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"cleaning":    cleanupServices(cleaning),
		"unavailable": cleanupServices(unavailable),
	})
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	q := r.URL.Query()
	svcs, err := s.Store.ServiceList(r.Context(), &store.ServiceFilter{Host: q.Get("host"), Binary: q.Get("binary")})
	if err != nil {
		return err
	}
	now := time.Now()
	res := make([]*ServiceView, 0, len(svcs))
	for _, svc := range svcs {
		res = append(res, serviceView(svc, svc.IsUp(now, s.ServiceDownTime)))
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"services": res})
}

func (s *Server) serviceAction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	switch action := ps.ByName("action"); action {
	case "enable", "disable", "disable-log-reason":
		return s.setServiceDisabled(w, r, action != "enable")
	case "set-log":
		return s.setLog(w, r)
	case "get-log":
		return s.getLog(w, r)
	default:
		return badRequest("unknown action %q", action)
	}
}

func (s *Server) setServiceDisabled(w http.ResponseWriter, r *http.Request, disabled bool) error {
	body := &ServiceActionBody{}
	if err := decode(r, body); err != nil {
		return err
	}
	if body.Host == "" || body.Binary == "" {
		return badRequest("host and binary are required")
	}
	ctx := r.Context()
	svcs, err := s.Store.ServiceList(ctx, &store.ServiceFilter{Host: body.Host, Binary: body.Binary})
	if err != nil {
		return err
	}
	if len(svcs) == 0 {
		return store.ErrNotFound
	}
	reason := ""
	if disabled {
		reason = body.DisabledReason
	}
	for _, svc := range svcs {
		if err = s.Store.ServiceSetDisabled(ctx, svc.ID, disabled, reason); err != nil {
			return err
		}
		s.Log.Infof("Service %d (%s on %s): disabled=%v %s", svc.ID, svc.Binary, svc.Host, disabled, reason)
	}
	status := "enabled"
	if disabled {
		status = "disabled"
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"host":            body.Host,
		"binary":          body.Binary,
		"status":          status,
		"disabled_reason": optString(reason),
	})
}

// servedHere reports whether a log level request selects this service
func (s *Server) servedHere(ll *objects.LogLevel) bool {
	svc := s.Volumes.Service()
	if svc == nil {
		return ll.Host == "" && ll.Binary == ""
	}
	return (ll.Host == "" || ll.Host == svc.Host) && (ll.Binary == "" || ll.Binary == svc.Binary)
}

func (s *Server) setLog(w http.ResponseWriter, r *http.Request) error {
	ll := &objects.LogLevel{}
	if err := decode(r, ll); err != nil {
		return err
	}
	level, err := logging.LogLevel(strings.ToUpper(ll.Level))
	if err != nil {
		return badRequest("level %q: %s", ll.Level, err.Error())
	}
	if s.servedHere(ll) {
		logging.SetLevel(level, ll.Prefix)
		s.Log.Warningf("Log level of %q set to %s", ll.Prefix, level)
	}
	return s.writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) error {
	ll := &objects.LogLevel{}
	if r.ContentLength != 0 {
		if err := decode(r, ll); err != nil {
			return err
		}
	}
	res := []*LogLevels{}
	if s.servedHere(ll) {
		ls := &LogLevels{Levels: map[string]string{ll.Prefix: logging.GetLevel(ll.Prefix).String()}}
		if svc := s.Volumes.Service(); svc != nil {
			ls.Host, ls.Binary = svc.Host, svc.Binary
		}
		res = append(res, ls)
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"log_levels": res})
}

func (s *Server) getPools(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	detail, err := queryBool(r, "detail")
	if err != nil {
		return err
	}
	pools := s.Volumes.Pools()
	if detail {
		return s.writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
	}
	names := make([]map[string]string, 0, len(pools))
	for _, pi := range pools {
		names = append(names, map[string]string{"name": pi.Host})
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"pools": names})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": s.Tasks.ListTasks(r.URL.Query().Get("operation"))})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	v, err := s.Tasks.GetTask(ps.ByName("id"))
	if err != nil {
		return err
	}
	return s.writeJSON(w, http.StatusOK, map[string]interface{}{"task": v})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if err := s.Tasks.CancelTask(ps.ByName("id")); err != nil {
		return err
	}
	return s.writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) createWatcher(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if s.Watchers == nil {
		return badRequest("notifications are not enabled")
	}
	args := &notify.WatcherArgs{}
	if r.ContentLength != 0 {
		if err := decode(r, args); err != nil {
			return err
		}
	}
	id, err := s.Watchers.CreateWebSocketWatcher(args)
	if err != nil {
		return badRequest("%s", err.Error())
	}
	return s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// serveWatcher upgrades the connection; errors after the upgrade are only logged
func (s *Server) serveWatcher(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error {
	if s.Watchers == nil {
		return badRequest("notifications are not enabled")
	}
	id := ps.ByName("id")
	if err := s.Watchers.ServeWebSocket(w, r, id); err != nil {
		if errors.Is(err, notify.ErrWatcherNotFound) {
			return err
		}
		s.Log.Warningf("Watcher %s: %s", id, err.Error())
	}
	return nil
}
