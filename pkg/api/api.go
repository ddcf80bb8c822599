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


// Package api serves the REST API of the volume service. Resources follow the shape of
// the block storage v3 API: volumes and snapshots with their actions, manageable volumes,
// services, scheduler pool statistics, tasks and notification watchers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/julienschmidt/httprouter"
	logging "github.com/op/go-logging"
)

// Header names
const (
	AuthTokenHeader      = "X-Auth-Token"
	ObjectVersionsHeader = "OpenStack-Object-Versions"
	TaskIDHeader         = "X-Task-Id"
)

// VolumeManager is the part of the volume manager used by the API
type VolumeManager interface {
	CreateVolume(ctx context.Context, ca *volume.CreateArgs) (*objects.Volume, string, error)
	DeleteVolume(ctx context.Context, id string, force bool) (string, error)
	ExtendVolume(ctx context.Context, id string, newSizeGiB int64) (string, error)
	ResetStatus(ctx context.Context, id, status, attachStatus, migrationStatus string) (*objects.Volume, error)
	InitializeConnection(ctx context.Context, id string, conn *driver.Connector) (*driver.ConnectionInfo, error)
	TerminateConnection(ctx context.Context, id string, conn *driver.Connector, force bool) error
	Attachments(ctx context.Context, id string) ([]*volume.Attachment, error)
	MigrateVolume(ctx context.Context, id, destHost string, forceHostCopy bool) (string, error)
	ManageExisting(ctx context.Context, ma *volume.ManageArgs) (*objects.Volume, string, error)
	UnmanageVolume(ctx context.Context, id string) (string, error)
	GetManageableVolumes(ctx context.Context, backendHost string) ([]*objects.ManageableVolume, error)
	CreateSnapshot(ctx context.Context, sa *volume.SnapshotArgs) (*objects.Snapshot, string, error)
	DeleteSnapshot(ctx context.Context, id string) (string, error)
	ResetSnapshotStatus(ctx context.Context, id, status string) (*objects.Snapshot, error)
	Cleanup(ctx context.Context, req *objects.CleanupRequest) (cleaning, unavailable []*store.Service, err error)
	Pools() []*volume.PoolInfo
	Service() *store.Service
}

var _ = VolumeManager(&volume.Manager{})

// WatcherOps creates and serves notification websocket watchers
type WatcherOps interface {
	CreateWebSocketWatcher(args *notify.WatcherArgs) (string, error)
	ServeWebSocket(rw http.ResponseWriter, r *http.Request, id string) error
	TerminateWatcher(id string)
}

var _ = WatcherOps(&notify.Manager{})

// Args contains the arguments to create a Server
type Args struct {
	Volumes         VolumeManager
	Store           store.Store
	Watchers        WatcherOps
	Tasks           tasks.TaskScheduler
	Tokens          *TokenIssuer // nil disables authentication
	ServiceDownTime time.Duration
	Log             *logging.Logger
}

// Server is the API request handler
type Server struct {
	Args
	router *httprouter.Router
}

// New returns a Server
func New(args *Args) (*Server, error) {
	if args == nil || args.Volumes == nil || args.Store == nil || args.Tasks == nil || args.Log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	s := &Server{Args: *args}
	if s.ServiceDownTime <= 0 {
		s.ServiceDownTime = 60 * time.Second
	}
	s.register()
	return s, nil
}

type handle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) error

func (s *Server) register() {
	router := httprouter.New()
	router.POST("/v3/auth/tokens", s.wrap(s.issueToken, false))

	router.GET("/v3/volumes", s.wrap(s.listVolumes, true))
	router.POST("/v3/volumes", s.wrap(s.createVolume, true))
	router.GET("/v3/volumes/:id", s.wrap(s.getVolume, true))
	router.DELETE("/v3/volumes/:id", s.wrap(s.deleteVolume, true))
	router.POST("/v3/volumes/:id/action", s.wrap(s.volumeAction, true))
	router.GET("/v3/volumes/:id/attachments", s.wrap(s.listAttachments, true))

	router.POST("/v3/os-volume-manage", s.wrap(s.manageVolume, true))
	router.GET("/v3/manageable_volumes", s.wrap(s.listManageable, true))

	router.GET("/v3/snapshots", s.wrap(s.listSnapshots, true))
	router.POST("/v3/snapshots", s.wrap(s.createSnapshot, true))
	router.GET("/v3/snapshots/:id", s.wrap(s.getSnapshot, true))
	router.DELETE("/v3/snapshots/:id", s.wrap(s.deleteSnapshot, true))
	router.POST("/v3/snapshots/:id/action", s.wrap(s.snapshotAction, true))

	router.POST("/v3/workers/cleanup", s.wrap(s.workersCleanup, true))
	router.GET("/v3/os-services", s.wrap(s.listServices, true))
	router.PUT("/v3/os-services/:action", s.wrap(s.serviceAction, true))
	router.GET("/v3/scheduler-stats/get_pools", s.wrap(s.getPools, true))

	router.GET("/v3/tasks", s.wrap(s.listTasks, true))
	router.GET("/v3/tasks/:id", s.wrap(s.getTask, true))
	router.DELETE("/v3/tasks/:id", s.wrap(s.cancelTask, true))

	router.POST("/v3/notifications/watchers", s.wrap(s.createWatcher, true))
	router.GET("/v3/notifications/watchers/:id", s.wrap(s.serveWatcher, true))
	s.router = router
}

// Handler returns the http.Handler of the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// wrap converts a handle into an httprouter.Handle, authenticating the request if required
// and writing returned errors as faults
func (s *Server) wrap(h handle, authenticate bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if authenticate && s.Tokens != nil {
			if _, err := s.Tokens.Validate(r.Header.Get(AuthTokenHeader)); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		if err := h(w, r, ps); err != nil {
			s.writeError(w, r, err)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body == nil {
		return nil
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Log.Warningf("Encode response: %s", err.Error())
	}
	return nil
}

// decode reads a JSON request body
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return badRequest("missing request body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("malformed request body: %s", err.Error())
	}
	return nil
}

// versionCaps returns the object version caps requested by the client, or nil
func versionCaps(r *http.Request) (objects.VersionCaps, error) {
	h := r.Header.Get(ObjectVersionsHeader)
	if h == "" {
		return nil, nil
	}
	caps, err := objects.ParseVersionCaps(h)
	if err != nil {
		return nil, badRequest("%s: %s", ObjectVersionsHeader, err.Error())
	}
	return caps, nil
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errBadRequest)
}
