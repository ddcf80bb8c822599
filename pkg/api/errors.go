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

	"github.com/Nuvoloso/volumed/pkg/cleanable"
	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/volume"
)

// Fault is the error body: a single key naming the fault kind
type Fault map[string]*FaultDetail

// FaultDetail describes a failed request
type FaultDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var faultNames = map[int]string{
	http.StatusBadRequest:            "badRequest",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusNotFound:              "itemNotFound",
	http.StatusConflict:              "conflictingRequest",
	http.StatusRequestEntityTooLarge: "overLimit",
	http.StatusNotImplemented:        "notImplemented",
	http.StatusServiceUnavailable:    "serviceUnavailable",
	http.StatusGatewayTimeout:        "gatewayTimeout",
}

// StatusOf maps an error to its HTTP status code
func StatusOf(err error) int {
	var de *driver.Error
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, volume.ErrInvalidArgument),
		errors.Is(err, volume.ErrInvalidStatus), errors.Is(err, tasks.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case store.IsNotFound(err), errors.Is(err, tasks.ErrNotFound), errors.Is(err, notify.ErrWatcherNotFound):
		return http.StatusNotFound
	case store.IsConflict(err), errors.Is(err, cleanable.ErrInUse):
		return http.StatusConflict
	case errors.Is(err, volume.ErrNoValidBackend), errors.Is(err, volume.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.As(err, &de):
		switch de.Code {
		case driver.CodeNotFound:
			return http.StatusNotFound
		case driver.CodeInvalidInput:
			return http.StatusBadRequest
		case driver.CodeNotSupported:
			return http.StatusNotImplemented
		case driver.CodeBusy:
			return http.StatusConflict
		case driver.CodeCapacity:
			return http.StatusRequestEntityTooLarge
		case driver.CodeTimeout:
			return http.StatusGatewayTimeout
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusOf(err)
	name, ok := faultNames[code]
	if !ok {
		name = "computeFault"
	}
	if code >= http.StatusInternalServerError {
		s.Log.Errorf("%s %s: %s", r.Method, r.URL.Path, err.Error())
	} else {
		s.Log.Debugf("%s %s: %d %s", r.Method, r.URL.Path, code, err.Error())
	}
	s.writeJSON(w, code, Fault{name: &FaultDetail{Code: code, Message: err.Error()}})
}
