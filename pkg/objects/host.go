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


package objects

import (
	"strings"
)

// MakeHost composes "host@backend#pool"
func MakeHost(host, backend, pool string) string {
	s := host
	if backend != "" {
		s += "@" + backend
	}
	if pool != "" {
		s += "#" + pool
	}
	return s
}

// HostBackend extracts the backend from "host@backend#pool"
func HostBackend(h string) string {
	i := strings.Index(h, "@")
	if i < 0 {
		return ""
	}
	b := h[i+1:]
	if j := strings.Index(b, "#"); j >= 0 {
		b = b[:j]
	}
	return b
}

// HostPool extracts the pool from "host@backend#pool"
func HostPool(h string) string {
	if i := strings.Index(h, "#"); i >= 0 {
		return h[i+1:]
	}
	return ""
}

// HostName extracts the host from "host@backend#pool"
func HostName(h string) string {
	if i := strings.IndexAny(h, "@#"); i >= 0 {
		return h[:i]
	}
	return h
}
