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


package util

import (
	"reflect"
	"sort"
	"strings"
)

// SortedStringKeys returns the keys of a map with string keys in sorted order.
// Bad things will happen if m is not such a map.
func SortedStringKeys(m interface{}) []string {
	mV := reflect.ValueOf(m)
	keys := make([]string, 0, mV.Len())
	for _, kV := range mV.MapKeys() {
		keys = append(keys, kV.String())
	}
	sort.Strings(keys)
	return keys
}

// Contains reports whether s is in list
func Contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// SplitList splits a comma separated list, trimming space and dropping empty entries
func SplitList(s string) []string {
	res := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

// NormalizeWWN lower cases a WWN and removes colons
func NormalizeWWN(wwn string) string {
	return strings.ToLower(strings.Replace(wwn, ":", "", -1))
}

// ColonWWN formats a 16 hex digit WWN as colon separated pairs
func ColonWWN(wwn string) string {
	w := NormalizeWWN(wwn)
	if len(w) != 16 {
		return w
	}
	parts := make([]string, 0, 8)
	for i := 0; i < 16; i += 2 {
		parts = append(parts, w[i:i+2])
	}
	return strings.Join(parts, ":")
}
