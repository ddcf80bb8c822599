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


// Package brocade implements zone.Client for Brocade FOS switches. The
// switch is managed over the SSH command line, the HTTP name-value-pair
// interface of Web Tools or the FOS REST API, selected by the southbound
// protocol of the fabric.
package brocade

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/zone"
	logging "github.com/op/go-logging"
)

// Minimum firmware versions
const (
	MinFirmwareVersion     = "6.0.0"
	MinRESTFirmwareVersion = "8.2.1"
)

// NewClient returns a client for the southbound protocol of the fabric. It is a zone.ClientFactory.
// No connection is made until the first call.
func NewClient(f *zone.Fabric, log *logging.Logger) (zone.Client, error) {
	if f == nil || log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	switch f.Protocol {
	case zone.ProtocolSSH:
		return newCLIClient(f, log)
	case zone.ProtocolHTTP, zone.ProtocolHTTPS:
		return newHTTPClient(f, log)
	case zone.ProtocolRESTHTTP, zone.ProtocolRESTHTTPS:
		return newRESTClient(f, log)
	}
	return nil, driver.NewError(driver.CodeInvalidInput, "connect", fmt.Sprintf("unsupported protocol %q", f.Protocol))
}

var fwVersionRe = regexp.MustCompile(`^v?(\d+(\.\d+){0,2})`)

// firmwareAtLeast compares a FOS version string such as v8.2.1a with a minimum version
func firmwareAtLeast(fw, min string) (bool, error) {
	m := fwVersionRe.FindStringSubmatch(strings.TrimSpace(fw))
	if m == nil {
		return false, fmt.Errorf("invalid firmware version %q", fw)
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return false, fmt.Errorf("invalid firmware version %q: %w", fw, err)
	}
	mv, _ := semver.NewVersion(min)
	return !v.LessThan(mv), nil
}

// nsPortNames extracts the port WWNs from name server entries of the form "type pid;cos;wwpn;wwnn;..."
// as shown by nsshow and nsinfo.htm
func nsPortNames(lines []string) []string {
	res := []string{}
	for _, l := range lines {
		fields := strings.Split(l, ";")
		if len(fields) < 3 {
			continue
		}
		w := strings.TrimSpace(fields[2])
		if len(util.NormalizeWWN(w)) == 16 {
			res = append(res, util.ColonWWN(w))
		}
	}
	return res
}

// cfgName returns the configuration to modify: the active one, or the configured default
func cfgName(f *zone.Fabric, active *zone.ZoneSet) string {
	if active != nil && active.ActiveCfg != "" {
		return active.ActiveCfg
	}
	return f.ZoneConfig
}

// deletesAll reports whether names covers every zone of the active configuration
func deletesAll(names []string, active *zone.ZoneSet) bool {
	if active == nil || active.ActiveCfg == "" {
		return false
	}
	for z := range active.Zones {
		if !util.Contains(names, z) {
			return false
		}
	}
	return true
}

func fabricError(op string, err error) error {
	if _, ok := err.(*driver.Error); ok {
		return err
	}
	return driver.WrapError(driver.CodeBackendAPI, op, err)
}
