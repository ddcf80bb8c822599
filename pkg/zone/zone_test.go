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


package zone

import (
	"strings"
	"testing"

	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/stretchr/testify/assert"
)

const testINI = `
[DEFAULT]
enabled_backends = b1

[fc-zone-manager]
zoning_policy = initiator
fc_fabric_names = fa, fb
zone_name_prefix = os_
enable_friendly_zone_names = true

[fabric:fa]
fc_fabric_address = 10.0.0.10
fc_fabric_user = admin
fc_fabric_password = %s
fc_southbound_protocol = ssh

[fabric:fb]
fc_fabric_address = 10.0.0.20
fc_fabric_user = admin
fc_fabric_password = pw
fc_southbound_protocol = REST_HTTPS
fc_fabric_port = 8443
zoning_policy = initiator-target
zone_activate = false
zone_config_name = cfg_b
`

func TestLoadConfig(t *testing.T) {
	assert := assert.New(t)

	cfg, err := LoadConfig([]byte(strings.Replace(testINI, "%s", util.Obfuscate("secret"), 1)))
	assert.NoError(err)
	if assert.NotNil(cfg) && assert.Len(cfg.Fabrics, 2) {
		assert.Equal(PolicyInitiator, cfg.ZoningPolicy)
		assert.True(cfg.ZoneActivate)
		assert.True(cfg.FriendlyZoneNames)
		fa, fb := cfg.Fabrics[0], cfg.Fabrics[1]
		assert.Equal("fa", fa.Name)
		assert.Equal(ProtocolSSH, fa.Protocol)
		assert.Equal(22, fa.Port)
		assert.Equal("secret", fa.Password)
		assert.Equal(PolicyInitiator, fa.ZoningPolicy)
		assert.Equal("os_", fa.ZoneNamePrefix)
		assert.True(fa.ZoneActivate)
		assert.Equal(ZoneConfigDefault, fa.ZoneConfig)
		assert.Equal("fb", fb.Name)
		assert.Equal(8443, fb.Port)
		assert.Equal(PolicyInitiatorTarget, fb.ZoningPolicy)
		assert.False(fb.ZoneActivate)
		assert.Equal("cfg_b", fb.ZoneConfig)
	}

	cfg, err = LoadConfig([]byte("[DEFAULT]\nenabled_backends = b1\n"))
	assert.NoError(err)
	assert.Nil(cfg)

	tcs := []struct{ in, re string }{
		{"[fc-zone-manager]\nzoning_policy = any\n", "invalid zoning_policy"},
		{"[fc-zone-manager]\nfc_fabric_names = fx\n", `section \[fabric:fx\] not found`},
		{"[fc-zone-manager]\n", "fc_fabric_names is empty"},
		{"[fc-zone-manager]\nfc_fabric_names = f\n[fabric:f]\nfc_fabric_user = u\n", "fc_fabric_address is required"},
		{"[fc-zone-manager]\nfc_fabric_names = f\n[fabric:f]\nfc_fabric_address = a\nfc_southbound_protocol = x\n", "unsupported fc_southbound_protocol"},
		{"[fc-zone-manager]\nfc_fabric_names = f\n[fabric:f]\nfc_fabric_address = a\nzoning_policy = x\n", "fabric f: invalid zoning_policy"},
		{"[fc-zone-manager]\nfc_fabric_names = f\n[fabric:f]\nfc_fabric_address = a\nfc_fabric_password = OBF:x\n", "invalid obfuscated"},
		{"[fc-zone-manager\n", "zone config"},
	}
	for _, tc := range tcs {
		_, err = LoadConfig([]byte(tc.in))
		assert.Regexp(tc.re, err, tc.in)
	}
}

func TestZoneNames(t *testing.T) {
	assert := assert.New(t)

	i, tg := "10:00:00:90:FA:1B:2C:3D", "50:06:0B:00:00:C2:66:04"
	assert.Equal("openstack10000090fa1b2c3d50060b0000c26604", ZoneName(PolicyInitiatorTarget, "openstack", i, tg))
	assert.Equal("openstack10000090fa1b2c3d", ZoneName(PolicyInitiator, "openstack", i, tg))
	assert.Equal("my_pfx_10000090fa1b2c3d", ZoneName(PolicyInitiator, "my_pfx_", i, ""))
	assert.Equal("a_b10000090fa1b2c3d", ZoneName(PolicyInitiator, "a.b", i, ""))

	name := FriendlyZoneName(PolicyInitiatorTarget, "openstack", i, tg, "compute-node-01.example.com", "array#1")
	assert.Equal("compute-node-0_10000090fa1b2c3d_array_1_50060b0000c26604", name)
	assert.Equal(ZoneName(PolicyInitiatorTarget, "openstack", i, tg), FriendlyZoneName(PolicyInitiatorTarget, "openstack", i, tg, "", "array"))
	assert.Equal("host_1_10000090fa1b2c3d", FriendlyZoneName(PolicyInitiator, "openstack", i, tg, "host 1", ""))
	assert.Equal(ZoneName(PolicyInitiator, "openstack", i, tg), FriendlyZoneName(PolicyInitiator, "openstack", i, tg, "", ""))
	long := FriendlyZoneName(PolicyInitiator, "", i, "", strings.Repeat("h", 60), "")
	assert.Len(long, ZoneNameMaxLen)

	assert.Equal("add", ZoneAdd.String())
	assert.Equal("remove", ZoneRemove.String())
}
