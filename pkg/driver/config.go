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


package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/go-ini/ini"
)

// Common backend keys
const (
	KeyEnabledBackends          = "enabled_backends"
	KeyVolumeDriver             = "volume_driver"
	KeyBackendName              = "volume_backend_name"
	KeySanIP                    = "san_ip"
	KeySanLogin                 = "san_login"
	KeySanPassword              = "san_password"
	KeyDriverSSLCertVerify      = "driver_ssl_cert_verify"
	KeyReservedPercentage       = "reserved_percentage"
	KeyMaxOverSubscriptionRatio = "max_over_subscription_ratio"
	KeyUseMultipath             = "use_multipath_for_image_xfer"
	KeyStatsInterval            = "backend_stats_polling_interval"
)

// MaxOverSubscriptionRatioDefault applies to thin pools
const MaxOverSubscriptionRatioDefault = 20.0

// Config is the configuration of one backend: an INI section with the
// DEFAULT section as fallback
type Config struct {
	Name     string
	section  *ini.Section
	defaults *ini.Section
}

// NewConfig returns a configuration from a map; used for backends defined in code
func NewConfig(name string, values map[string]string) *Config {
	f := ini.Empty()
	sec, _ := f.NewSection(name)
	for _, k := range util.SortedStringKeys(values) {
		sec.NewKey(k, values[k])
	}
	return &Config{Name: name, section: sec, defaults: f.Section(ini.DEFAULT_SECTION)}
}

// LoadBackends parses a cinder.conf style file and returns the enabled backends in listed order
func LoadBackends(source interface{}) ([]*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: false}, source)
	if err != nil {
		return nil, fmt.Errorf("backends: %w", err)
	}
	def := f.Section(ini.DEFAULT_SECTION)
	names := util.SplitList(def.Key(KeyEnabledBackends).String())
	if len(names) == 0 {
		return nil, fmt.Errorf("backends: %s is empty", KeyEnabledBackends)
	}
	res := make([]*Config, 0, len(names))
	for _, n := range names {
		sec, err := f.GetSection(n)
		if err != nil {
			return nil, fmt.Errorf("backends: section [%s] not found", n)
		}
		c := &Config{Name: n, section: sec, defaults: def}
		if c.Driver() == "" {
			return nil, fmt.Errorf("backends: [%s] %s not set", n, KeyVolumeDriver)
		}
		res = append(res, c)
	}
	return res, nil
}

func (c *Config) lookup(key string) (string, bool) {
	if c.section != nil && c.section.HasKey(key) {
		return strings.TrimSpace(c.section.Key(key).String()), true
	}
	if c.defaults != nil && c.defaults.HasKey(key) {
		return strings.TrimSpace(c.defaults.Key(key).String()), true
	}
	return "", false
}

// Has reports whether the key is set
func (c *Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// String returns a value or def
func (c *Config) String(key, def string) string {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return def
}

// Int returns an integer value or def if unset or invalid
func (c *Config) Int(key string, def int) int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return def
	}
	return i
}

// Float returns a float value or def
func (c *Config) Float(key string, def float64) float64 {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return def
	}
	return f
}

// Bool returns a boolean value or def. True, yes, on and 1 are true.
func (c *Config) Bool(key string, def bool) bool {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	}
	return def
}

// Duration returns a duration value. A bare number is in seconds.
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// List returns a comma separated list
func (c *Config) List(key string) []string {
	v, _ := c.lookup(key)
	return util.SplitList(v)
}

// Secret returns a value that may be obfuscated
func (c *Config) Secret(key string) (string, error) {
	v, _ := c.lookup(key)
	s, err := util.RevealSecret(v)
	if err != nil {
		return "", NewError(CodeInvalidInput, "config", fmt.Sprintf("%s: %s", key, err.Error()))
	}
	return s, nil
}

// Require returns an InvalidInput error naming the first key that is not set
func (c *Config) Require(keys ...string) error {
	for _, k := range keys {
		if v, ok := c.lookup(k); !ok || v == "" {
			return &Error{Code: CodeInvalidInput, Op: "config", Backend: c.Name, Message: fmt.Sprintf("%s is required", k)}
		}
	}
	return nil
}

// Driver returns the driver type of the backend
func (c *Config) Driver() string {
	return c.String(KeyVolumeDriver, "")
}

// BackendName returns the name the scheduler uses for this backend
func (c *Config) BackendName() string {
	return c.String(KeyBackendName, c.Name)
}

// ApplyPoolDefaults sets the over subscription and reservation settings of a pool
func (c *Config) ApplyPoolDefaults(p *PoolStats) {
	p.ReservedPercentage = c.Int(KeyReservedPercentage, 0)
	p.MaxOverSubscriptionRatio = c.Float(KeyMaxOverSubscriptionRatio, MaxOverSubscriptionRatioDefault)
}
