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
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/Nuvoloso/volumed/pkg/util"
	logging "github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
)

type basicDriver struct{}

func (d *basicDriver) Type() string                                          { return "basic" }
func (d *basicDriver) Setup(ctx context.Context, cfg *Config) error          { return nil }
func (d *basicDriver) DeleteVolume(ctx context.Context, v *VolumeSpec) error { return nil }
func (d *basicDriver) Stats(ctx context.Context, refresh bool) (*BackendStats, error) {
	return &BackendStats{}, nil
}
func (d *basicDriver) CreateVolume(ctx context.Context, v *VolumeSpec) (*ModelUpdate, error) {
	return nil, nil
}
func (d *basicDriver) InitializeConnection(ctx context.Context, v *VolumeSpec, c *Connector) (*ConnectionInfo, error) {
	return nil, nil
}
func (d *basicDriver) TerminateConnection(ctx context.Context, v *VolumeSpec, c *Connector) (*ConnectionInfo, error) {
	return nil, nil
}

type extendingDriver struct {
	basicDriver
}

func (d *extendingDriver) ExtendVolume(ctx context.Context, v *VolumeSpec, newSize int64) error {
	return nil
}

func (d *extendingDriver) CreateClonedVolume(ctx context.Context, v *VolumeSpec, src *VolumeSpec) (*ModelUpdate, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	Register("zz-basic", func(log *logging.Logger) Driver { return &basicDriver{} })
	Register("zz-extending", func(log *logging.Logger) Driver { return &extendingDriver{} })
	assert.Contains(Types(), "zz-basic")
	assert.Contains(Types(), "zz-extending")

	d, err := New("zz-basic", tl.Logger())
	assert.NoError(err)
	assert.Equal(Capabilities{}, CapabilitiesOf(d))
	d, err = New("zz-extending", tl.Logger())
	assert.NoError(err)
	assert.Equal(Capabilities{Clone: true, Extend: true}, CapabilitiesOf(d))

	d, err = New("nope", tl.Logger())
	assert.Regexp(`unsupported volume driver "nope"`, err)
	assert.Nil(d)
}

func TestErrors(t *testing.T) {
	assert := assert.New(t)

	e := NewError(CodeNotFound, "delete volume", "lun missing")
	assert.Equal("delete volume: lun missing", e.Error())
	e.VendorCode = "1077936859"
	assert.Equal("delete volume: lun missing (code 1077936859)", e.Error())
	err := WithBackend(e, "huawei1")
	assert.Equal("huawei1: delete volume: lun missing (code 1077936859)", err.Error())
	WithBackend(e, "other")
	assert.Equal("huawei1", e.Backend)
	assert.True(IsNotFound(err))
	assert.True(errors.Is(err, ErrNotFound))
	assert.False(errors.Is(err, ErrBusy))
	assert.False(errors.Is(err, NewError(CodeNotFound, "x", "")))
	assert.False(IsRetryable(err))

	w := fmt.Errorf("outer: %w", WrapError(CodeBusy, "create", fmt.Errorf("locked")))
	assert.Equal("outer: create: locked", w.Error())
	assert.Equal(CodeBusy, CodeOf(w))
	assert.True(IsRetryable(w))
	assert.True(errors.Is(w, ErrBusy))
	assert.Equal("locked", errors.Unwrap(errors.Unwrap(w)).Error())

	assert.Equal(CodeBackendAPI, CodeOf(fmt.Errorf("plain")))
	assert.False(IsNotFound(nil))
	assert.False(IsRetryable(nil))
	assert.Equal("Timeout", (&Error{Code: CodeTimeout}).Error())
	assert.Equal("BackendAPI", Code(99).String())
	assert.Equal(err, WithBackend(err, ""))
	assert.Equal("plain", WithBackend(fmt.Errorf("plain"), "b").Error())
}

func TestRetry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ra := (*RetryArgs)(nil).sanitize()
	assert.Equal(RetryAttemptsDefault, ra.Attempts)
	assert.Equal(RetryDelayDefault, ra.Delay)
	assert.Equal(RetryMultiplierDefault, ra.Multiplier)
	assert.Equal(RetryMaxDelayDefault, ra.MaxDelay)
	assert.NotNil(ra.Retryable)
	eb := newBackOff(2*time.Millisecond, 2, 3*time.Millisecond, 0)
	assert.Equal(2*time.Millisecond, eb.NextBackOff())
	assert.Equal(3*time.Millisecond, eb.NextBackOff())
	assert.Equal(3*time.Millisecond, eb.NextBackOff())
	eb = newBackOff(time.Millisecond, 1, time.Second, 0)
	assert.Equal(time.Millisecond, eb.NextBackOff())
	assert.Equal(time.Millisecond, eb.NextBackOff())

	cnt := 0
	err := Retry(ctx, &RetryArgs{Attempts: 4, Delay: time.Millisecond}, func(ctx context.Context) error {
		cnt++
		if cnt < 3 {
			return ErrBusy
		}
		return nil
	})
	assert.NoError(err)
	assert.Equal(3, cnt)

	cnt = 0
	err = Retry(ctx, &RetryArgs{Attempts: 2, Delay: time.Millisecond}, func(ctx context.Context) error {
		cnt++
		return ErrTimeout
	})
	assert.Equal(ErrTimeout, err)
	assert.Equal(2, cnt)

	cnt = 0
	err = Retry(ctx, &RetryArgs{Delay: time.Millisecond}, func(ctx context.Context) error {
		cnt++
		return ErrNotFound
	})
	assert.Equal(ErrNotFound, err)
	assert.Equal(1, cnt)

	cnt = 0
	custom := fmt.Errorf("custom")
	err = Retry(ctx, &RetryArgs{Delay: time.Millisecond, Retryable: func(e error) bool { return e == custom }}, func(ctx context.Context) error {
		cnt++
		return custom
	})
	assert.Equal(custom, err)
	assert.Equal(RetryAttemptsDefault, cnt)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = Retry(cctx, &RetryArgs{Delay: time.Hour}, func(ctx context.Context) error { return ErrBusy })
	assert.Equal(CodeTimeout, CodeOf(err))
}

func TestPoll(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cnt := 0
	err := Poll(ctx, &PollArgs{Interval: time.Millisecond, Backoff: 2}, func(ctx context.Context) (bool, error) {
		cnt++
		return cnt == 3, nil
	})
	assert.NoError(err)
	assert.Equal(3, cnt)

	err = Poll(ctx, nil, func(ctx context.Context) (bool, error) { return false, ErrCapacity })
	assert.Equal(ErrCapacity, err)

	err = Poll(ctx, &PollArgs{Op: "wait for job", Interval: time.Millisecond, Timeout: 20 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.Regexp("wait for job: timed out after 20ms", err)
	assert.Equal(CodeTimeout, CodeOf(err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = Poll(cctx, &PollArgs{Interval: time.Hour}, func(ctx context.Context) (bool, error) { return false, nil })
	assert.Regexp("poll: context canceled", err)
}

var testConf = []byte(`
[DEFAULT]
enabled_backends = array1, array2
reserved_percentage = 10
backend_stats_polling_interval = 30
driver_ssl_cert_verify = no

[array1]
volume_driver = huawei
san_ip = 10.0.0.1,10.0.0.2
san_login = admin
san_password = OBF:SECRET
max_over_subscription_ratio = 5.5
volume_backend_name = gold

[array2]
volume_driver = fake
reserved_percentage = 0
backend_stats_polling_interval = 2m
bad_int = x
`)

func TestConfig(t *testing.T) {
	assert := assert.New(t)

	conf := []byte(strings.Replace(string(testConf), "OBF:SECRET", util.Obfuscate("pw1"), 1))
	cfgs, err := LoadBackends(conf)
	assert.NoError(err)
	if assert.Len(cfgs, 2) {
		c := cfgs[0]
		assert.Equal("array1", c.Name)
		assert.Equal("huawei", c.Driver())
		assert.Equal("gold", c.BackendName())
		assert.Equal([]string{"10.0.0.1", "10.0.0.2"}, c.List(KeySanIP))
		s, err := c.Secret(KeySanPassword)
		assert.NoError(err)
		assert.Equal("pw1", s)
		assert.Equal(10, c.Int(KeyReservedPercentage, 0))
		assert.Equal(30*time.Second, c.Duration(KeyStatsInterval, time.Minute))
		assert.False(c.Bool(KeyDriverSSLCertVerify, true))
		assert.True(c.Bool("missing", true))
		assert.NoError(c.Require(KeySanIP, KeySanLogin))
		err = c.Require(KeySanLogin, "storage_pools")
		assert.Regexp("array1: config: storage_pools is required", err)
		assert.Equal(CodeInvalidInput, CodeOf(err))
		p := &PoolStats{}
		c.ApplyPoolDefaults(p)
		assert.Equal(10, p.ReservedPercentage)
		assert.Equal(5.5, p.MaxOverSubscriptionRatio)

		c = cfgs[1]
		assert.Equal("array2", c.BackendName())
		assert.Equal(0, c.Int(KeyReservedPercentage, 7))
		assert.Equal(7, c.Int("bad_int", 7))
		assert.Equal(1.5, c.Float("bad_int", 1.5))
		assert.Equal(2*time.Minute, c.Duration(KeyStatsInterval, 0))
		assert.Equal(time.Second, c.Duration("bad_int", time.Second))
		assert.True(c.Has(KeyEnabledBackends))
		assert.False(c.Has(KeySanIP))
		assert.Empty(c.List(KeySanIP))
		s, err = c.Secret(KeySanPassword)
		assert.NoError(err)
		assert.Equal("", s)
		p = &PoolStats{}
		c.ApplyPoolDefaults(p)
		assert.Equal(MaxOverSubscriptionRatioDefault, p.MaxOverSubscriptionRatio)
	}

	tcs := []struct{ in, re string }{
		{"[DEFAULT]\nfoo=bar\n", "enabled_backends is empty"},
		{"[DEFAULT]\nenabled_backends=a\n", `section \[a\] not found`},
		{"[DEFAULT]\nenabled_backends=a\n[a]\nsan_ip=1.2.3.4\n", `\[a\] volume_driver not set`},
	}
	for _, tc := range tcs {
		in, re := tc.in, tc.re
		cfgs, err = LoadBackends([]byte(in))
		assert.Regexp(re, err)
		assert.Nil(cfgs)
	}
	_, err = LoadBackends("/no/such/file.conf")
	assert.Regexp("backends:", err)

	c := NewConfig("mem", map[string]string{KeyVolumeDriver: "fake", KeySanPassword: "OBF:xyz"})
	assert.Equal("fake", c.Driver())
	_, err = c.Secret(KeySanPassword)
	assert.Regexp("san_password: invalid obfuscated", err)
}

func TestTypes(t *testing.T) {
	assert := assert.New(t)

	ci, err := ISCSIConnection("v1", []string{"iqn.a", "iqn.b"}, []string{"10.0.0.1:3260", "10.0.0.2:3260"}, 3, true)
	assert.NoError(err)
	assert.Equal(ConnISCSI, ci.DriverVolumeType)
	assert.Equal("iqn.a", ci.Data.TargetIQN)
	assert.Equal("10.0.0.1:3260", ci.Data.TargetPortal)
	assert.Equal([]int{3, 3}, ci.Data.TargetLUNs)
	ci, err = ISCSIConnection("v1", []string{"iqn.a", "iqn.b"}, []string{"10.0.0.1:3260", "10.0.0.2:3260"}, 3, false)
	assert.NoError(err)
	assert.Nil(ci.Data.TargetIQNs)
	_, err = ISCSIConnection("v1", []string{"iqn.a"}, nil, 0, false)
	assert.Regexp("no usable iSCSI target", err)

	assert.Error((*Connector)(nil).Validate(ConnISCSI))
	conn := &Connector{Host: "h1"}
	assert.Regexp("initiator is required", conn.Validate(ConnISCSI))
	assert.Regexp("wwpns are required", conn.Validate(ConnFC))
	assert.Regexp("instance_id is required", conn.Validate(ConnLocal))
	conn.Initiator, conn.WWPNs, conn.InstanceID = "iqn.h1", []string{"10000090fa1b2c3d"}, "i-1"
	assert.NoError(conn.Validate(ConnISCSI))
	assert.NoError(conn.Validate(ConnFC))
	assert.NoError(conn.Validate(ConnLocal))

	p := &PoolStats{TotalCapacityGiB: 100, FreeCapacityGiB: 40, ProvisionedCapacityGiB: 300, ReservedPercentage: 10}
	assert.Equal(30.0, p.UsableGiB())
	p.ThinProvisioning, p.MaxOverSubscriptionRatio = true, 5
	assert.Equal(190.0, p.UsableGiB())

	v := &objects.Volume{ID: "v1", Name: "vol", Size: 1, Host: "h@b#p1", Metadata: map[string]string{"a": "1"}}
	vs := SpecFromVolume(v, nil)
	assert.Equal("p1", vs.Pool)
	assert.NotNil(vs.ExtraSpecs)
	mu := &ModelUpdate{ProviderID: "lun-7", SizeGiB: 2, Metadata: map[string]string{"b": "2"}, AdminMetadata: map[string]string{"k": "v"}}
	mu.ApplyToVolume(v)
	assert.Equal("lun-7", v.ProviderID)
	assert.EqualValues(2, v.Size)
	assert.Equal(map[string]string{"a": "1", "b": "2"}, v.Metadata)
	assert.Equal("v", v.AdminMetadata["k"])
	assert.Contains(v.Changes(), "provider_id")
	assert.Contains(v.Changes(), "size")
	assert.Contains(v.Changes(), "metadata")
	(*ModelUpdate)(nil).ApplyToVolume(v)

	s := &objects.Snapshot{ID: "s1", VolumeID: "v1", VolumeSize: 2}
	ss := SpecFromSnapshot(s, vs)
	assert.Equal(vs, ss.Volume)
	mu = &ModelUpdate{ProviderLocation: "snap-9", Progress: "100%"}
	mu.ApplyToSnapshot(s)
	assert.Equal("snap-9", s.ProviderLocation)
	assert.Equal("100%", s.Progress)
	(*ModelUpdate)(nil).ApplyToSnapshot(s)
}
