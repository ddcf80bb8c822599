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


package brocade

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/Nuvoloso/volumed/pkg/zone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type cliReply struct {
	out    string
	status int
	delay  time.Duration
}

// sshServer is an in-process switch shell that answers exec requests with canned output
type sshServer struct {
	ln      net.Listener
	config  *ssh.ServerConfig
	signer  ssh.Signer
	mux     sync.Mutex
	cmds    []string
	replies map[string]cliReply
}

func newSSHServer(t *testing.T) *sshServer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	s := &sshServer{signer: signer, replies: map[string]cliReply{}}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "password" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	s.config.AddHostKey(signer)
	s.ln, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.serve()
	return s
}

func (s *sshServer) Close() {
	s.ln.Close()
}

func (s *sshServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *sshServer) hostKey() string {
	return string(ssh.MarshalAuthorizedKey(s.signer.PublicKey()))
}

func (s *sshServer) commands() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	res := s.cmds
	s.cmds = nil
	return res
}

func (s *sshServer) reply(cmd string) cliReply {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.cmds = append(s.cmds, cmd)
	for prefix, r := range s.replies {
		if strings.HasPrefix(cmd, prefix) {
			return r
		}
	}
	return cliReply{}
}

func (s *sshServer) serve() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nc)
	}
}

func (s *sshServer) handleConn(nc net.Conn) {
	_, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *sshServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var p struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &p); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)
		r := s.reply(p.Command)
		time.Sleep(r.delay)
		io.WriteString(ch, r.out)
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(r.status)}))
		return
	}
}

const cfgActvShowOut = `Effective configuration:
 cfg:	OpenStack_Cfg
 zone:	openstack10000090fa1b2c3d50060b0000c26604
		10:00:00:90:fa:1b:2c:3d
		50:06:0b:00:00:c2:66:04
 zone:	host1_10000090fa1b2c3e
		10:00:00:90:FA:1B:2C:3E; 50:06:0b:00:00:c2:66:05
`

const nsShowOut = `{
 Type Pid    COS     PortName                NodeName                 TTL(sec)
 N    010100;      2,3;10:00:00:90:fa:1b:2c:3d;20:00:00:90:fa:1b:2c:3d; na
    FC4s: FCP
    Fabric Port Name: 20:01:00:05:1e:9c:12:34
 N    010200;      2,3;50:06:0b:00:00:c2:66:04;50:06:0b:00:00:c2:66:00; na
    FC4s: FCP
The Local Name Server has 2 entries }
`

const firmwareShowOut = `Appl     Primary/Secondary Versions
------------------------------------------
FOS      v7.4.2c
         v7.4.2c
`

func cliFabric(s *sshServer) *zone.Fabric {
	return &zone.Fabric{
		Name:       "fa",
		Address:    "127.0.0.1",
		Port:       s.port(),
		User:       "admin",
		Password:   "password",
		Protocol:   zone.ProtocolSSH,
		SSHHostKey: s.hostKey(),
		ZoneConfig: zone.ZoneConfigDefault,
	}
}

func TestCLIQueries(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	s := newSSHServer(t)
	defer s.Close()
	s.replies["cfgactvshow"] = cliReply{out: cfgActvShowOut}
	s.replies["nsshow"] = cliReply{out: nsShowOut}
	s.replies["firmwareshow"] = cliReply{out: firmwareShowOut}

	zc, err := NewClient(cliFabric(s), tl.Logger())
	assert.NoError(err)
	c, ok := zc.(*cliClient)
	assert.True(ok)
	defer c.Close()

	zs, err := c.GetActiveZoneSet(ctx)
	assert.NoError(err)
	assert.Equal("OpenStack_Cfg", zs.ActiveCfg)
	assert.Equal(map[string][]string{
		"openstack10000090fa1b2c3d50060b0000c26604": {"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:04"},
		"host1_10000090fa1b2c3e":                    {"10:00:00:90:fa:1b:2c:3e", "50:06:0b:00:00:c2:66:05"},
	}, zs.Zones)

	ns, err := c.GetNameServerInfo(ctx)
	assert.NoError(err)
	assert.Equal([]string{"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:04"}, ns)

	ok, err = c.IsSupportedFirmware(ctx)
	assert.NoError(err)
	assert.True(ok)
	s.replies["firmwareshow"] = cliReply{out: "FOS      v5.3.0\n"}
	ok, err = c.IsSupportedFirmware(ctx)
	assert.NoError(err)
	assert.False(ok)
	s.replies["firmwareshow"] = cliReply{out: "Appl\n"}
	_, err = c.IsSupportedFirmware(ctx)
	assert.Regexp("no FOS version", err)
	assert.Equal([]string{"cfgactvshow", "nsshow", "firmwareshow", "firmwareshow", "firmwareshow"}, s.commands())

	// no effective configuration
	s.replies["cfgactvshow"] = cliReply{out: "Effective configuration:\n no configuration in effect\n"}
	zs, err = c.GetActiveZoneSet(ctx)
	assert.NoError(err)
	assert.Equal("", zs.ActiveCfg)
	assert.Empty(zs.Zones)

	// exit status
	s.replies["nsshow"] = cliReply{out: "rbash: nsshow: command not found\n", status: 127}
	_, err = c.GetNameServerInfo(ctx)
	assert.Regexp("^nsshow: rbash: nsshow: command not found", err)

	// context
	s.replies["cfgactvshow"] = cliReply{delay: time.Second}
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = c.GetActiveZoneSet(tctx)
	assert.Equal(driver.CodeTimeout, driver.CodeOf(err))

	assert.NoError(c.Close())
	assert.NoError(c.Close())
}

func TestCLIUpdates(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	s := newSSHServer(t)
	defer s.Close()
	f := cliFabric(s)
	zc, err := NewClient(f, tl.Logger())
	assert.NoError(err)
	c := zc.(*cliClient)
	defer c.Close()

	zones := map[string][]string{
		"zb": {"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:05"},
		"za": {"10:00:00:90:fa:1b:2c:3d", "50:06:0b:00:00:c2:66:04"},
	}
	assert.NoError(c.AddZones(ctx, zones, true, &zone.ZoneSet{Zones: map[string][]string{}}))
	assert.Equal([]string{
		`zonecreate "za", "10:00:00:90:fa:1b:2c:3d;50:06:0b:00:00:c2:66:04"`,
		`zonecreate "zb", "10:00:00:90:fa:1b:2c:3d;50:06:0b:00:00:c2:66:05"`,
		`cfgcreate "OpenStack_Cfg", "za;zb"`,
		`echo y | cfgenable "OpenStack_Cfg"`,
	}, s.commands())

	active := &zone.ZoneSet{ActiveCfg: "cfg1", Zones: map[string][]string{"za": zones["za"], "zb": zones["zb"], "zc": nil}}
	assert.NoError(c.AddZones(ctx, map[string][]string{"zd": zones["za"]}, false, active))
	assert.Equal([]string{
		`zonecreate "zd", "10:00:00:90:fa:1b:2c:3d;50:06:0b:00:00:c2:66:04"`,
		`cfgadd "cfg1", "zd"`,
		`echo y | cfgsave`,
	}, s.commands())

	assert.NoError(c.UpdateZones(ctx, map[string][]string{"za": {"50:06:0b:00:00:c2:66:05"}}, true, zone.ZoneAdd, active))
	assert.NoError(c.UpdateZones(ctx, map[string][]string{"za": {"50:06:0b:00:00:c2:66:05"}}, false, zone.ZoneRemove, active))
	assert.Equal([]string{
		`zoneadd "za", "50:06:0b:00:00:c2:66:05"`,
		`echo y | cfgenable "cfg1"`,
		`zoneremove "za", "50:06:0b:00:00:c2:66:05"`,
		`echo y | cfgsave`,
	}, s.commands())

	assert.NoError(c.DeleteZones(ctx, []string{"zb", "za"}, true, active))
	assert.Equal([]string{
		`cfgremove "cfg1", "za;zb"`,
		`zonedelete "za"`,
		`zonedelete "zb"`,
		`echo y | cfgenable "cfg1"`,
	}, s.commands())

	// last zones of the configuration
	assert.NoError(c.DeleteZones(ctx, []string{"zc", "zb", "za"}, true, active))
	assert.Equal([]string{
		`echo y | cfgdisable`,
		`zonedelete "za"`,
		`zonedelete "zb"`,
		`zonedelete "zc"`,
		`cfgdelete "cfg1"`,
		`echo y | cfgsave`,
	}, s.commands())

	// failure aborts the transaction
	s.replies["cfgadd"] = cliReply{out: "error: Another transaction is in progress\n"}
	err = c.AddZones(ctx, map[string][]string{"zd": zones["za"]}, false, active)
	assert.Equal(driver.CodeBusy, driver.CodeOf(err))
	assert.Regexp("^cfgadd: error: Another transaction", err)
	assert.Equal([]string{
		`zonecreate "zd", "10:00:00:90:fa:1b:2c:3d;50:06:0b:00:00:c2:66:04"`,
		`cfgadd "cfg1", "zd"`,
		`cfgtransabort`,
	}, s.commands())
	s.replies["zonecreate"] = cliReply{out: "invalid alias name\n"}
	s.replies["cfgtransabort"] = cliReply{out: "no transaction\n", status: 1}
	err = c.AddZones(ctx, map[string][]string{"zd": zones["za"]}, false, active)
	assert.Equal(driver.CodeBackendAPI, driver.CodeOf(err))
	assert.Equal(1, tl.CountPattern("fabric fa: cfgtransabort"))
	s.commands()

	// virtual fabric
	delete(s.replies, "zonecreate")
	delete(s.replies, "cfgadd")
	f.VirtualFabricID = "128"
	assert.NoError(c.UpdateZones(ctx, map[string][]string{"za": {"50:06:0b:00:00:c2:66:05"}}, false, zone.ZoneAdd, active))
	assert.Equal([]string{
		`fosexec --fid 128 -cmd "zoneadd \"za\", \"50:06:0b:00:00:c2:66:05\""`,
		`echo y | fosexec --fid 128 -cmd "cfgsave"`,
	}, s.commands())
}

func TestCLIConnect(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	s := newSSHServer(t)
	defer s.Close()

	f := cliFabric(s)
	f.SSHHostKey = "not a key"
	c, err := NewClient(f, tl.Logger())
	assert.Regexp("invalid fc_fabric_ssh_host_key", err)
	assert.Nil(c)

	other, err := rsa.GenerateKey(rand.Reader, 1024)
	assert.NoError(err)
	opk, err := ssh.NewPublicKey(&other.PublicKey)
	assert.NoError(err)
	f.SSHHostKey = string(ssh.MarshalAuthorizedKey(opk))
	c, err = NewClient(f, tl.Logger())
	assert.NoError(err)
	_, err = c.GetNameServerInfo(ctx)
	assert.Regexp("^connect: .*host key mismatch", err)

	f = cliFabric(s)
	f.SSHHostKey = ""
	f.Password = "wrong"
	c, err = NewClient(f, tl.Logger())
	assert.NoError(err)
	_, err = c.GetNameServerInfo(ctx)
	assert.Equal(driver.CodeAuth, driver.CodeOf(err))

	savedDial := sshDialHook
	defer func() { sshDialHook = savedDial }()
	var dialAddr string
	sshDialHook = func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		dialAddr = addr
		return nil, fmt.Errorf("connection refused")
	}
	f.Address = "fe80::1"
	f.Port = 22
	c, err = NewClient(f, tl.Logger())
	assert.NoError(err)
	_, err = c.IsSupportedFirmware(ctx)
	assert.Regexp("^connect: connection refused", err)
	assert.Equal("[fe80::1]:22", dialAddr)

	c, err = NewClient(nil, tl.Logger())
	assert.Error(err)
	c, err = NewClient(&zone.Fabric{Protocol: "FTP"}, tl.Logger())
	assert.Regexp("unsupported protocol", err)
}

func TestHelpers(t *testing.T) {
	assert := assert.New(t)

	for fw, exp := range map[string]bool{"v6.0.0": true, "v8.2.1a": true, "v5.3.1": false, "7.4": true, "v10": true} {
		ok, err := firmwareAtLeast(fw, MinFirmwareVersion)
		assert.NoError(err, fw)
		assert.Equal(exp, ok, fw)
	}
	_, err := firmwareAtLeast("unknown", MinFirmwareVersion)
	assert.Regexp("invalid firmware version", err)
	ok, err := firmwareAtLeast("v8.2.0", MinRESTFirmwareVersion)
	assert.NoError(err)
	assert.False(ok)

	assert.Equal([]string{"10:00:00:90:fa:1b:2c:3d"}, nsPortNames([]string{"N 010100; 2,3;10:00:00:90:FA:1B:2C:3D;x", "bad", "a;b;c"}))

	f := &zone.Fabric{ZoneConfig: "def"}
	assert.Equal("def", cfgName(f, nil))
	assert.Equal("act", cfgName(f, &zone.ZoneSet{ActiveCfg: "act"}))
	active := &zone.ZoneSet{ActiveCfg: "act", Zones: map[string][]string{"a": nil, "b": nil}}
	assert.True(deletesAll([]string{"b", "a"}, active))
	assert.False(deletesAll([]string{"a"}, active))
	assert.False(deletesAll([]string{"a"}, &zone.ZoneSet{}))
}
