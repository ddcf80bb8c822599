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
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/zone"
	logging "github.com/op/go-logging"
	"golang.org/x/crypto/ssh"
)

// SSHTimeout bounds connection establishment
const SSHTimeout = 30 * time.Second

var sshDialHook = ssh.Dial

var cliErrorRe = regexp.MustCompile(`(?i)\b(error|invalid|not found|failed|denied)\b`)
var cliBusyRe = regexp.MustCompile(`(?i)transaction.*in progress|another transaction`)

type cliClient struct {
	fabric *zone.Fabric
	log    *logging.Logger
	config *ssh.ClientConfig

	mux    sync.Mutex
	client *ssh.Client
}

func newCLIClient(f *zone.Fabric, log *logging.Logger) (*cliClient, error) {
	hkc := ssh.InsecureIgnoreHostKey()
	if f.SSHHostKey != "" {
		pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(f.SSHHostKey))
		if err != nil {
			return nil, driver.WrapError(driver.CodeInvalidInput, "connect", fmt.Errorf("invalid fc_fabric_ssh_host_key: %w", err))
		}
		hkc = ssh.FixedHostKey(pk)
	}
	c := &cliClient{
		fabric: f,
		log:    log,
		config: &ssh.ClientConfig{
			User:            f.User,
			Auth:            []ssh.AuthMethod{ssh.Password(f.Password)},
			HostKeyCallback: hkc,
			Timeout:         SSHTimeout,
		},
	}
	return c, nil
}

func (c *cliClient) connect() (*ssh.Client, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	addr := net.JoinHostPort(c.fabric.Address, strconv.Itoa(c.fabric.Port))
	client, err := sshDialHook("tcp", addr, c.config)
	if err != nil {
		code := driver.CodeBackendAPI
		if strings.Contains(err.Error(), "unable to authenticate") {
			code = driver.CodeAuth
		}
		return nil, driver.WrapError(code, "connect", err)
	}
	c.client = client
	return client, nil
}

// run executes a command. A confirmed command has "y" piped to its prompt.
// Output of commands that modify the zone database is checked for error text.
func (c *cliClient) run(ctx context.Context, cmd string, confirm, modify bool) (string, error) {
	op := strings.Fields(cmd)[0]
	client, err := c.connect()
	if err != nil {
		return "", err
	}
	if c.fabric.VirtualFabricID != "" {
		cmd = fmt.Sprintf("fosexec --fid %s -cmd %s", c.fabric.VirtualFabricID, strconv.Quote(cmd))
	}
	if confirm {
		cmd = "echo y | " + cmd
	}
	sess, err := client.NewSession()
	if err != nil {
		return "", driver.WrapError(driver.CodeBackendAPI, op, err)
	}
	defer sess.Close()
	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		ch <- result{out, err}
	}()
	var r result
	select {
	case <-ctx.Done():
		sess.Close()
		return "", driver.WrapError(driver.CodeTimeout, op, ctx.Err())
	case r = <-ch:
	}
	out := string(r.out)
	if r.err != nil {
		return out, &driver.Error{Code: driver.CodeBackendAPI, Op: op, Message: strings.TrimSpace(out), Err: r.err}
	}
	if modify && cliErrorRe.MatchString(out) {
		code := driver.CodeBackendAPI
		if cliBusyRe.MatchString(out) {
			code = driver.CodeBusy
		}
		return out, driver.NewError(code, op, strings.TrimSpace(out))
	}
	return out, nil
}

// apply runs zone database commands in order. The open transaction is aborted on failure.
func (c *cliClient) apply(ctx context.Context, cmds ...string) error {
	for _, cmd := range cmds {
		confirm := strings.HasPrefix(cmd, "cfgsave") || strings.HasPrefix(cmd, "cfgenable") || strings.HasPrefix(cmd, "cfgdisable")
		if _, err := c.run(ctx, cmd, confirm, true); err != nil {
			if _, aErr := c.run(ctx, "cfgtransabort", false, false); aErr != nil {
				c.log.Warningf("fabric %s: cfgtransabort: %s", c.fabric.Name, aErr.Error())
			}
			return err
		}
	}
	return nil
}

func commit(cfg string, activate bool) string {
	if activate {
		return fmt.Sprintf("cfgenable %q", cfg)
	}
	return "cfgsave"
}

func memberList(members []string) string {
	return strings.Join(members, ";")
}

// GetActiveZoneSet parses the effective configuration shown by cfgactvshow
func (c *cliClient) GetActiveZoneSet(ctx context.Context) (*zone.ZoneSet, error) {
	out, err := c.run(ctx, "cfgactvshow", false, false)
	if err != nil {
		return nil, err
	}
	return parseCfgActvShow(out), nil
}

func parseCfgActvShow(out string) *zone.ZoneSet {
	zs := &zone.ZoneSet{Zones: map[string][]string{}}
	inEffective := false
	cur := ""
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Effective configuration"):
			inEffective = true
		case !inEffective || line == "":
		case strings.HasPrefix(line, "cfg:"):
			zs.ActiveCfg = strings.TrimSpace(strings.TrimPrefix(line, "cfg:"))
		case strings.HasPrefix(line, "zone:"):
			cur = strings.TrimSpace(strings.TrimPrefix(line, "zone:"))
			zs.Zones[cur] = []string{}
		case cur != "":
			for _, m := range strings.Fields(strings.Replace(line, ";", " ", -1)) {
				zs.Zones[cur] = append(zs.Zones[cur], strings.ToLower(m))
			}
		}
	}
	return zs
}

// AddZones creates the zones and adds them to the configuration, creating it if there is no active one
func (c *cliClient) AddZones(ctx context.Context, zones map[string][]string, activate bool, active *zone.ZoneSet) error {
	names := util.SortedStringKeys(zones)
	cmds := make([]string, 0, len(names)+2)
	for _, n := range names {
		cmds = append(cmds, fmt.Sprintf("zonecreate %q, %q", n, memberList(zones[n])))
	}
	cfg := cfgName(c.fabric, active)
	if active == nil || active.ActiveCfg == "" {
		cmds = append(cmds, fmt.Sprintf("cfgcreate %q, %q", cfg, memberList(names)))
	} else {
		cmds = append(cmds, fmt.Sprintf("cfgadd %q, %q", cfg, memberList(names)))
	}
	cmds = append(cmds, commit(cfg, activate))
	return c.apply(ctx, cmds...)
}

// UpdateZones adds or removes members of existing zones
func (c *cliClient) UpdateZones(ctx context.Context, zones map[string][]string, activate bool, op zone.UpdateOp, active *zone.ZoneSet) error {
	verb := "zoneadd"
	if op == zone.ZoneRemove {
		verb = "zoneremove"
	}
	cmds := []string{}
	for _, n := range util.SortedStringKeys(zones) {
		cmds = append(cmds, fmt.Sprintf("%s %q, %q", verb, n, memberList(zones[n])))
	}
	cmds = append(cmds, commit(cfgName(c.fabric, active), activate))
	return c.apply(ctx, cmds...)
}

// DeleteZones removes zones from the configuration and deletes them.
// When no zone would remain the configuration is disabled and deleted.
func (c *cliClient) DeleteZones(ctx context.Context, names []string, activate bool, active *zone.ZoneSet) error {
	names = append([]string{}, names...)
	sort.Strings(names)
	cfg := cfgName(c.fabric, active)
	cmds := []string{}
	if deletesAll(names, active) {
		cmds = append(cmds, "cfgdisable")
		for _, n := range names {
			cmds = append(cmds, fmt.Sprintf("zonedelete %q", n))
		}
		cmds = append(cmds, fmt.Sprintf("cfgdelete %q", cfg), "cfgsave")
		return c.apply(ctx, cmds...)
	}
	cmds = append(cmds, fmt.Sprintf("cfgremove %q, %q", cfg, memberList(names)))
	for _, n := range names {
		cmds = append(cmds, fmt.Sprintf("zonedelete %q", n))
	}
	cmds = append(cmds, commit(cfg, activate))
	return c.apply(ctx, cmds...)
}

// GetNameServerInfo returns the port WWNs listed by nsshow
func (c *cliClient) GetNameServerInfo(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "nsshow", false, false)
	if err != nil {
		return nil, err
	}
	lines := []string{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		l := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(l, "N ") || strings.HasPrefix(l, "NL ") {
			lines = append(lines, l)
		}
	}
	return nsPortNames(lines), nil
}

// IsSupportedFirmware checks the FOS version shown by firmwareshow
func (c *cliClient) IsSupportedFirmware(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "firmwareshow", false, false)
	if err != nil {
		return false, err
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) >= 2 && f[0] == "FOS" {
			ok, err := firmwareAtLeast(f[1], MinFirmwareVersion)
			if err != nil {
				return false, fabricError("firmwareshow", err)
			}
			return ok, nil
		}
	}
	return false, driver.NewError(driver.CodeBackendAPI, "firmwareshow", "no FOS version found")
}

// Close ends the SSH connection
func (c *cliClient) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
