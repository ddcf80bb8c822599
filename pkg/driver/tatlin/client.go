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


package tatlin

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	logging "github.com/op/go-logging"
)

// Resource status values
const (
	StatusReady    = "ready"
	StatusCreating = "creating"
	StatusError    = "error"
	StatusOnline   = "online"
)

// Client is a Tatlin REST client using token authentication
type Client struct {
	Log      *logging.Logger
	rc       *rest.Client
	user     string
	password string

	mux      sync.Mutex
	loginGen int
}

// Resource is a block resource
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	PoolID string `json:"poolId"`
	Size   int64  `json:"size"`
	Thin   bool   `json:"thin"`
	Status string `json:"status"`
}

// Pool is a storage pool
type Pool struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Thin          bool   `json:"thinProvision"`
	CapacityTotal int64  `json:"capacity_total"`
	CapacityUsed  int64  `json:"capacity_used"`
	CapacityFree  int64  `json:"capacity_free"`
}

// Host is a host personality
type Host struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Initiators []string `json:"initiators"`
}

// Mapping is a resource to host mapping
type Mapping struct {
	HostID   string `json:"host_id"`
	Resource string `json:"resource_id"`
	LUN      int    `json:"mapped_lun_id"`
}

// Port is an iSCSI target port
type Port struct {
	Name string `json:"name"`
	IQN  string `json:"iqn"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// NewClient returns a client; Login must be called before use
func NewClient(rc *rest.Client, user, password string, log *logging.Logger) *Client {
	return &Client{Log: log, rc: rc, user: user, password: password}
}

// Login obtains a token
func (c *Client) Login(ctx context.Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.rc.ClearSession("X-Auth-Token")
	var res struct {
		Token string `json:"token"`
	}
	var err error
	for i := 0; i < len(c.rc.URLs); i++ {
		_, err = c.rc.DoJSON(ctx, "POST", "/auth/login", nil, map[string]string{"login": c.user, "secret": c.password}, &res)
		if err == nil || driver.CodeOf(err) == driver.CodeAuth || !c.rc.Failover() {
			break
		}
	}
	if err != nil {
		return err
	}
	if res.Token == "" {
		return driver.NewError(driver.CodeAuth, "login", "no token returned")
	}
	c.rc.SetHeader("X-Auth-Token", res.Token)
	c.loginGen++
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	for attempt := 0; ; attempt++ {
		c.mux.Lock()
		gen := c.loginGen
		c.mux.Unlock()
		_, err := c.rc.DoJSON(ctx, method, path, query, in, out)
		if err != nil && attempt == 0 && driver.CodeOf(err) == driver.CodeAuth {
			c.Log.Warningf("%s %s: token rejected, logging in again", method, path)
			c.mux.Lock()
			if c.loginGen == gen {
				err = c.login(ctx)
			} else {
				err = nil
			}
			c.mux.Unlock()
			if err != nil {
				return err
			}
			continue
		}
		return err
	}
}

// GetResource returns a resource
func (c *Client) GetResource(ctx context.Context, id string) (*Resource, error) {
	r := &Resource{}
	if err := c.call(ctx, "GET", "/block/resources/"+id, nil, nil, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateResource creates a resource with the given id
func (c *Client) CreateResource(ctx context.Context, r *Resource) error {
	return c.call(ctx, "PUT", "/block/resources/"+r.ID, nil, r, nil)
}

// DeleteResource deletes a resource
func (c *Client) DeleteResource(ctx context.Context, id string) error {
	return c.call(ctx, "DELETE", "/block/resources/"+id, nil, nil, nil)
}

// ExtendResource sets a new resource size in bytes
func (c *Client) ExtendResource(ctx context.Context, id string, size int64) error {
	return c.call(ctx, "POST", "/block/resources/"+id+"/size", nil, map[string]int64{"new_size": size}, nil)
}

// PoolResources returns the resources of a pool
func (c *Client) PoolResources(ctx context.Context, poolID string) ([]*Resource, error) {
	var res []*Resource
	err := c.call(ctx, "GET", "/block/resources", url.Values{"pool_id": {poolID}}, nil, &res)
	return res, err
}

// Pools returns the pools
func (c *Client) Pools(ctx context.Context) ([]*Pool, error) {
	var res []*Pool
	err := c.call(ctx, "GET", "/block/pools", nil, nil, &res)
	return res, err
}

// Hosts returns the host personalities
func (c *Client) Hosts(ctx context.Context) ([]*Host, error) {
	var res []*Host
	err := c.call(ctx, "GET", "/personalities/hosts", nil, nil, &res)
	return res, err
}

// MapResource maps a resource to a host
func (c *Client) MapResource(ctx context.Context, id, hostID string) error {
	return c.call(ctx, "PUT", fmt.Sprintf("/block/resources/%s/mapping/hosts/%s", id, hostID), nil, nil, nil)
}

// UnmapResource removes a mapping
func (c *Client) UnmapResource(ctx context.Context, id, hostID string) error {
	return c.call(ctx, "DELETE", fmt.Sprintf("/block/resources/%s/mapping/hosts/%s", id, hostID), nil, nil, nil)
}

// Mappings returns the mappings of a resource
func (c *Client) Mappings(ctx context.Context, id string) ([]*Mapping, error) {
	var res []*Mapping
	err := c.call(ctx, "GET", "/block/resources/"+id+"/mapping", nil, nil, &res)
	return res, err
}

// ISCSIPorts returns the iSCSI target ports
func (c *Client) ISCSIPorts(ctx context.Context) ([]*Port, error) {
	var res []*Port
	err := c.call(ctx, "GET", "/ports", url.Values{"protocol": {"iscsi"}}, nil, &res)
	return res, err
}
