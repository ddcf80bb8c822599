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


package synology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	logging "github.com/op/go-logging"
)

// Web API names
const (
	APIInfo       = "SYNO.API.Info"
	APIAuth       = "SYNO.API.Auth"
	APIEncryption = "SYNO.API.Encryption"
	APILUN        = "SYNO.Core.ISCSI.LUN"
	APITarget     = "SYNO.Core.ISCSI.Target"
	APIVolume     = "SYNO.Core.Storage.Volume"
)

// Error codes
const (
	ErrCodeUnknown            = 100
	ErrCodeInvalidParameter   = 101
	ErrCodeNoSuchAPI          = 102
	ErrCodeNoSuchMethod       = 103
	ErrCodeVersionUnsupported = 104
	ErrCodePermission         = 105
	ErrCodeSessionTimeout     = 106
	ErrCodeSessionInterrupted = 107
	ErrCodeSIDNotFound        = 119
	ErrCodeBadCredentials     = 400
	ErrCodeAccountDisabled    = 401
	ErrCodeOTPRequired        = 403
	ErrCodeLUNNotExist        = 18990010
	ErrCodeSnapshotNotExist   = 18990532
	ErrCodeLUNNameExists      = 18990538
	ErrCodeNoSpace            = 18990541
	ErrCodeLUNBusy            = 18990560
	ErrCodeTargetNotExist     = 18990710
)

type codeInfo struct {
	code driver.Code
	msg  string
}

var errTable = map[int]codeInfo{
	ErrCodeUnknown:            {driver.CodeBackendAPI, "unknown error"},
	ErrCodeInvalidParameter:   {driver.CodeInvalidInput, "invalid parameter"},
	ErrCodeNoSuchAPI:          {driver.CodeNotSupported, "the requested API does not exist"},
	ErrCodeNoSuchMethod:       {driver.CodeNotSupported, "the requested method does not exist"},
	ErrCodeVersionUnsupported: {driver.CodeNotSupported, "the requested version does not support the functionality"},
	ErrCodePermission:         {driver.CodeAuth, "the logged in session does not have permission"},
	ErrCodeSessionTimeout:     {driver.CodeAuth, "session timeout"},
	ErrCodeSessionInterrupted: {driver.CodeAuth, "session interrupted by duplicate login"},
	ErrCodeSIDNotFound:        {driver.CodeAuth, "SID not found"},
	ErrCodeBadCredentials:     {driver.CodeAuth, "no such account or incorrect password"},
	ErrCodeAccountDisabled:    {driver.CodeAuth, "account disabled"},
	ErrCodeOTPRequired:        {driver.CodeAuth, "2-step verification code required"},
	ErrCodeLUNNotExist:        {driver.CodeNotFound, "LUN does not exist"},
	ErrCodeSnapshotNotExist:   {driver.CodeNotFound, "snapshot does not exist"},
	ErrCodeLUNNameExists:      {driver.CodeBusy, "a LUN with the same name exists"},
	ErrCodeNoSpace:            {driver.CodeCapacity, "no space left on the volume"},
	ErrCodeLUNBusy:            {driver.CodeBusy, "LUN is busy"},
	ErrCodeTargetNotExist:     {driver.CodeNotFound, "target does not exist"},
}

var sessionCodes = map[int]bool{
	ErrCodeSessionTimeout:     true,
	ErrCodeSessionInterrupted: true,
	ErrCodeSIDNotFound:        true,
}

// CodeError converts a Web API error code
func CodeError(op string, code int) error {
	ci, ok := errTable[code]
	if !ok {
		ci = codeInfo{driver.CodeBackendAPI, "unexpected error"}
	}
	return &driver.Error{Code: ci.code, Op: op, VendorCode: strconv.Itoa(code), Message: ci.msg}
}

type apiDesc struct {
	Path       string `json:"path"`
	MinVersion int    `json:"minVersion"`
	MaxVersion int    `json:"maxVersion"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code int `json:"code"`
	} `json:"error"`
}

type encryptionInfo struct {
	PublicKey   string `json:"public_key"`
	CipherKey   string `json:"cipherkey"`
	CipherToken string `json:"ciphertoken"`
	ServerTime  int64  `json:"server_time"`
}

// Client is a DSM Web API client
type Client struct {
	Log      *logging.Logger
	rc       *rest.Client
	user     string
	password string

	mux      sync.Mutex
	apis     map[string]*apiDesc
	sid      string
	loginGen int
}

// NewClient returns a client. The session is established on first use.
func NewClient(rc *rest.Client, user, password string, log *logging.Logger) *Client {
	return &Client{Log: log, rc: rc, user: user, password: password}
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (*envelope, error) {
	op := "POST " + path
	resp, err := c.rc.Do(ctx, &rest.Request{
		Method:      "POST",
		Path:        "/webapi/" + path,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, rest.StatusError(op, resp)
	}
	env := &envelope{}
	if err = json.Unmarshal(resp.Body, env); err != nil {
		return nil, driver.WrapError(driver.CodeBackendAPI, op, fmt.Errorf("invalid response: %w", err))
	}
	return env, nil
}

func (e *envelope) err(op string) error {
	if e.Success {
		return nil
	}
	code := ErrCodeUnknown
	if e.Error != nil {
		code = e.Error.Code
	}
	return CodeError(op, code)
}

func (e *envelope) decode(op string, out interface{}) error {
	if out == nil || len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return driver.WrapError(driver.CodeBackendAPI, op, fmt.Errorf("invalid response data: %w", err))
	}
	return nil
}

func (c *Client) queryAPIs(ctx context.Context) error {
	env, err := c.post(ctx, "query.cgi", url.Values{"api": {APIInfo}, "method": {"query"}, "version": {"1"}, "query": {"all"}})
	if err == nil {
		err = env.err("query API info")
	}
	apis := map[string]*apiDesc{}
	if err == nil {
		err = env.decode("query API info", &apis)
	}
	if err != nil {
		return err
	}
	c.apis = apis
	return nil
}

func (c *Client) api(name string) (*apiDesc, error) {
	if d, ok := c.apis[name]; ok {
		return d, nil
	}
	return nil, driver.NewError(driver.CodeNotSupported, name, "API is not available")
}

// Login establishes a session
func (c *Client) Login(ctx context.Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.sid = ""
	if c.apis == nil {
		if err := c.queryAPIs(ctx); err != nil {
			return err
		}
	}
	ed, err := c.api(APIEncryption)
	if err != nil {
		return err
	}
	env, err := c.post(ctx, ed.Path, url.Values{"api": {APIEncryption}, "method": {"getinfo"}, "version": {"1"}, "format": {"module"}})
	if err == nil {
		err = env.err("get encryption info")
	}
	ei := &encryptionInfo{}
	if err == nil {
		err = env.decode("get encryption info", ei)
	}
	if err != nil {
		return err
	}
	params := url.Values{
		"account": {c.user},
		"passwd":  {c.password},
		"session": {"Core"},
		"format":  {"sid"},
	}
	params.Set(ei.CipherToken, strconv.FormatInt(ei.ServerTime, 10))
	ct, err := encryptParams(ei.PublicKey, params.Encode())
	if err != nil {
		return driver.WrapError(driver.CodeBackendAPI, "login", err)
	}
	ad, err := c.api(APIAuth)
	if err != nil {
		return err
	}
	version := 3
	if ad.MaxVersion < version {
		version = ad.MaxVersion
	}
	env, err = c.post(ctx, ad.Path, url.Values{"api": {APIAuth}, "method": {"login"}, "version": {strconv.Itoa(version)}, ei.CipherKey: {ct}})
	if err == nil {
		err = env.err("login")
	}
	var res struct {
		SID string `json:"sid"`
	}
	if err == nil {
		err = env.decode("login", &res)
	}
	if err != nil {
		return err
	}
	if res.SID == "" {
		return driver.NewError(driver.CodeAuth, "login", "no session id returned")
	}
	c.sid = res.SID
	c.loginGen++
	c.Log.Infof("Logged in to %s as %s", c.rc.BaseURL(), c.user)
	return nil
}

// Logout ends the session
func (c *Client) Logout(ctx context.Context) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.sid == "" {
		return
	}
	if ad, err := c.api(APIAuth); err == nil {
		c.post(ctx, ad.Path, url.Values{"api": {APIAuth}, "method": {"logout"}, "version": {"1"}, "session": {"Core"}, "_sid": {c.sid}})
	}
	c.sid = ""
}

// Call invokes a Web API method. Parameter values are sent JSON encoded.
// A session error causes one new login and retry.
func (c *Client) Call(ctx context.Context, api, method string, version int, params map[string]interface{}, out interface{}) error {
	op := api + " " + method
	for attempt := 0; ; attempt++ {
		c.mux.Lock()
		if c.sid == "" {
			if err := c.login(ctx); err != nil {
				c.mux.Unlock()
				return err
			}
		}
		gen, sid := c.loginGen, c.sid
		d, err := c.api(api)
		c.mux.Unlock()
		if err != nil {
			return err
		}
		form := url.Values{"api": {api}, "method": {method}, "version": {strconv.Itoa(version)}, "_sid": {sid}}
		for k, v := range params {
			b, err := json.Marshal(v)
			if err != nil {
				return driver.WrapError(driver.CodeInvalidInput, op, err)
			}
			form.Set(k, string(b))
		}
		env, err := c.post(ctx, d.Path, form)
		if err != nil {
			return err
		}
		if !env.Success && env.Error != nil && sessionCodes[env.Error.Code] && attempt == 0 {
			c.Log.Warningf("%s: %s; logging in again", op, errTable[env.Error.Code].msg)
			c.mux.Lock()
			if c.loginGen == gen {
				c.sid = ""
			}
			c.mux.Unlock()
			continue
		}
		if err = env.err(op); err != nil {
			return err
		}
		return env.decode(op, out)
	}
}
