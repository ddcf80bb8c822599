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


package huawei

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/driver/rest"
	logging "github.com/op/go-logging"
)

// Array error codes
const (
	ErrCodeSuccess           = 0
	ErrCodeUnauthorized      = -401
	ErrCodeLUNNotExist       = 1077936859
	ErrCodeSnapshotNotExist  = 1077937880
	ErrCodeObjectNotExist    = 1077948996
	ErrCodeInitiatorInUse    = 1077948997
	ErrCodeSystemBusy        = 1077949006
	ErrCodeLUNCopyNotExist   = 1077950183
	ErrCodeMigrationNotExist = 1073806606
)

var notFoundCodes = map[int]bool{
	ErrCodeLUNNotExist:       true,
	ErrCodeSnapshotNotExist:  true,
	ErrCodeObjectNotExist:    true,
	ErrCodeLUNCopyNotExist:   true,
	ErrCodeMigrationNotExist: true,
}

const loginPath = "/xx/sessions"

// ClientArgs contains the arguments to create a Client
type ClientArgs struct {
	URLs     []string
	User     string
	Password string
	Insecure bool
	CACert   string
	Debug    bool
	Log      *logging.Logger
}

// Client talks to the OceanStor REST interface. Requests are made relative to
// the device URL returned by the login call.
type Client struct {
	Log      *logging.Logger
	urls     []string
	user     string
	password string
	rc       *rest.Client

	mux      sync.Mutex
	deviceID string
	loginGen int
}

type apiError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error apiError        `json:"error"`
}

type loginData struct {
	DeviceID     string `json:"deviceid"`
	IBaseToken   string `json:"iBaseToken"`
	AccountState int    `json:"accountstate"`
}

// NewClient returns a Client; Login must be called before use
func NewClient(args *ClientArgs) (*Client, error) {
	if args == nil || len(args.URLs) == 0 || args.User == "" || args.Log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	rc, err := rest.New(&rest.Args{
		URLs:           args.URLs,
		Insecure:       args.Insecure,
		CACert:         args.CACert,
		Debug:          args.Debug,
		SensitivePaths: []string{loginPath},
		Log:            args.Log,
	})
	if err != nil {
		return nil, err
	}
	c := &Client{Log: args.Log, user: args.User, password: args.Password, rc: rc}
	c.urls = append(c.urls, rc.URLs...)
	return c, nil
}

// Login tries each management URL until a session is established
func (c *Client) Login(ctx context.Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.rc.ClearSession("iBaseToken")
	body := map[string]interface{}{"username": c.user, "password": c.password, "scope": "0"}
	var lastErr error
	for _, u := range c.urls {
		var env envelope
		_, err := c.rc.DoJSON(ctx, "POST", u+loginPath, nil, body, &env)
		if err == nil {
			err = env.err("login")
		}
		var ld loginData
		if err == nil {
			if err = json.Unmarshal(env.Data, &ld); err == nil && ld.DeviceID == "" {
				err = fmt.Errorf("no device id in login response")
			}
		}
		if err != nil {
			c.Log.Warningf("Login to %s failed: %s", u, err.Error())
			lastErr = err
			continue
		}
		c.deviceID = ld.DeviceID
		c.loginGen++
		c.rc.SetHeader("iBaseToken", ld.IBaseToken)
		c.rc.SetBaseURL(u + "/" + ld.DeviceID)
		c.Log.Infof("Logged in to %s device %s", u, ld.DeviceID)
		return nil
	}
	return &driver.Error{Code: driver.CodeAuth, Op: "login", Message: "no management URL accepted the login", Err: lastErr}
}

// relogin establishes a new session unless another caller already did so since gen
func (c *Client) relogin(ctx context.Context, gen int) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.loginGen != gen {
		return nil
	}
	return c.login(ctx)
}

// Logout ends the session
func (c *Client) Logout(ctx context.Context) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.deviceID == "" {
		return
	}
	var env envelope
	if _, err := c.rc.DoJSON(ctx, "DELETE", "/sessions", nil, nil, &env); err != nil {
		c.Log.Warningf("Logout: %s", err.Error())
	}
	c.deviceID = ""
	c.rc.ClearSession("iBaseToken")
}

func (env *envelope) err(op string) error {
	if env.Error.Code == ErrCodeSuccess {
		return nil
	}
	e := &driver.Error{Code: driver.CodeBackendAPI, Op: op, VendorCode: fmt.Sprintf("%d", env.Error.Code), Message: env.Error.Description}
	switch {
	case env.Error.Code == ErrCodeUnauthorized:
		e.Code = driver.CodeAuth
	case notFoundCodes[env.Error.Code]:
		e.Code = driver.CodeNotFound
	case env.Error.Code == ErrCodeSystemBusy:
		e.Code = driver.CodeBusy
	}
	return e
}

// call performs a request and decodes the data member of the reply into out.
// The session is re-established once on an authorization or transport failure.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	op := method + " " + path
	for attempt := 0; ; attempt++ {
		c.mux.Lock()
		gen := c.loginGen
		c.mux.Unlock()
		var env envelope
		_, err := c.rc.DoJSON(ctx, method, path, query, in, &env)
		if err == nil {
			err = env.err(op)
		}
		code := driver.CodeOf(err)
		if err != nil && attempt == 0 && ctx.Err() == nil && (code == driver.CodeAuth || isTransport(err)) {
			c.Log.Warningf("%s: %s; logging in again", op, err.Error())
			if lErr := c.relogin(ctx, gen); lErr != nil {
				return lErr
			}
			continue
		}
		if err != nil {
			return err
		}
		if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return driver.WrapError(driver.CodeBackendAPI, op, fmt.Errorf("invalid data: %w", err))
			}
		}
		return nil
	}
}

// isTransport reports an error raised before the array answered
func isTransport(err error) bool {
	e, ok := err.(*driver.Error)
	return ok && e.Code == driver.CodeBackendAPI && e.VendorCode == "" && e.Err != nil
}
