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


// Package rest is the HTTP session client used by the array drivers and the
// switch clients. It keeps a cookie jar, fails over between management
// addresses and optionally dumps requests and responses to the debug log.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/driver"
	httptransport "github.com/go-openapi/runtime/client"
	logging "github.com/op/go-logging"
	"golang.org/x/net/publicsuffix"
)

// TimeoutDefault is the per request timeout
const TimeoutDefault = 60 * time.Second

// Args contains the client arguments
type Args struct {
	// URLs are the base URLs of the management interfaces, tried in order
	URLs     []string
	Insecure bool
	CACert   string
	Timeout  time.Duration
	Debug    bool
	// SensitivePaths are request path suffixes whose bodies are never dumped
	SensitivePaths []string
	Log            *logging.Logger
}

// Client is a session aware HTTP client
type Client struct {
	Args
	mux           sync.Mutex
	cur           int
	headers       http.Header
	baseTransport http.RoundTripper
	httpClient    *http.Client
}

// New returns a Client
func New(args *Args) (*Client, error) {
	if args == nil || len(args.URLs) == 0 || args.Log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	c := &Client{Args: *args, headers: http.Header{}}
	if c.Timeout <= 0 {
		c.Timeout = TimeoutDefault
	}
	c.URLs = make([]string, len(args.URLs))
	for i, u := range args.URLs {
		c.URLs[i] = strings.TrimRight(u, "/")
	}
	var httpClient *http.Client
	if strings.HasPrefix(c.URLs[0], "https") {
		opts := httptransport.TLSClientOptions{CA: c.CACert, InsecureSkipVerify: c.Insecure}
		var err error
		if httpClient, err = httptransport.TLSClient(opts); err != nil {
			return nil, err
		}
	} else {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	httpClient.Jar = jar
	httpClient.Timeout = c.Timeout
	c.baseTransport = httpClient.Transport
	httpClient.Transport = c
	c.httpClient = httpClient
	return c, nil
}

// BaseURL returns the management URL in use
func (c *Client) BaseURL() string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.URLs[c.cur]
}

// Failover switches to the next management URL. It returns false if there is only one.
func (c *Client) Failover() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if len(c.URLs) < 2 {
		return false
	}
	c.cur = (c.cur + 1) % len(c.URLs)
	c.Log.Warningf("Switching to %s", c.URLs[c.cur])
	return true
}

// SetBaseURL replaces the URL in use, e.g. after a login returns a device specific path
func (c *Client) SetBaseURL(u string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.URLs[c.cur] = strings.TrimRight(u, "/")
}

// SetHeader sets a header sent with every request; an empty value removes it
func (c *Client) SetHeader(k, v string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if v == "" {
		c.headers.Del(k)
		return
	}
	c.headers.Set(k, v)
}

// Header returns a header sent with every request
func (c *Client) Header(k string) string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.headers.Get(k)
}

// ClearSession drops cookies and session headers
func (c *Client) ClearSession(headers ...string) {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	c.mux.Lock()
	defer c.mux.Unlock()
	c.httpClient.Jar = jar
	for _, h := range headers {
		c.headers.Del(h)
	}
}

func (c *Client) sensitive(p string) bool {
	for _, s := range c.SensitivePaths {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}

// RoundTrip adds the session headers and logs the exchange in debug mode
func (c *Client) RoundTrip(r *http.Request) (*http.Response, error) {
	c.mux.Lock()
	for k, v := range c.headers {
		r.Header[k] = v
	}
	c.mux.Unlock()
	if c.Debug {
		b, err := httputil.DumpRequestOut(r, !c.sensitive(r.URL.Path))
		if err == nil {
			c.Log.Debug(string(b))
		}
	}
	resp, err := c.baseTransport.RoundTrip(r)
	if err != nil {
		return resp, err
	}
	if c.Debug {
		if b, err := httputil.DumpResponse(resp, !c.sensitive(r.URL.Path)); err == nil {
			c.Log.Debug(string(b))
		}
	}
	return resp, nil
}

// Request describes a call
type Request struct {
	Method string
	// Path is appended to the base URL unless it is absolute
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
}

// Response is the result of a call
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Do performs a request. Transport failures are returned as BackendAPI driver errors;
// HTTP error statuses are returned in the response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	u := req.Path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.BaseURL() + u
	}
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequest(req.Method, u, body)
	if err != nil {
		return nil, driver.WrapError(driver.CodeInvalidInput, req.Method+" "+req.Path, err)
	}
	hr = hr.WithContext(ctx)
	for k, v := range req.Header {
		hr.Header[k] = v
	}
	if req.ContentType != "" {
		hr.Header.Set("Content-Type", req.ContentType)
	}
	resp, err := c.httpClient.Do(hr)
	if err != nil {
		code := driver.CodeBackendAPI
		if ctx.Err() != nil {
			code = driver.CodeTimeout
		}
		return nil, driver.WrapError(code, req.Method+" "+req.Path, err)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, driver.WrapError(driver.CodeBackendAPI, req.Method+" "+req.Path, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// DoJSON sends in as JSON and decodes the response body into out. Statuses other than 2xx are errors:
// 401 and 403 are Auth errors, 404 is NotFound.
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, in, out interface{}) (*Response, error) {
	req := &Request{Method: method, Path: path, Query: query, Header: http.Header{"Accept": {"application/json"}}}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, driver.WrapError(driver.CodeInvalidInput, method+" "+path, err)
		}
		req.Body = b
		req.ContentType = "application/json"
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, StatusError(method+" "+path, resp)
	}
	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err = json.Unmarshal(resp.Body, out); err != nil {
			return resp, driver.WrapError(driver.CodeBackendAPI, method+" "+path, fmt.Errorf("invalid response: %w", err))
		}
	}
	return resp, nil
}

// StatusError classifies an HTTP error status
func StatusError(op string, resp *Response) error {
	code := driver.CodeBackendAPI
	switch resp.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = driver.CodeAuth
	case http.StatusNotFound:
		code = driver.CodeNotFound
	case http.StatusConflict, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		code = driver.CodeBusy
	case http.StatusBadRequest:
		code = driver.CodeInvalidInput
	}
	msg := strings.TrimSpace(string(resp.Body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return &driver.Error{Code: code, Op: op, VendorCode: fmt.Sprintf("%d", resp.Status), Message: msg}
}
