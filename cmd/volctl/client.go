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


package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/ws"
	httptransport "github.com/go-openapi/runtime/client"
)

// ClientArgs specifies the arguments to create a volume service client
type ClientArgs struct {
	Host              string
	Port              int
	TLSCertificate    string
	TLSCertificateKey string
	TLSCACertificate  string
	TLSServerName     string
	ForceTLS          bool // use TLS even if Certificate and Key are not specified
	Insecure          bool
	Debug             bool
}

// Client is a minimal client of the volume service REST API
type Client struct {
	BaseURL        string
	Token          string
	ObjectVersions string
	Debug          bool
	httpClient     *http.Client
	tlsConfig      *tls.Config
}

// APIError is a fault returned by the service
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.StatusCode, e.Message)
}

// NewClient returns a client
func NewClient(args *ClientArgs) (*Client, error) {
	if args.Host == "" {
		return nil, errors.New("missing host name")
	}
	c := &Client{Debug: args.Debug}
	switch {
	case args.TLSCertificate != "" && args.TLSCertificateKey != "" || args.ForceTLS:
		tlsClientOpts := httptransport.TLSClientOptions{
			Certificate: args.TLSCertificate,
			Key:         args.TLSCertificateKey,
			CA:          args.TLSCACertificate,
			ServerName:  args.TLSServerName,
		}
		if args.ForceTLS && (args.TLSCertificate == "" || args.TLSCertificateKey == "") {
			tlsClientOpts.Certificate, tlsClientOpts.Key = "", ""
		}
		if args.Insecure {
			tlsClientOpts.InsecureSkipVerify = true
			tlsClientOpts.ServerName = "" // if ServerName is set, InsecureSkipVerify is ignored
		}
		var err error
		if c.tlsConfig, err = httptransport.TLSClientAuth(tlsClientOpts); err != nil {
			return nil, err
		}
		c.httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: c.tlsConfig, Proxy: http.ProxyFromEnvironment}}
		c.BaseURL = fmt.Sprintf("https://%s:%d", args.Host, args.Port)
	case args.TLSCertificate != "" || args.TLSCertificateKey != "":
		return nil, errors.New("TLS certificate and TLS key must be specified together")
	default:
		c.httpClient = &http.Client{Transport: http.DefaultTransport}
		c.BaseURL = fmt.Sprintf("http://%s:%d", args.Host, args.Port)
	}
	c.httpClient.Timeout = 5 * time.Minute
	return c, nil
}

// Do issues a request and decodes a successful JSON response into out, which may be nil.
// Faults are returned as *APIError.
func (c *Client) Do(method, path string, query url.Values, body interface{}, out interface{}) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set(api.AuthTokenHeader, c.Token)
	}
	if c.ObjectVersions != "" {
		req.Header.Set(api.ObjectVersionsHeader, c.ObjectVersions)
	}
	if c.Debug {
		b, _ := httputil.DumpRequestOut(req, true)
		fmt.Fprintf(debugWriter, "%s\n", b)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if c.Debug {
		fmt.Fprintf(debugWriter, "%s\n%s\n", resp.Status, b)
	}
	if resp.StatusCode >= 300 {
		return resp, faultError(resp, b)
	}
	if out != nil && len(b) > 0 {
		if err = json.Unmarshal(b, out); err != nil {
			return resp, fmt.Errorf("invalid response: %s", err.Error())
		}
	}
	return resp, nil
}

func faultError(resp *http.Response, body []byte) error {
	f := api.Fault{}
	if err := json.Unmarshal(body, &f); err == nil {
		for name, fd := range f {
			if fd != nil {
				return &APIError{StatusCode: resp.StatusCode, Name: name, Message: fd.Message}
			}
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Name: http.StatusText(resp.StatusCode), Message: string(bytes.TrimSpace(body))}
}

// Dialer returns a websocket dialer with the TLS configuration of the client
func (c *Client) Dialer() ws.Dialer {
	return ws.NewDialer(c.tlsConfig)
}

// WatcherURL returns the websocket URL of a watcher
func (c *Client) WatcherURL(id string) string {
	return ws.URL(c.BaseURL) + "/v3/notifications/watchers/" + id
}

// AuthHeaders returns the headers required to connect to a watcher
func (c *Client) AuthHeaders() http.Header {
	hdr := http.Header{}
	if c.Token != "" {
		hdr.Set(api.AuthTokenHeader, c.Token)
	}
	return hdr
}
