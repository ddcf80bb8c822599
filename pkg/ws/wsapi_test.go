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


package ws

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestWrappers(t *testing.T) {
	assert := assert.New(t)

	u := &websocket.Upgrader{}
	var ui Upgrader
	assert.NotPanics(func() { ui = WrapUpgrader(u) })
	assert.Equal(u, ui.Object())
	errCalled := false
	u.Error = func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		errCalled = true
	}
	r := &http.Request{Method: "NOT_GET"}
	_, err := ui.Upgrade(nil, r, nil)
	assert.Error(err)
	assert.Regexp("the client is not using the websocket protocol", err)
	assert.True(errCalled)

	d := &websocket.Dialer{}
	var di Dialer
	assert.NotPanics(func() { di = WrapDialer(d) })
	assert.Equal(d, di.Object())
	_, _, err = di.DialContext(context.Background(), "", nil)
	assert.Error(err)
	assert.Regexp("malformed.*URL", err)

	tc := &tls.Config{InsecureSkipVerify: true}
	di = NewDialer(tc)
	assert.Equal(tc, di.Object().TLSClientConfig)
	assert.Equal(HandshakeTimeoutDefault, di.Object().HandshakeTimeout)

	assert.Equal("wss://h:8776/v3", URL("https://h:8776/v3"))
	assert.Equal("ws://h/v3", URL("http://h/v3"))
	assert.Equal("ws://h", URL("ws://h"))
}

func TestEcho(t *testing.T) {
	assert := assert.New(t)

	up := NewUpgrader()
	assert.True(up.Object().CheckOrigin(&http.Request{}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var v map[string]string
		if conn.ReadJSON(&v) == nil {
			conn.WriteJSON(v)
		}
	}))
	defer srv.Close()

	conn, _, err := NewDialer(nil).DialContext(context.Background(), URL(srv.URL), nil)
	if !assert.NoError(err) {
		return
	}
	defer conn.Close()
	assert.NoError(conn.WriteJSON(map[string]string{"k": "v"}))
	var got map[string]string
	assert.NoError(conn.ReadJSON(&got))
	assert.Equal("v", got["k"])
}
