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


package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/ws"
	"github.com/gorilla/websocket"
)

// wsWatcher delivers events to a websocket client
type wsWatcher struct {
	w          *watcher
	pingPeriod time.Duration
	pingCnt    int
	mux        sync.Mutex // serializes writes
	conn       ws.Conn
	ticker     *time.Ticker
}

// CreateWebSocketWatcher creates an inactive watcher. The client must connect to it with
// ServeWebSocket within the activation limit.
func (m *Manager) CreateWebSocketWatcher(args *WatcherArgs) (string, error) {
	return m.newWatcher(args, &wsWatcher{pingPeriod: m.WSPingPeriod})
}

// ServeWebSocket activates a websocket watcher, upgrades the connection and delivers events
// until the client goes away or the watcher is terminated. ErrWatcherNotFound is returned,
// with nothing written, if the watcher does not exist or is already connected.
func (m *Manager) ServeWebSocket(rw http.ResponseWriter, r *http.Request, id string) error {
	w := m.activateWatcher(id)
	var wsw *wsWatcher
	var ok bool
	if w != nil {
		wsw, ok = w.client.(*wsWatcher)
	}
	if w == nil || !ok {
		m.Log.Debugf("Watcher %s not found", id)
		return ErrWatcherNotFound
	}
	wsw.w = w
	conn, err := m.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		m.Log.Errorf("Upgrade: %s", err.Error())
		m.removeWatcher(w)
		return err
	}
	wsw.conn = conn
	if m.WSKeepAlive {
		wsw.ticker = time.NewTicker(wsw.pingPeriod)
	}
	done := make(chan struct{})
	defer func() {
		if wsw.ticker != nil {
			wsw.ticker.Stop()
		}
		close(done)
		conn.Close()
	}()
	go util.PanicLogger(m.Log, wsw.recv)
	if wsw.ticker != nil {
		go util.PanicLogger(m.Log, func() {
			for {
				select {
				case <-done:
					return
				case <-wsw.ticker.C:
					if !wsw.ping() {
						return
					}
				}
			}
		})
	}
	w.deliverEvents()
	return nil
}

// EventNotify writes the event as JSON
func (wsw *wsWatcher) EventNotify(ct CallbackType, ev *Event) error {
	wsw.mux.Lock()
	defer wsw.mux.Unlock()
	wsw.conn.SetWriteDeadline(time.Now().Add(WSWriteDeadline))
	if ct == WatcherQuitting {
		wsw.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return nil
	}
	if err := wsw.conn.WriteJSON(ev); err != nil {
		wsw.w.m.Log.Errorf("%s WriteJSON: %s", wsw.w.id, err.Error())
		return err
	}
	return nil
}

// ping keeps an idle connection open through proxies. It returns false once the watcher is terminating.
func (wsw *wsWatcher) ping() bool {
	w := wsw.w
	w.mux.Lock()
	done := w.terminate
	w.mux.Unlock()
	if done {
		return false
	}
	wsw.mux.Lock()
	defer wsw.mux.Unlock()
	wsw.pingCnt++
	wsw.conn.SetWriteDeadline(time.Now().Add(WSWriteDeadline))
	if err := wsw.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
		w.mustTerminate()
		return false
	}
	return true
}

// recv detects the client going away. It runs in its own goroutine.
func (wsw *wsWatcher) recv() {
	w := wsw.w
	wsw.conn.SetCloseHandler(wsw.closeHandler)
	wsw.conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := wsw.conn.ReadMessage(); err != nil {
			w.m.Log.Debugf("%s ReadError: %s", w.id, err.Error())
			break
		}
	}
	w.mustTerminate()
}

func (wsw *wsWatcher) closeHandler(code int, text string) error {
	w := wsw.w
	w.m.Log.Debugf("%s Close: %d", w.id, code)
	w.mustTerminate()
	return nil
}
