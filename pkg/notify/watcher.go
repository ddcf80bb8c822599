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
	"fmt"
	"regexp"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// matcher is a compiled Matcher
type matcher struct {
	reEventType *regexp.Regexp
	reResource  *regexp.Regexp
	reScope     *regexp.Regexp
	count       int
}

func (wM *matcher) match(ev *Event) bool {
	matches := 0
	if wM.reEventType != nil && wM.reEventType.MatchString(ev.EventType) {
		matches++
	}
	if wM.reResource != nil && wM.reResource.MatchString(ev.Resource()) {
		matches++
	}
	if wM.reScope != nil && wM.reScope.MatchString(ev.scopeS) {
		matches++
	}
	return matches == wM.count
}

// watcher is a client interested in events.
// Locking:
//  - The watcher list and each watcher's matchers and active flag are protected by the manager mutex.
//  - The delivery queue is protected by the watcher mutex, which is never held during delivery.
//  - The manager mutex is obtained before the watcher mutex.
//  - The terminate flag is never cleared once set.
type watcher struct {
	m              *Manager
	client         Watcher
	id             string
	name           string
	activateByTime time.Time
	active         bool
	matchers       []matcher
	mux            sync.Mutex
	cond           *sync.Cond
	terminate      bool
	evQ            []*Event
}

// newWatcher compiles the patterns of a watcher and registers it inactive
func (m *Manager) newWatcher(args *WatcherArgs, client Watcher) (string, error) {
	if args == nil || client == nil {
		return "", fmt.Errorf("invalid arguments")
	}
	w := &watcher{}
	w.init(m, client)
	w.name = args.Name
	m.Log.Debugf("New watcher %s (%s)", w.name, w.id)
	if err := w.parseArgs(args); err != nil {
		return "", err
	}
	m.mux.Lock()
	m.watchers = append(m.watchers, w)
	m.mux.Unlock()
	return w.id, nil
}

func (w *watcher) init(m *Manager, client Watcher) *watcher {
	w.m = m
	w.client = client
	w.id = uuid.NewV4().String()
	w.activateByTime = time.Now().Add(m.ActivationLimit)
	w.cond = sync.NewCond(&w.mux)
	w.evQ = make([]*Event, 0, 8)
	return w
}

func (w *watcher) parseArgs(args *WatcherArgs) error {
	w.matchers = make([]matcher, len(args.Matchers))
	var err error
	for i, mM := range args.Matchers {
		if mM == nil {
			return fmt.Errorf("[%d] no patterns specified", i)
		}
		cnt := 0
		wM := &w.matchers[i]
		which := ""
		if mM.EventTypePattern != "" {
			wM.reEventType, err = regexp.Compile(mM.EventTypePattern)
			which = "event_type_pattern"
			cnt++
		}
		if err == nil && mM.ResourcePattern != "" {
			wM.reResource, err = regexp.Compile(mM.ResourcePattern)
			which = "resource_pattern"
			cnt++
		}
		if err == nil && mM.ScopePattern != "" {
			wM.reScope, err = regexp.Compile(mM.ScopePattern)
			which = "scope_pattern"
			cnt++
		}
		if err != nil {
			return fmt.Errorf("[%d]%s: %s", i, which, err.Error())
		}
		if cnt == 0 {
			return fmt.Errorf("[%d] no patterns specified", i)
		}
		wM.count = cnt
	}
	return nil
}

func (w *watcher) match(ev *Event) bool {
	if len(w.matchers) == 0 {
		return true
	}
	for i := range w.matchers {
		if w.matchers[i].match(ev) {
			return true
		}
	}
	return false
}

// deliverEvents runs in its own goroutine until the watcher terminates, then removes the watcher
func (w *watcher) deliverEvents() {
	for {
		w.mux.Lock()
		for !w.terminate && len(w.evQ) == 0 {
			w.cond.Wait()
		}
		var ev *Event
		quit := w.terminate
		if !quit {
			ev = w.evQ[0]
			copy(w.evQ[0:], w.evQ[1:])
			w.evQ[len(w.evQ)-1] = nil
			w.evQ = w.evQ[:len(w.evQ)-1]
		}
		w.mux.Unlock()
		if quit {
			w.m.Log.Debugf("WATCHER %s %s: Quitting", w.name, w.id)
			w.client.EventNotify(WatcherQuitting, nil)
			break
		}
		w.m.Log.Debugf("WATCHER %s %s ⇒ EVENT %d", w.name, w.id, ev.Ordinal)
		if err := w.client.EventNotify(WatcherEvent, ev); err != nil {
			w.m.Log.Errorf("Watcher %s: callback error: %s", w.id, err.Error())
			break
		}
	}
	w.m.removeWatcher(w)
}

// mustTerminate sets the termination flag of the watcher and signals the delivery goroutine
func (w *watcher) mustTerminate() {
	w.mux.Lock()
	defer w.mux.Unlock()
	if !w.terminate {
		w.m.Log.Debugf("%s %s mustTerminate", w.name, w.id)
		w.terminate = true
		w.cond.Signal()
	}
}
