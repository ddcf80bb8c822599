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


// Package notify distributes resource notifications, such as
// "volume.create.end", to in-process watchers and to websocket clients.
//
// Each watcher has its own delivery goroutine so a slow client does not
// delay the producer or the other watchers. A watcher created for a
// websocket client is inactive until the client connects, and is purged if
// it is not activated within the activation limit.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/ws"
	"github.com/go-openapi/strfmt"
	logging "github.com/op/go-logging"
)

// Priority values
const (
	PriorityInfo  = "INFO"
	PriorityWarn  = "WARN"
	PriorityError = "ERROR"
)

// Event phases
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
	PhaseError = "error"
)

// Event describes a change to a resource
type Event struct {
	Timestamp    strfmt.DateTime   `json:"timestamp"`
	Ordinal      int64             `json:"ordinal"`
	Priority     string            `json:"priority"`
	EventType    string            `json:"event_type"`
	PublisherID  string            `json:"publisher_id"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Scope        map[string]string `json:"scope,omitempty"`
	Payload      interface{}       `json:"payload,omitempty"`

	scopeS string
}

// EventType composes an event type such as "volume.create.start"
func EventType(resource, action, phase string) string {
	return strings.Join([]string{resource, action, phase}, ".")
}

var eventTypeRe = regexp.MustCompile(`^[a-z_]+(\.[a-z_]+)+$`)

// Validate checks a producer constructed event
func (ev *Event) Validate() error {
	if !eventTypeRe.MatchString(ev.EventType) || ev.ResourceType == "" {
		return fmt.Errorf("invalid or missing fields")
	}
	switch ev.Priority {
	case "":
		ev.Priority = PriorityInfo
	case PriorityInfo, PriorityWarn, PriorityError:
	default:
		return fmt.Errorf("invalid priority %q", ev.Priority)
	}
	return nil
}

func (ev *Event) cook() *Event {
	ev.scopeS = ""
	if len(ev.Scope) > 0 {
		sKeys := util.SortedStringKeys(ev.Scope)
		ss := make([]string, len(ev.Scope))
		for i, k := range sKeys {
			ss[i] = fmt.Sprintf("%s:%s", k, ev.Scope[k])
		}
		ev.scopeS = strings.Join(ss, " ")
	}
	return ev
}

// Resource returns "type/id", the string matched by a resource pattern
func (ev *Event) Resource() string {
	return ev.ResourceType + "/" + ev.ResourceID
}

// Notifier is implemented by event producers' sinks
type Notifier interface {
	Notify(ev *Event) error
}

// CallbackType describes the purpose of a Watcher callback
type CallbackType int

// CallbackType values
const (
	WatcherEvent CallbackType = iota
	WatcherQuitting
)

// Watcher is the interface through which events are delivered to a client
type Watcher interface {
	// EventNotify delivers an event. A returned error terminates the watcher
	// with a WatcherQuitting callback.
	EventNotify(CallbackType, *Event) error
}

// Matcher selects events. Empty patterns are not checked but at least one must be set.
type Matcher struct {
	EventTypePattern string `json:"event_type_pattern,omitempty"`
	ResourcePattern  string `json:"resource_pattern,omitempty"`
	ScopePattern     string `json:"scope_pattern,omitempty"`
}

// WatcherArgs describe a watcher. A watcher without matchers receives every event.
type WatcherArgs struct {
	Name     string     `json:"name"`
	Matchers []*Matcher `json:"matchers"`
}

// ErrWatcherNotFound is returned when a websocket watcher does not exist or is already connected
var ErrWatcherNotFound = errors.New("watcher not found")

// Ops is the interface of the notification manager
type Ops interface {
	Notifier
	Watch(args *WatcherArgs, client Watcher) (string, error)
	CreateWebSocketWatcher(args *WatcherArgs) (string, error)
	TerminateWatcher(id string)
	TerminateAllWatchers()
	GetStats() Stats
}

// Defaults
const (
	ActivationLimitDefault = 30 * time.Second
	WSPingPeriodDefault    = 45 * time.Second
	WSWriteDeadline        = 10 * time.Second
)

// ManagerArgs contains arguments to create a Manager
type ManagerArgs struct {
	WSKeepAlive     bool          `long:"keep-websockets-alive" description:"Periodically ping notification websocket clients. Required if a proxy is used."`
	WSPingPeriod    time.Duration `long:"websocket-ping-period" description:"Notification websocket ping period" default:"45s"`
	ActivationLimit time.Duration `long:"watcher-activation-limit" description:"Time allowed for a websocket client to connect to a new watcher" default:"30s"`
	PublisherID     string
	Log             *logging.Logger
}

// Stats contains manager statistics
type Stats struct {
	NumWatchersActivated int
	NumActiveWatchers    int
	NumEvents            int
}

func (s Stats) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Manager dispatches events to watchers
type Manager struct {
	ManagerArgs
	mux            sync.Mutex
	cond           *sync.Cond
	upgrader       ws.Upgrader
	watchers       []*watcher
	evCounter      int64
	activatedCount int
	eventCount     int
}

var _ = Ops(&Manager{})

// NewManager returns a new Manager
func NewManager(args *ManagerArgs) (*Manager, error) {
	if args == nil || args.Log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	m := &Manager{ManagerArgs: *args}
	if m.ActivationLimit <= 0 {
		m.ActivationLimit = ActivationLimitDefault
	}
	if m.WSPingPeriod <= 0 {
		m.WSPingPeriod = WSPingPeriodDefault
	}
	m.watchers = make([]*watcher, 0)
	m.upgrader = ws.NewUpgrader()
	m.cond = sync.NewCond(&m.mux)
	m.evCounter = time.Now().Unix()
	return m, nil
}

// Notify assigns a timestamp and an ordinal to the event and queues it for the matching watchers.
// It does not block on delivery.
func (m *Manager) Notify(ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.PublisherID == "" {
		ev.PublisherID = m.PublisherID
	}
	ev.cook()
	m.mux.Lock()
	defer m.mux.Unlock()
	ev.Timestamp = strfmt.DateTime(time.Now())
	ev.Ordinal = m.evCounter
	m.evCounter++
	m.eventCount++
	m.Log.Debugf("EVENT %d [%s] [%s] [%s]", ev.Ordinal, ev.EventType, ev.Resource(), ev.scopeS)
	for _, w := range m.watchers {
		if w.active && w.match(ev) {
			w.mux.Lock()
			w.evQ = append(w.evQ, ev)
			w.cond.Signal()
			w.mux.Unlock()
		}
	}
	return nil
}

// Watch registers an in-process client. Events are delivered until the client returns an
// error or the watcher is terminated.
func (m *Manager) Watch(args *WatcherArgs, client Watcher) (string, error) {
	if args == nil || client == nil {
		return "", fmt.Errorf("invalid arguments")
	}
	id, err := m.newWatcher(args, client)
	if err == nil {
		w := m.activateWatcher(id)
		go util.PanicLogger(m.Log, w.deliverEvents)
	}
	return id, err
}

// activateWatcher activates a watcher if not already terminated and not already activated
func (m *Manager) activateWatcher(id string) *watcher {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.purgeExpiredInLock()
	for _, w := range m.watchers {
		if w.id == id && !w.active && !w.terminate {
			w.active = true
			m.activatedCount++
			return w
		}
	}
	return nil
}

func (m *Manager) removeWatcher(w *watcher) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.Log.Debugf("Removing watcher %s", w.id)
	m.removeWatcherInLock(w)
}

func (m *Manager) removeWatcherInLock(w *watcher) {
	w.active = false
	for i, wp := range m.watchers {
		if w == wp {
			copy(m.watchers[i:], m.watchers[i+1:])
			m.watchers[len(m.watchers)-1] = nil
			m.watchers = m.watchers[:len(m.watchers)-1]
			break
		}
	}
	w.mux.Lock()
	w.terminate = true
	w.evQ = nil
	w.cond.Signal()
	w.mux.Unlock()
	m.cond.Broadcast()
}

// purgeExpiredInLock removes inactive watchers past their activation time
func (m *Manager) purgeExpiredInLock() {
	now := time.Now()
	expired := make([]*watcher, 0, 4)
	for _, w := range m.watchers {
		if !w.active && !w.terminate && now.After(w.activateByTime) {
			m.Log.Debugf("Watcher %s expired", w.id)
			expired = append(expired, w)
		}
	}
	for _, w := range expired {
		m.removeWatcherInLock(w)
	}
}

// TerminateWatcher schedules the termination of an active watcher
func (m *Manager) TerminateWatcher(id string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	for _, w := range m.watchers {
		if w.id == id && w.active {
			w.mustTerminate()
			break
		}
	}
}

// TerminateAllWatchers terminates all watchers. It blocks until their delivery goroutines exit.
func (m *Manager) TerminateAllWatchers() {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.Log.Infof("Terminating all watchers")
	inactive := make([]*watcher, 0, 4)
	for _, w := range m.watchers {
		if !w.active && !w.terminate {
			inactive = append(inactive, w)
		}
	}
	for _, w := range inactive {
		m.removeWatcherInLock(w)
	}
	for _, w := range m.watchers {
		w.mustTerminate()
	}
	for len(m.watchers) > 0 {
		m.Log.Debugf("Waiting for %d watchers to terminate", len(m.watchers))
		m.cond.Wait()
	}
	m.Log.Infof("All watchers terminated")
}

// GetStats returns statistical information
func (m *Manager) GetStats() Stats {
	m.mux.Lock()
	defer m.mux.Unlock()
	numActive := 0
	for _, w := range m.watchers {
		if w.active {
			numActive++
		}
	}
	return Stats{
		NumWatchersActivated: m.activatedCount,
		NumActiveWatchers:    numActive,
		NumEvents:            m.eventCount,
	}
}
