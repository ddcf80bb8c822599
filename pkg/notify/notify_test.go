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
	"testing"
	"time"

	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/stretchr/testify/assert"
)

type chanWatcher struct {
	events chan *Event
	quit   chan struct{}
	retErr error
}

func newChanWatcher() *chanWatcher {
	return &chanWatcher{events: make(chan *Event, 10), quit: make(chan struct{})}
}

func (cw *chanWatcher) EventNotify(ct CallbackType, ev *Event) error {
	if ct == WatcherQuitting {
		close(cw.quit)
		return nil
	}
	cw.events <- ev
	return cw.retErr
}

func (cw *chanWatcher) next(t *testing.T) *Event {
	select {
	case ev := <-cw.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	return nil
}

func waitFor(cond func() bool) bool {
	for i := 0; i < 500; i++ {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func volEvent(id, action, phase string) *Event {
	return &Event{
		EventType:    EventType("volume", action, phase),
		ResourceType: "volume",
		ResourceID:   id,
		Scope:        map[string]string{"host": "h1@b1", "status": "available"},
	}
}

func TestEvent(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("volume.create.start", EventType("volume", "create", PhaseStart))

	ev := volEvent("v1", "create", PhaseEnd)
	assert.NoError(ev.Validate())
	assert.Equal(PriorityInfo, ev.Priority)
	ev.cook()
	assert.Equal("host:h1@b1 status:available", ev.scopeS)
	assert.Equal("volume/v1", ev.Resource())
	ev.Scope = nil
	assert.Empty(ev.cook().scopeS)

	tcs := []*Event{
		{},
		{EventType: "volume", ResourceType: "volume"},
		{EventType: "Volume.Create", ResourceType: "volume"},
		{EventType: "volume.create.end"},
	}
	for i, tc := range tcs {
		assert.Regexp("invalid or missing", tc.Validate(), "[%d]", i)
	}
	ev = volEvent("v1", "create", PhaseError)
	ev.Priority = "CRITICAL"
	assert.Regexp("invalid priority", ev.Validate())
	ev.Priority = PriorityError
	assert.NoError(ev.Validate())
}

func TestManager(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	m, err := NewManager(nil)
	assert.Error(err)
	assert.Nil(m)
	m, err = NewManager(&ManagerArgs{PublisherID: "volume.h1", Log: tl.Logger()})
	assert.NoError(err)
	assert.Equal(ActivationLimitDefault, m.ActivationLimit)
	assert.Equal(WSPingPeriodDefault, m.WSPingPeriod)

	// invalid watchers
	cw := newChanWatcher()
	_, err = m.Watch(nil, cw)
	assert.Regexp("invalid arguments", err)
	_, err = m.Watch(&WatcherArgs{}, nil)
	assert.Regexp("invalid arguments", err)
	_, err = m.Watch(&WatcherArgs{Matchers: []*Matcher{{}}}, cw)
	assert.Regexp(`\[0\] no patterns specified`, err)
	_, err = m.Watch(&WatcherArgs{Matchers: []*Matcher{{EventTypePattern: "x"}, nil}}, cw)
	assert.Regexp(`\[1\] no patterns specified`, err)
	_, err = m.Watch(&WatcherArgs{Matchers: []*Matcher{{EventTypePattern: "x", ScopePattern: "("}}}, cw)
	assert.Regexp(`\[0\]scope_pattern: error parsing regexp`, err)
	assert.Empty(m.watchers)

	// matching
	id, err := m.Watch(&WatcherArgs{
		Name: "test",
		Matchers: []*Matcher{
			{EventTypePattern: `^volume\.create\.`, ScopePattern: "host:h1@"},
			{ResourcePattern: "^snapshot/s1$"},
		},
	}, cw)
	assert.NoError(err)
	assert.NotEmpty(id)
	all := newChanWatcher()
	_, err = m.Watch(&WatcherArgs{Name: "all"}, all)
	assert.NoError(err)
	assert.Equal(2, m.GetStats().NumActiveWatchers)

	assert.Error(m.Notify(&Event{}))
	other := volEvent("v1", "create", PhaseStart)
	other.Scope["host"] = "h2@b1"
	assert.NoError(m.Notify(other))
	assert.NoError(m.Notify(volEvent("v1", "delete", PhaseStart)))
	assert.NoError(m.Notify(volEvent("v1", "create", PhaseEnd)))
	assert.NoError(m.Notify(&Event{EventType: "snapshot.create.end", ResourceType: "snapshot", ResourceID: "s1"}))
	ev := cw.next(t)
	assert.Equal("volume.create.end", ev.EventType)
	assert.Equal("volume.h1", ev.PublisherID)
	assert.NotZero(ev.Timestamp)
	ev2 := cw.next(t)
	assert.Equal("snapshot/s1", ev2.Resource())
	assert.Equal(ev.Ordinal+1, ev2.Ordinal)
	for i := 0; i < 4; i++ {
		all.next(t)
	}
	assert.Empty(cw.events)
	assert.Equal(4, m.GetStats().NumEvents)

	// terminate one
	m.TerminateWatcher("foo")
	m.TerminateWatcher(id)
	select {
	case <-cw.quit:
	case <-time.After(5 * time.Second):
		assert.Fail("watcher did not quit")
	}
	assert.True(waitFor(func() bool { return m.GetStats().NumActiveWatchers == 1 }))

	// callback error terminates the watcher
	all.retErr = fmt.Errorf("callback-error")
	assert.NoError(m.Notify(volEvent("v2", "create", PhaseStart)))
	all.next(t)
	assert.True(waitFor(func() bool { return m.GetStats().NumActiveWatchers == 0 }))
	assert.Equal(1, tl.CountPattern("callback error: callback-error"))
	s := m.GetStats()
	assert.Equal(2, s.NumWatchersActivated)
	assert.Regexp(`"NumEvents":5`, s.String())
}

func TestWatcherExpiry(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	m, err := NewManager(&ManagerArgs{Log: tl.Logger(), ActivationLimit: time.Millisecond})
	assert.NoError(err)
	id, err := m.CreateWebSocketWatcher(&WatcherArgs{})
	assert.NoError(err)
	assert.Len(m.watchers, 1)
	assert.False(m.watchers[0].active)
	time.Sleep(5 * time.Millisecond)
	assert.Nil(m.activateWatcher(id))
	assert.Empty(m.watchers)
	assert.Equal(1, tl.CountPattern("expired"))

	// TerminateAllWatchers removes inactive watchers and waits for active ones
	m.ActivationLimit = time.Hour
	_, err = m.CreateWebSocketWatcher(&WatcherArgs{})
	assert.NoError(err)
	cw := newChanWatcher()
	_, err = m.Watch(&WatcherArgs{}, cw)
	assert.NoError(err)
	assert.Len(m.watchers, 2)
	m.TerminateAllWatchers()
	assert.Empty(m.watchers)
	<-cw.quit
}
