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


// Package fake provides a notify.Notifier that records events
package fake

import (
	"sync"

	"github.com/Nuvoloso/volumed/pkg/notify"
)

// Notifier records events
type Notifier struct {
	RetErr error

	mux    sync.Mutex
	events []*notify.Event
}

var _ = notify.Notifier(&Notifier{})

// Notify records the event after validating it
func (n *Notifier) Notify(ev *notify.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	n.mux.Lock()
	defer n.mux.Unlock()
	if n.RetErr != nil {
		return n.RetErr
	}
	n.events = append(n.events, ev)
	return nil
}

// Events returns the recorded events
func (n *Notifier) Events() []*notify.Event {
	n.mux.Lock()
	defer n.mux.Unlock()
	return append([]*notify.Event{}, n.events...)
}

// EventTypes returns the types of the recorded events, optionally only those of one resource
func (n *Notifier) EventTypes(resourceID string) []string {
	res := []string{}
	for _, ev := range n.Events() {
		if resourceID == "" || ev.ResourceID == resourceID {
			res = append(res, ev.EventType)
		}
	}
	return res
}

// Reset discards the recorded events
func (n *Notifier) Reset() {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.events = nil
}
