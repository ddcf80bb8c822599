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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/gorilla/websocket"
	"github.com/jessevdk/go-flags"
)

func init() {
	initWatcher()
}

func initWatcher() {
	parser.AddCommand("watch", "Watch for events", "Watch for volume service notification events.", &watchCmd{})
}

type watchCmd struct {
	ArgsFile      flags.Filename `short:"F" long:"args-file" description:"Name of a file containing a JSON watcher arguments object. Use this to watch for multiple event types"`
	EventType     string         `short:"E" long:"event-type-pattern" description:"Regular expression matching the event type, if args-file not specified"`
	Resource      string         `short:"R" long:"resource-pattern" description:"Regular expression matching resourceType/resourceID, if args-file not specified"`
	Scope         string         `short:"S" long:"scope-pattern" description:"Regular expression matching the scope, if args-file not specified"`
	FirstOnly     bool           `short:"1" long:"quit-on-first" description:"Quit on receipt of the first event"`
	Silent        bool           `short:"q" long:"silent" description:"Emit no output. Ignored if quit-on-first is not set"`
	LastEventFile flags.Filename `short:"L" long:"last-event-file" description:"Name of a file to which the last event received will be recorded. The file will be overwritten each time"`

	outputCmd
	remainingArgsCatcher
}

var errBreakOut = errors.New("errBreakOut")

func (c *watchCmd) Execute(args []string) error {
	var err error
	if err = c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	wa := &notify.WatcherArgs{}
	if c.ArgsFile != "" {
		if err = parseWatcherArgFile(string(c.ArgsFile), wa); err != nil {
			return err
		}
	} else {
		m := &notify.Matcher{
			EventTypePattern: c.EventType,
			ResourcePattern:  c.Resource,
			ScopePattern:     c.Scope,
		}
		if m.EventTypePattern != "" || m.ResourcePattern != "" || m.ScopePattern != "" {
			wa.Matchers = []*notify.Matcher{m}
		}
	}
	var data bytes.Buffer
	saveOutputWriter := outputWriter
	outputWriter = &data
	defer func() { outputWriter = saveOutputWriter }()
	cbf := func(ev *notify.Event) error {
		if ev == nil {
			return nil
		}
		if c.FirstOnly && c.Silent {
			return errBreakOut
		}
		data.Reset()
		switch c.format() {
		case "json":
			appCtx.EmitJSON(ev)
		case "yaml":
			appCtx.EmitYAML(ev)
		default:
			fmt.Fprintf(outputWriter, "%s %d %s %s/%s%s\n", ev.Timestamp, ev.Ordinal, ev.EventType, ev.ResourceType, ev.ResourceID, eventScopeString(ev))
		}
		var err error
		if c.LastEventFile != "" {
			err = ioutil.WriteFile(string(c.LastEventFile), data.Bytes(), 0600)
		} else {
			_, err = saveOutputWriter.Write(data.Bytes())
		}
		if err != nil {
			return err
		}
		if c.FirstOnly {
			return errBreakOut
		}
		return nil
	}
	if err = appCtx.watcher.Watch(wa, cbf); err != nil && err != errBreakOut {
		return err
	}
	return nil
}

func parseWatcherArgFile(filename string, wa *notify.WatcherArgs) error {
	content, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(content, wa); err != nil {
		return fmt.Errorf("could not parse JSON in %s: %s", filename, err.Error())
	}
	return nil
}

func eventScopeString(ev *notify.Event) string {
	if len(ev.Scope) == 0 {
		return ""
	}
	ss := make([]string, 0, len(ev.Scope))
	for _, k := range util.SortedStringKeys(ev.Scope) {
		ss = append(ss, fmt.Sprintf("%s:%s", k, ev.Scope[k]))
	}
	return " " + strings.Join(ss, " ")
}

// Watcher is the interface for Watch to enable unit testing
type Watcher interface {
	Watch(wa *notify.WatcherArgs, cb watcherCallback) error
}

type watcherCallback func(ev *notify.Event) error

// Watch establishes a watcher and invokes a callback with each event received.
// It always invokes the callback with a nil after establishing the watcher.
func (c *AppCtx) Watch(wa *notify.WatcherArgs, cb watcherCallback) error {
	if wa.Name == "" {
		wa.Name = makeWatcherName()
	}
	res := map[string]string{}
	if _, err := c.client.Do(http.MethodPost, "/v3/notifications/watchers", nil, wa, &res); err != nil {
		return err
	}
	urlS := c.client.WatcherURL(res["id"])
	conn, resp, err := c.client.Dialer().DialContext(context.Background(), urlS, c.client.AuthHeaders())
	if err != nil {
		if len(c.Verbose) > 0 && resp != nil {
			b, _ := httputil.DumpResponse(resp, true)
			fmt.Fprintf(debugWriter, "watcher dial error %q response:\n%s", urlS, string(b))
		}
		return err
	}
	defer conn.Close()
	err = cb(nil) // first call
	for err == nil {
		ev := &notify.Event{}
		if err = conn.ReadJSON(ev); err != nil {
			return err
		}
		if len(c.Verbose) > 0 {
			fmt.Fprintf(debugWriter, "%s %d %s %s%s\n", ev.Timestamp, ev.Ordinal, ev.EventType, ev.ResourceID, eventScopeString(ev))
		}
		err = cb(ev)
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
	return err
}

// makeWatcherName creates a unique name for the watcher of this process
func makeWatcherName() string {
	h, _ := os.Hostname()
	return fmt.Sprintf("%s-%d@%s", Appname, os.Getpid(), h)
}
