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


package testutils

import (
	"fmt"
	"regexp"
	"testing"

	logging "github.com/op/go-logging"
)

// TestLogger captures go-logging records in memory for use in UTs
type TestLogger struct {
	t            *testing.T
	logger       *logging.Logger
	lbe          *logging.MemoryBackend
	lastID       uint64
	LogToConsole bool
}

// NewTestLogger returns a test logger. It replaces the global go-logging backend.
func NewTestLogger(t *testing.T) *TestLogger {
	lbe := logging.InitForTesting(logging.DEBUG)
	logging.SetFormatter(logging.MustStringFormatter("%{id} %{shortfile} %{level} %{message}"))
	return &TestLogger{
		t:      t,
		lbe:    lbe,
		logger: logging.MustGetLogger(""),
	}
}

// Logger returns the logger
func (tl *TestLogger) Logger() *logging.Logger {
	return tl.logger
}

// Flush sends records not yet flushed to the test log, or to the console if LogToConsole is set
func (tl *TestLogger) Flush() {
	if tl.LogToConsole {
		tl.dump(func(s string) { fmt.Println(s) })
		return
	}
	tl.dump(func(s string) { tl.t.Log(s) })
}

// Iterate calls cb on every record
func (tl *TestLogger) Iterate(cb func(uint64, string)) {
	for n := tl.lbe.Head(); n != nil; n = n.Next() {
		cb(n.Record.ID, n.Record.Formatted(2))
	}
}

// CountPattern counts the un-flushed records matching a pattern without changing the flush position
func (tl *TestLogger) CountPattern(rePattern string) int {
	re := regexp.MustCompile(rePattern)
	lastID := tl.lastID
	count := 0
	tl.dump(func(s string) {
		if re.MatchString(s) {
			count++
		}
	})
	tl.lastID = lastID
	return count
}

func (tl *TestLogger) dump(show func(string)) {
	showing := tl.lastID == 0
	for n := tl.lbe.Head(); n != nil; n = n.Next() {
		if !showing {
			showing = n.Record.ID == tl.lastID
			continue
		}
		show(n.Record.Formatted(2))
		tl.lastID = n.Record.ID
	}
}
