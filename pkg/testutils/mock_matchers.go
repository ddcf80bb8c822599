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
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/golang/mock/gomock"
)

type ctxTimeoutMatcher struct {
	notBefore time.Time
}

// NewCtxTimeoutMatcher matches a context whose deadline is at least timeout from now.
// Call it before the code under test creates its context.
func NewCtxTimeoutMatcher(timeout time.Duration) gomock.Matcher {
	return &ctxTimeoutMatcher{notBefore: time.Now().Add(timeout)}
}

func (m *ctxTimeoutMatcher) Matches(x interface{}) bool {
	ctx, ok := x.(context.Context)
	if !ok || ctx == nil {
		return false
	}
	dl, ok := ctx.Deadline()
	return ok && !dl.Before(m.notBefore)
}

func (m *ctxTimeoutMatcher) String() string {
	return fmt.Sprintf("ctx deadline not before %s", m.notBefore.Format(time.RFC3339Nano))
}

// ArgMatcher is a predicate based matcher usable with both gomock and go-sqlmock
type ArgMatcher struct {
	pred func(interface{}) bool
	desc string
}

// NewArgMatcher returns an ArgMatcher
func NewArgMatcher(desc string, pred func(interface{}) bool) *ArgMatcher {
	return &ArgMatcher{pred: pred, desc: desc}
}

// Matches implements gomock.Matcher
func (m *ArgMatcher) Matches(x interface{}) bool {
	return m.pred(x)
}

// Match implements sqlmock.Argument
func (m *ArgMatcher) Match(v driver.Value) bool {
	return m.pred(v)
}

func (m *ArgMatcher) String() string {
	return m.desc
}
