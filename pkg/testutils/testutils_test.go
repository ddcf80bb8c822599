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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTestLogger(t *testing.T) {
	assert := assert.New(t)
	tl := NewTestLogger(t)
	log := tl.Logger()

	log.Info("first message")
	log.Warning("second message")
	assert.Equal(1, tl.CountPattern("first"))
	assert.Equal(2, tl.CountPattern("message"))
	n := 0
	tl.Iterate(func(uint64, string) { n++ })
	assert.Equal(2, n)

	lines := []string{}
	tl.dump(func(s string) { lines = append(lines, s) })
	assert.Len(lines, 2)
	assert.Equal(0, tl.CountPattern("message"), "already dumped")
	log.Error("third message")
	assert.Equal(1, tl.CountPattern("message"))
	tl.Flush()
}

func TestMatchers(t *testing.T) {
	assert := assert.New(t)

	m := NewCtxTimeoutMatcher(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(m.Matches(ctx))
	assert.False(m.Matches(context.Background()))
	assert.False(m.Matches("not a context"))
	assert.Regexp("ctx deadline", m.String())
	short, cancel2 := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel2()
	assert.False(m.Matches(short))

	am := NewArgMatcher("even", func(x interface{}) bool { v, ok := x.(int); return ok && v%2 == 0 })
	assert.True(am.Matches(2))
	assert.False(am.Match(3))
	assert.Equal("even", am.String())
}
