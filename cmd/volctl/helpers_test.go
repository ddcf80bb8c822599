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
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
)

func TestRemainingArgs(t *testing.T) {
	assert := assert.New(t)

	c := &remainingArgsCatcher{}
	assert.NoError(c.verifyNoRemainingArgs())
	c.RemainingArgs.Rest = []string{"a", "b"}
	assert.Regexp("unexpected arguments: \\[a b\\]", c.verifyNoRemainingArgs())
	assert.Regexp("unexpected arguments: \\[b\\]", c.verifyNRemainingArgs(1))
	assert.Regexp("expected: 3", c.verifyNRemainingArgs(3))
	assert.NoError(c.verifyNRemainingArgs(2))

	r := &requiredIDRemainingArgsCatcher{}
	assert.Regexp("expected --id", r.verifyRequiredIDAndNoRemainingArgs())
	r.RemainingArgs.Rest = []string{"id1"}
	assert.NoError(r.verifyRequiredIDAndNoRemainingArgs())
	assert.Equal("id1", r.ID)
	assert.Regexp("unexpected arguments", r.verifyRequiredIDAndNoRemainingArgs())
	r.RemainingArgs.Rest = nil
	assert.NoError(r.verifyRequiredIDAndNoRemainingArgs())
}

func TestParseSize(t *testing.T) {
	assert := assert.New(t)

	tcs := map[string]int64{
		"1":       1,
		"10":      10,
		"1GiB":    1,
		"1g":      1,
		"512MiB":  1,
		"1025MiB": 2,
		"2T":      2048,
		"1.5GiB":  2,
	}
	for s, gib := range tcs {
		n, err := parseSizeGiB(s)
		assert.NoError(err, s)
		assert.Equal(gib, n, s)
	}
	for _, s := range []string{"0", "-1", "", "x", "10Q"} {
		_, err := parseSizeGiB(s)
		assert.Regexp("invalid size", err, s)
	}

	assert.Equal("1GiB", sizeGiBString(1))
	assert.Equal("2TiB", sizeGiBString(2048))
}

func TestTimeString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("", timeString(strfmt.DateTime{}))
	now := time.Now()
	assert.Equal(now.Local().Format(time.RFC3339), timeString(strfmt.DateTime(now)))
}

func TestJoinMap(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("", joinMap(nil))
	assert.Equal("a:1, b:2", joinMap(map[string]string{"b": "2", "a": "1"}))
}
