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


package util

import (
	"strings"
	"testing"
	"time"

	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/stretchr/testify/assert"
)

func TestSizes(t *testing.T) {
	assert := assert.New(t)

	tcs := map[int64]string{
		0:                   "0B",
		1:                   "1B",
		1024:                "1KiB",
		1025:                "1025B",
		3 * 1024 * 1024:     "3MiB",
		GiBToBytes(10):      "10GiB",
		GiBToBytes(2048):    "2TiB",
		-GiBToBytes(1):      "-1GiB",
		GiBToBytes(1) + 512: "1073742336B",
	}
	for in, out := range tcs {
		assert.Equal(out, SizeBytesToString(in), "size %d", in)
	}

	assert.EqualValues(1, BytesToGiB(1))
	assert.EqualValues(1, BytesToGiB(GiBToBytes(1)))
	assert.EqualValues(2, BytesToGiB(GiBToBytes(1)+1))
	assert.EqualValues(2097152, GiBToSectors(1))
	assert.EqualValues(1, SectorsToGiB(2097152))
	assert.EqualValues(2, SectorsToGiB(2097153))
	assert.Equal(1.5, SectorsToGiBFloat(3145728))
	assert.Equal(0.5, BytesToGiBFloat(GiBToBytes(1)/2))
	assert.EqualValues(4096, RoundUpBytes(1, 4096))
}

func TestStrings(t *testing.T) {
	assert := assert.New(t)

	m := map[string]int{"b": 1, "a": 2, "c": 3}
	assert.Equal([]string{"a", "b", "c"}, SortedStringKeys(m))
	assert.True(Contains([]string{"x", "y"}, "y"))
	assert.False(Contains(nil, "y"))
	assert.Equal([]string{"a", "b"}, SplitList(" a, ,b ,"))
	assert.Empty(SplitList(""))
	assert.Equal("10000090fa1b2c3d", NormalizeWWN("10:00:00:90:FA:1B:2C:3D"))
	assert.Equal("10:00:00:90:fa:1b:2c:3d", ColonWWN("10000090FA1B2C3D"))
	assert.Equal("abc", ColonWWN("abc"))
}

func TestObfuscate(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{"", "a", "password", "Sup3r$ecret!", strings.Repeat("x", 63)} {
		o := Obfuscate(s)
		if s != "" {
			assert.True(strings.HasPrefix(o, ObfuscatedPrefix))
			assert.NotContains(o, s)
		}
		r, err := RevealSecret(o)
		assert.NoError(err)
		assert.Equal(s, r)
	}
	r, err := RevealSecret("clear")
	assert.NoError(err)
	assert.Equal("clear", r)
	_, err = RevealSecret("OBF:abc")
	assert.Regexp("invalid obfuscated", err)
	_, err = RevealSecret("OBF:!!!!")
	assert.Regexp("invalid obfuscated", err)
}

func TestPanicLogger(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	PanicLogger(tl.Logger(), func() {})
	assert.Equal(0, tl.CountPattern("PANIC"))

	var got interface{}
	done := make(chan struct{})
	go PanicLogger(tl.Logger(), func() {
		var m map[string]int
		m["x"] = 1
	}, func(r interface{}, b []byte) {
		got = r
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		assert.Fail("recover not called")
	}
	assert.NotNil(got)
	assert.Equal(1, tl.CountPattern("(?s)PANIC: assignment to entry in nil map"))
}
