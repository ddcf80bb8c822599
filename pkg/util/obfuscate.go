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


// The encoding follows the Jetty password obfuscation scheme
// (org.eclipse.jetty.util.security.Password, EPL-1.0 / Apache-2.0).

package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ObfuscatedPrefix marks an obfuscated secret in configuration files
const ObfuscatedPrefix = "OBF:"

// Obfuscate hides a secret such as an array password so it is not stored in clear text in an INI file.
// This is not encryption. The empty string is returned unchanged.
func Obfuscate(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	var buf strings.Builder
	buf.WriteString(ObfuscatedPrefix)
	for i, b1 := range b {
		b2 := b[len(b)-(i+1)]
		i0 := (255+int(b1)+int(b2))*512 + (255 + int(b1) - int(b2))
		buf.WriteString(strconv.FormatInt(int64(i0), 36))
	}
	return buf.String()
}

// RevealSecret returns the clear text form of a secret; values without the prefix are returned as-is
func RevealSecret(s string) (string, error) {
	if !strings.HasPrefix(s, ObfuscatedPrefix) {
		return s, nil
	}
	s = strings.TrimPrefix(s, ObfuscatedPrefix)
	if len(s)%4 != 0 {
		return "", fmt.Errorf("invalid obfuscated secret")
	}
	var buf strings.Builder
	for i := 0; i < len(s); i += 4 {
		i0, err := strconv.ParseInt(s[i:i+4], 36, 0)
		if err != nil {
			return "", fmt.Errorf("invalid obfuscated secret: %w", err)
		}
		buf.WriteByte(byte((i0/512 + i0%512 - 510) / 2))
	}
	return buf.String(), nil
}
