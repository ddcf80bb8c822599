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
	"fmt"

	"github.com/go-ini/ini"
	"golang.org/x/crypto/bcrypt"
)

// UsersSection is the users file section that maps user names to bcrypt password hashes
const UsersSection = "users"

// loadUsers reads the API users file
func loadUsers(file string) (map[string]string, error) {
	f, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("users file: %w", err)
	}
	sec, err := f.GetSection(UsersSection)
	if err != nil {
		return nil, fmt.Errorf("users file %s: section [%s] not found", file, UsersSection)
	}
	users := sec.KeysHash()
	if len(users) == 0 {
		return nil, fmt.Errorf("users file %s: no users", file)
	}
	for name, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("users file %s: user %s: %s", file, name, err.Error())
		}
	}
	return users, nil
}
