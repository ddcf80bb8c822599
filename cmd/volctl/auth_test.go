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
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-ini/ini"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenExpiry(t *testing.T) {
	assert := assert.New(t)

	exp := time.Now().Add(time.Hour).Unix()
	claims := api.Claims{Username: "u", StandardClaims: jwt.StandardClaims{ExpiresAt: exp}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("key"))
	assert.NoError(err)
	assert.Equal(exp, tokenExpiry(s).Unix())
	assert.True(tokenExpiry("garbage").IsZero())
}

func TestGetSetToken(t *testing.T) {
	assert := assert.New(t)
	dir, err := ioutil.TempDir("", "volctl")
	assert.NoError(err)
	defer os.RemoveAll(dir)
	savedCredFile := credFile
	defer func() { credFile = savedCredFile }()
	credFile = filepath.Join(dir, "creds.ini")

	c := &authCmd{}
	tok, err := c.getToken("h", 1, "u")
	assert.NoError(err)
	assert.Empty(tok)
	assert.Regexp("invalid host", c.setToken("", 1, "u", "t"))
	assert.Regexp("invalid host", c.setToken("a,b", 1, "u", "t"))
	assert.Regexp("invalid login", c.setToken("h", 1, "u]", "t"))
	assert.Regexp("invalid port", c.setToken("h", 0, "u", "t"))
	assert.Regexp("invalid token", c.setToken("h", 1, "u", ""))
	assert.NoError(c.setToken("h", 1, "u", "t"))

	cfg, err := ini.Load(credFile)
	assert.NoError(err)
	assert.Equal("t", cfg.Section("h,1,u").Key("token").Value())
	stat, err := os.Stat(credFile)
	assert.NoError(err)
	assert.Equal(PrivatePerm, stat.Mode().Perm())

	c = &authCmd{}
	tok, err = c.getToken("h", 1, "u")
	assert.NoError(err)
	assert.Equal("t", tok)

	// unwritable directory
	credFile = filepath.Join(dir, "nosuch", "creds.ini")
	c = &authCmd{}
	assert.Error(c.setToken("h", 1, "u", "t"))
}

func TestAuthCommands(t *testing.T) {
	assert := assert.New(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	assert.NoError(err)
	ti := &api.TokenIssuer{Secret: []byte("signing-key"), Users: map[string]string{"admin": string(hash)}}
	e := newTestEnv(t, ti)
	defer e.done()

	dir, err := ioutil.TempDir("", "volctl")
	assert.NoError(err)
	defer os.RemoveAll(dir)
	savedCredFile := credFile
	savedPasswordHook := passwordHook
	defer func() {
		credFile = savedCredFile
		passwordHook = savedPasswordHook
		outputWriter = os.Stdout
		appCtx.LoginName = ""
	}()
	credFile = filepath.Join(dir, "creds.ini")
	outputWriter = ioutil.Discard
	password := "wrong"
	passwordHook = func(int) ([]byte, error) { return []byte(password + "\n"), nil }
	server := fmt.Sprintf("%s:%d", e.host, e.port)
	section := sectionName(e.host, e.port, "admin")

	// not authenticated
	vl := &volumeListCmd{}
	assert.Regexp("\\(401\\)", vl.Execute(nil))

	lc := &authLoginCmd{}
	assert.Regexp("--login", lc.Execute(nil))
	appCtx.LoginName = "admin"
	assert.Regexp("\\(401\\)", lc.Execute(nil))

	passwordHook = func(int) ([]byte, error) { return nil, errors.New("no terminal") }
	lc = &authLoginCmd{}
	assert.Regexp("no terminal", lc.Execute(nil))

	password = "secret"
	passwordHook = func(int) ([]byte, error) { return []byte(password + "\n"), nil }
	lc = &authLoginCmd{}
	assert.NoError(lc.Execute(nil))
	assert.Equal([]string{hServer, hLoginName, hExpires}, e.te.tableHeaders)
	if assert.Len(e.te.tableData, 1) {
		assert.Equal([]string{server, "admin"}, e.te.tableData[0][:2])
		assert.NotEqual("expired", e.te.tableData[0][2])
	}
	cfg, err := ini.Load(credFile)
	assert.NoError(err)
	token := cfg.Section(section).Key("token").Value()
	assert.NotEmpty(token)
	stored := cfg.Section(section).Key("password").Value()
	assert.Regexp("^"+util.ObfuscatedPrefix, stored)
	pw, err := util.RevealSecret(stored)
	assert.NoError(err)
	assert.Equal("secret", pw)

	// the stored password is used
	passwordHook = func(int) ([]byte, error) { return nil, errors.New("not called") }
	lc = &authLoginCmd{ForgetPassword: true}
	assert.NoError(lc.Execute(nil))
	cfg, err = ini.Load(credFile)
	assert.NoError(err)
	assert.False(cfg.Section(section).HasKey("password"))

	// the stored token authenticates
	appCtx.client = nil
	assert.NoError(appCtx.InitAPI())
	assert.NoError(vl.Execute(nil))

	// list
	al := &authListCmd{}
	assert.NoError(al.Execute(nil))
	assert.Len(e.te.tableData, 1)
	assert.NoError((&authCmd{}).setToken("otherhost", 1, "admin", "garbage"))
	al = &authListCmd{}
	assert.NoError(al.Execute(nil))
	assert.Len(e.te.tableData, 1)
	al = &authListCmd{All: true}
	al.OutputFormat = "json"
	assert.NoError(al.Execute(nil))
	if ads, ok := e.te.jsonData.([]*authData); assert.True(ok) && assert.Len(ads, 2) {
		for _, ad := range ads {
			if ad.Host == "otherhost" {
				assert.True(ad.Expiry.IsZero())
			} else {
				assert.True(ad.Expiry.After(time.Now()))
			}
		}
	}

	// logout
	lo := &authLogoutCmd{StorePassword: true}
	assert.NoError(lo.Execute(nil))
	cfg, err = ini.Load(credFile)
	assert.NoError(err)
	assert.False(cfg.Section(section).HasKey("token"))
	lo = &authLogoutCmd{}
	assert.NoError(lo.Execute(nil))
	cfg, err = ini.Load(credFile)
	assert.NoError(err)
	_, err = cfg.GetSection(section)
	assert.Error(err)
	lo = &authLogoutCmd{}
	assert.NoError(lo.Execute(nil))
	appCtx.LoginName = ""
	assert.Regexp("--login", lo.Execute(nil))

	// corrupt file
	assert.NoError(ioutil.WriteFile(credFile, []byte("[bad]\ntoken = x\n"), 0600))
	al = &authListCmd{}
	assert.Regexp("corrupt credentials file", al.Execute(nil))
}
