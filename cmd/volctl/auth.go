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
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-ini/ini"
	"golang.org/x/crypto/ssh/terminal"
)

func init() {
	initAuth()
}

func initAuth() {
	cmd, _ := parser.AddCommand("auth", "Authentication commands", "Authentication subcommands", &authCmd{})
	cmd.AddCommand("list", "List stored credentials", "List stored credentials.", &authListCmd{})
	cmd.AddCommand("login", "Log in", "Log into the volume service on a specific host and port.", &authLoginCmd{})
	cmd.AddCommand("logout", "Log out", "Log out of the volume service.", &authLogoutCmd{})

	credFileEnv = strings.ToUpper(Appname + "_CREDENTIALS_FILE")
	homeDir, _ := os.LookupEnv(eHOME)
	defCredFile = fmt.Sprintf(credFileNameTemplate, homeDir, Appname)
	var ok bool
	if credFile, ok = os.LookupEnv(credFileEnv); !ok {
		credFile = defCredFile
	}
}

type authCmd struct {
	outputCmd

	cfg *ini.File
}

// authData is the displayed form of a stored credential
type authData struct {
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	LoginName string     `json:"login"`
	Token     string     `json:"token"`
	Expiry    *time.Time `json:"expiry"`
}

var credFileNameTemplate = "%s/.volumed/%s-credentials.ini"
var credFileEnv string
var defCredFile string
var credFile string

// PrivatePerm is the FileMode that allows read and write by user only
const PrivatePerm os.FileMode = 0600

// readCredentialsFile reads the credentials file if it exists and is correctly protected
func (c *authCmd) readCredentialsFile() error {
	if c.cfg != nil {
		return nil
	}
	stat, err := os.Stat(credFile)
	if err == nil && stat.Mode().Perm() != PrivatePerm {
		return errors.New("incorrect credentials file permissions")
	}
	c.cfg, err = ini.LoadSources(ini.LoadOptions{Loose: true, Insensitive: true}, credFile)
	return err
}

// writeCredentialsFile (re)writes the credentials file
func (c *authCmd) writeCredentialsFile() error {
	tmpFile := credFile + ".new"
	os.Remove(tmpFile) // ignore errors
	file, err := os.OpenFile(tmpFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, PrivatePerm)
	if err != nil {
		return err
	}
	_, err = c.cfg.WriteTo(file)
	err2 := file.Close()
	if err == nil {
		err = err2
	}
	if err == nil {
		err = os.Rename(tmpFile, credFile)
	}
	return err
}

func sectionName(host string, port int, login string) string {
	return fmt.Sprintf("%s,%d,%s", host, port, login)
}

// getToken gets the current token for the given [host,port,login] tuple
func (c *authCmd) getToken(host string, port int, login string) (string, error) {
	if err := c.readCredentialsFile(); err != nil {
		return "", err
	}
	return c.cfg.Section(sectionName(host, port, login)).Key("token").Value(), nil
}

// setToken sets the token for a [host,port,login] tuple, re-writing the credential file
func (c *authCmd) setToken(host string, port int, login string, token string) error {
	if err := c.readCredentialsFile(); err != nil {
		return err
	}
	if host == "" || strings.IndexAny(host, "],") >= 0 {
		return errors.New("invalid host")
	} else if login == "" || strings.IndexAny(login, "],") >= 0 {
		return errors.New("invalid login")
	} else if port <= 0 {
		return errors.New("invalid port")
	} else if token == "" {
		return errors.New("invalid token")
	}
	c.cfg.Section(sectionName(host, port, login)).Key("token").SetValue(token)
	return c.writeCredentialsFile()
}

// tokenExpiry returns the expiry claim of a token without verifying its signature.
// Unparsable tokens are reported as expired.
func tokenExpiry(token string) *time.Time {
	claims := &api.Claims{}
	expires := time.Time{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err == nil && claims.ExpiresAt > 0 {
		expires = time.Unix(claims.ExpiresAt, 0)
	}
	return &expires
}

func (c *authCmd) Emit(data []*authData) error {
	if c.format() != "table" {
		return c.emitRaw(data)
	}
	rows := make([][]string, 0, len(data))
	now := time.Now()
	for _, o := range data {
		expires := ""
		if o.Expiry != nil {
			expires = o.Expiry.Local().Format(time.RFC3339)
			if o.Expiry.Before(now) {
				expires = "expired"
			}
		}
		rows = append(rows, []string{fmt.Sprintf("%s:%d", o.Host, o.Port), o.LoginName, expires})
	}
	return appCtx.EmitTable([]string{hServer, hLoginName, hExpires}, rows, nil)
}

type authListCmd struct {
	All bool `short:"a" long:"all" description:"List all stored credentials, ignoring host, port and login name"`

	authCmd
	remainingArgsCatcher
}

func (c *authListCmd) Execute(args []string) error {
	var err error
	if err = c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	if err = c.readCredentialsFile(); err != nil {
		return err
	}
	res := []*authData{}
	for _, section := range c.cfg.Sections() {
		name := section.Name()
		if name == ini.DEFAULT_SECTION {
			continue
		}
		parts := strings.Split(name, ",")
		if len(parts) != 3 {
			return fmt.Errorf("corrupt credentials file, invalid section [%s]", name)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("corrupt credentials file, invalid section [%s]", name)
		}
		host, login := parts[0], parts[2]
		if !c.All {
			if appCtx.Host != "" && !strings.EqualFold(appCtx.Host, host) {
				continue
			}
			if appCtx.LoginName != "" && !strings.EqualFold(appCtx.LoginName, login) {
				continue
			}
			if appCtx.Port != 0 && appCtx.Port != port {
				continue
			}
		}
		ad := &authData{Host: host, Port: port, LoginName: login, Token: section.Key("token").Value()}
		if ad.Token != "" {
			ad.Expiry = tokenExpiry(ad.Token)
		}
		res = append(res, ad)
	}
	return c.Emit(res)
}

type passwordFn func(int) ([]byte, error)

var passwordHook passwordFn = terminal.ReadPassword

type authLoginCmd struct {
	Password       string `short:"p" long:"password" default-mask:"-" description:"Log in with this password. It is better to specify the password in the credential file or enter it interactively"`
	ForgetPassword bool   `short:"f" long:"forget-password" description:"Do not store the password in the credential file. If it was previously stored, it will be removed on success"`

	authCmd
	remainingArgsCatcher
}

func (c *authLoginCmd) Execute(args []string) error {
	var err error
	if err = c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	if appCtx.LoginName == "" {
		return errors.New("the required flag `--login' was not specified")
	}
	if err = c.readCredentialsFile(); err != nil {
		return err
	}
	name := sectionName(appCtx.Host, appCtx.Port, appCtx.LoginName)
	if c.Password == "" {
		c.Password, err = util.RevealSecret(c.cfg.Section(name).Key("password").Value())
		if c.Password == "" || err != nil {
			if err != nil {
				fmt.Fprintf(outputWriter, "Ignoring invalid stored password...\n")
			}
			fmt.Fprint(outputWriter, "Password: ")
			bytePassword, err := passwordHook(int(syscall.Stdin))
			fmt.Fprintln(outputWriter)
			if err != nil {
				return err
			}
			c.Password = strings.TrimSpace(string(bytePassword))
		}
	}
	tok := &api.Token{}
	creds := &api.Credentials{Username: appCtx.LoginName, Password: c.Password}
	if _, err = appCtx.client.Do("POST", "/v3/auth/tokens", nil, creds, tok); err != nil {
		return err
	}
	if c.ForgetPassword {
		c.cfg.Section(name).DeleteKey("password")
	} else {
		c.cfg.Section(name).Key("password").SetValue(util.Obfuscate(c.Password))
	}
	if err = c.setToken(appCtx.Host, appCtx.Port, appCtx.LoginName, tok.Token); err != nil {
		return err
	}
	expiry := time.Unix(tok.Expiry, 0)
	return c.Emit([]*authData{{
		Host:      appCtx.Host,
		Port:      appCtx.Port,
		LoginName: appCtx.LoginName,
		Token:     tok.Token,
		Expiry:    &expiry,
	}})
}

type authLogoutCmd struct {
	StorePassword bool `short:"s" long:"store-password" description:"Leave any previously stored password behind"`

	authCmd
	remainingArgsCatcher
}

func (c *authLogoutCmd) Execute(args []string) error {
	var err error
	if err = c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	if appCtx.LoginName == "" {
		return errors.New("the required flag `--login' was not specified")
	}
	if err = c.readCredentialsFile(); err != nil {
		return err
	}
	name := sectionName(appCtx.Host, appCtx.Port, appCtx.LoginName)
	section, err := c.cfg.GetSection(name)
	if err != nil { // no such section
		return nil
	}
	if c.StorePassword {
		section.DeleteKey("token")
	} else {
		c.cfg.DeleteSection(name)
	}
	return c.writeCredentialsFile()
}
