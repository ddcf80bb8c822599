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
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
)

// Build information passed in via ld flags
var (
	BuildID   string
	BuildTime string
	BuildHost string
	BuildJob  string
	Appname   = "volctl"
)

// Ini file related variables
var iniFileNameTemplate = "%s/.volumed/%s.config"
var iniFileEnv string
var defIniFile string
var iniFile string

// AppCtx contains common top-level options and state
type AppCtx struct {
	Host           string         `long:"host" description:"The volume service host" default:"localhost"`
	Port           int            `long:"port" description:"The volume service port number" default:"8776"`
	Verbose        []bool         `short:"v" long:"verbose" description:"Show debug information"`
	SSLSkipVerify  bool           `short:"k" long:"ssl-skip-verify" description:"Allow unverified volume service certificate or host name"`
	CACert         flags.Filename `long:"ca-cert" description:"The CA certificate to use to validate the volume service for secure connections"`
	ClientCert     flags.Filename `long:"client-cert" description:"The certificate to use for secure connections"`
	ClientKey      flags.Filename `long:"client-key" description:"The private key to use for secure connections"`
	UseSSL         bool           `long:"ssl" description:"Use SSL/TLS (https) even if a certificate and key are not specified"`
	SSLServerName  string         `long:"ssl-server-name" description:"The actual server name of the volume service SSL certificate, defaults to the --host value"`
	LoginName      string         `long:"login" description:"Use the stored token of this user. See 'auth login'"`
	ObjectVersions string         `long:"object-versions" description:"Request versioned objects capped at the given versions, e.g. 'Volume=1.2,Snapshot=1.0'. Requires json or yaml output"`
	OutputFormat   string         `short:"o" long:"output" description:"Output format control" choice:"json" choice:"table" choice:"yaml" default:"table"`

	watcher Watcher
	Emitter
	client *Client
	token  string
}

// InitAPI initializes the client from ini and command line flags
func (c *AppCtx) InitAPI() error {
	if c.client != nil {
		return nil
	}
	var err error
	c.client, err = NewClient(&ClientArgs{
		Host:              c.Host,
		Port:              c.Port,
		TLSCACertificate:  string(c.CACert),
		TLSCertificate:    string(c.ClientCert),
		TLSCertificateKey: string(c.ClientKey),
		TLSServerName:     c.SSLServerName,
		ForceTLS:          c.UseSSL,
		Insecure:          c.SSLSkipVerify,
		Debug:             len(c.Verbose) > 0,
	})
	if err != nil {
		return err
	}
	c.client.ObjectVersions = c.ObjectVersions
	if c.LoginName != "" {
		ac := &authCmd{}
		if c.token, err = ac.getToken(c.Host, c.Port, c.LoginName); err != nil {
			return err
		}
		c.client.Token = c.token
	}
	return nil
}

var appCtx = &AppCtx{}
var parser = flags.NewParser(appCtx, flags.Default&^flags.PrintErrors)
var outputWriter io.Writer
var debugWriter io.Writer
var flippedFirstTwoArgs bool

func init() {
	iniFileEnv = strings.ToUpper(Appname + "_CONFIG_FILE")
	outputWriter = os.Stdout
	debugWriter = os.Stderr
	appCtx.watcher = appCtx // self-reference
	initParser()
}

func initParser() {
	flippedFirstTwoArgs = false
	parser.ShortDescription = Appname
	parser.Usage = "[Application Options]"
	parser.LongDescription = "Volume service command line interface. " +
		"Most commands are of the form 'object action arguments...' but " +
		"it is also possible to invoke the command in the form 'action object arguments...'.\n" +
		"\n" +
		"The program initializes itself from an INI file specified by the " +
		iniFileEnv + " environment variable or else from " +
		fmt.Sprintf(iniFileNameTemplate, "$"+eHOME, Appname) + ". " +
		"The format of the file is as follows:\n\n" +
		" [Application Options]\n" +
		" Host = volumeServiceHostName\n" +
		" Port = volumeServicePortNumber\n" +
		" Login = userName\n" +
		"\n" +
		"All properties are optional and correspond to the program argument long flag names.\n" +
		"\n" +
		"API tokens are stored in a separate INI file specified by the " + credFileEnv + " environment variable or else in " +
		fmt.Sprintf(credFileNameTemplate, "$"+eHOME, Appname) + ". " +
		"The mode of this file must be 0600 (read-write owner only). " +
		"See '" + Appname + " auth -h' for more information."

	parser.AddCommand("version", "Show version", "Show build version information.", &versionCmd{})
	parser.AddCommand("help", "Show program or command/subcommand usage", "Shows the program usage if no argument specified otherwise it displays help for the command or subcommand specified.", &helpCmd{})
}

type versionCmd struct{}

func (c *versionCmd) Execute(args []string) error {
	data := struct{ BuildID, BuildTime, BuildJob, BuildHost string }{
		BuildID,
		BuildTime,
		BuildJob,
		BuildHost,
	}
	switch appCtx.OutputFormat {
	case "json":
		return appCtx.EmitJSON(data)
	case "yaml":
		return appCtx.EmitYAML(data)
	}
	return appCtx.EmitTable([]string{"Build ID", "Build Date", "Build Job", "Build Host"},
		[][]string{{data.BuildID, data.BuildTime, data.BuildJob, data.BuildHost}}, nil)
}

type helpCmd struct {
	Positional struct {
		CommandSpecifier []string `positional-arg-name:"Command"`
	} `positional-args:"yes"`
}

func (c *helpCmd) Execute(args []string) error {
	parser.Command.Active = nil
	if len(c.Positional.CommandSpecifier) > 0 {
		cName := c.Positional.CommandSpecifier[0]
		cmd := parser.Find(cName)
		if cmd != nil {
			if len(c.Positional.CommandSpecifier) > 1 {
				scName := c.Positional.CommandSpecifier[1]
				if sc := cmd.Find(scName); sc != nil {
					cmd = sc
					cmd.Name = cName + " " + scName
				} else {
					fmt.Fprintf(outputWriter, "Subcommand \"%s %s\" not found!\n", cName, scName)
				}
			}
			parser.Command.Active = cmd
		} else {
			fmt.Fprintf(outputWriter, "Command \"%s\" not found!\n", cName)
		}
	}
	parser.WriteHelp(outputWriter)
	return nil
}

func commandHandler(command flags.Commander, args []string) error {
	if command == nil {
		return nil
	}
	// commands that don't need the API
	switch cmd := command.(type) {
	case *helpCmd, *versionCmd, *authListCmd, *authLogoutCmd:
		return cmd.Execute(args)
	}
	if err := appCtx.InitAPI(); err != nil {
		return err
	}
	return command.Execute(args)
}

func parseAndRun(args []string) error {
	homeDir, ok := os.LookupEnv(eHOME)
	if !ok {
		homeDir = "/"
	}
	defIniFile = fmt.Sprintf(iniFileNameTemplate, homeDir, Appname)
	iniFile, ok = os.LookupEnv(iniFileEnv)
	if !ok || iniFile == "" {
		iniFile = defIniFile
	}
	if e := flags.NewIniParser(parser).ParseFile(iniFile); e != nil {
		if !os.IsNotExist(e) {
			return fmt.Errorf("%s: INI file error: %s", iniFile, e)
		}
	}
	parser.CommandHandler = commandHandler
	_, err := parser.ParseArgs(args)
	if err != nil && !flippedFirstTwoArgs {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrCommandRequired {
			return fmt.Errorf("%s followed by an action; it is also possible to specify the action before the object", e.Message)
		}
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrUnknownCommand && len(args) >= 2 {
			verb := args[0]
			noun := args[1]
			if cmd := parser.Find(noun); cmd != nil {
				if subcmd := cmd.Find(verb); subcmd != nil {
					args[0] = noun
					args[1] = verb
					flippedFirstTwoArgs = true
					return parseAndRun(args)
				}
			}
		}
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprint(outputWriter, err.Error())
			return nil
		}
		return fmt.Errorf("%s", err.Error())
	}
	return err
}

type exitFn func(int)

var exitHook exitFn = os.Exit

func main() {
	appCtx.Emitter = &StdoutEmitter{}
	if err := parseAndRun(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s.\n", err.Error())
		exitHook(1)
	}
}
