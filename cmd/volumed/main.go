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
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/driver"
	_ "github.com/Nuvoloso/volumed/pkg/driver/ebs"
	_ "github.com/Nuvoloso/volumed/pkg/driver/fake"
	_ "github.com/Nuvoloso/volumed/pkg/driver/fujitsu"
	_ "github.com/Nuvoloso/volumed/pkg/driver/gce"
	_ "github.com/Nuvoloso/volumed/pkg/driver/huawei"
	_ "github.com/Nuvoloso/volumed/pkg/driver/synology"
	_ "github.com/Nuvoloso/volumed/pkg/driver/tatlin"
	"github.com/Nuvoloso/volumed/pkg/notify"
	"github.com/Nuvoloso/volumed/pkg/store"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/Nuvoloso/volumed/pkg/zone"
	"github.com/Nuvoloso/volumed/pkg/zone/brocade"
	"github.com/go-openapi/runtime/flagext"
	"github.com/jessevdk/go-flags"
	"github.com/op/go-logging"
)

// Build information passed in via ldflags
var (
	BuildID   string
	BuildTime string
	BuildHost string
	BuildJob  string
	Appname   = "volumed"
)

// Ini file name template (a var for testing purposes)
var iniFileNameTemplate = "/etc/volumed/%s.ini"

// ServerArgs are the REST API listener arguments
type ServerArgs struct {
	EnabledListener string           `long:"scheme" description:"the listener to enable" default:"http" choice:"http" choice:"https"`
	CleanupTimeout  time.Duration    `long:"cleanup-timeout" description:"grace period for which to wait before shutting down the server" default:"10s"`
	MaxHeaderSize   flagext.ByteSize `long:"max-header-size" description:"controls the maximum number of bytes the server will read parsing the request header's keys and values, including the request line. It does not limit the size of the request body" default:"1MiB"`

	Host         string        `long:"host" description:"the IP to listen on" default:"localhost" env:"HOST"`
	Port         int           `long:"port" description:"the port to listen on for insecure connections" default:"8776" env:"PORT"`
	ReadTimeout  time.Duration `long:"read-timeout" description:"maximum duration before timing out read of the request" default:"30s"`
	WriteTimeout time.Duration `long:"write-timeout" description:"maximum duration before timing out write of the response" default:"60s"`

	TLSHost           string         `long:"tls-host" description:"the IP to listen on for tls, when not specified it's the same as --host" env:"TLS_HOST"`
	TLSPort           int            `long:"tls-port" description:"the port to listen on for secure connections" default:"8776" env:"TLS_PORT"`
	TLSCertificate    flags.Filename `long:"tls-certificate" description:"the certificate to use for secure connections" env:"TLS_CERTIFICATE"`
	TLSCertificateKey flags.Filename `long:"tls-key" description:"the private key to use for secure connections" env:"TLS_PRIVATE_KEY"`
	TLSCACertificate  flags.Filename `long:"tls-ca" description:"the certificate authority file to be used with mutual tls auth" env:"TLS_CA_CERTIFICATE"`
	TLSReadTimeout    time.Duration  `long:"tls-read-timeout" description:"maximum duration before timing out read of the request"`
	TLSWriteTimeout   time.Duration  `long:"tls-write-timeout" description:"maximum duration before timing out write of the response"`
}

// storeAPI is the store as used by the daemon
type storeAPI interface {
	store.Store
	Start()
	Stop()
	WaitUntilReady(ctx context.Context) error
}

// mainContext contains context information for this package
type mainContext struct {
	StoreArgs       store.Args         `group:"Database Options" namespace:"db"`
	NotifyArgs      notify.ManagerArgs `group:"Notification Options"`
	TaskArgs        tasks.ManagerArgs  `group:"Task Options"`
	ServerArgs      *ServerArgs        `no-flag:"yes"`
	ServiceVersion  string
	server          *http.Server
	idleConnsClosed chan struct{}
	sigChan         chan os.Signal
	invocationArgs  string
	log             *logging.Logger
	store           storeAPI
	notifier        *notify.Manager
	tasks           *tasks.Manager
	volumes         *volume.Manager

	ServiceHost     string         `long:"service-host" description:"The host name of this service. Defaults to the system host name"`
	ClusterName     string         `long:"cluster" description:"The name of the cluster of active-active services this service belongs to"`
	BackendsFile    flags.Filename `long:"backends-file" description:"The backend and FC fabric configuration file" default:"/etc/volumed/backends.ini"`
	UsersFile       flags.Filename `long:"users-file" description:"The API users file. API authentication is disabled if not set"`
	TokenSecret     string         `long:"token-secret" description:"The API token signing key. May be obfuscated. A random key is used if not set" json:"-"`
	TokenExpiry     time.Duration  `long:"token-expiry" description:"The time interval after which API tokens expire" default:"2h"`
	HeartbeatPeriod time.Duration  `long:"heartbeat-period" description:"Service heartbeat period" default:"10s"`
	StatsInterval   time.Duration  `long:"stats-interval" description:"Backend capacity refresh interval" default:"60s"`
	ServiceDownTime time.Duration  `long:"service-down-time" description:"Time without a heartbeat after which a service is considered down" default:"60s"`
	StartupTimeout  time.Duration  `long:"startup-timeout" description:"Maximum time to wait for the database on startup" default:"5m"`
	LogLevel        string         `long:"log-level" description:"Specify the minimum logging level" default:"DEBUG" choice:"DEBUG" choice:"INFO" choice:"WARNING" choice:"ERROR"`
	Version         bool           `long:"version" short:"V" description:"Shows the build version and time created" no-ini:"1" json:"-"`
	WriteIni        flags.Filename `long:"write-config" description:"Specify the name of a file to which to write the current configuration" no-ini:"1" json:"-"`
	HashPassword    string         `long:"hash-password" description:"Print the users file hash of a password and exit" no-ini:"1" json:"-"`
}

type exitFn func(int)
type shutdownFn func(context.Context, *http.Server) error
type storeFn func(args *store.Args, log *logging.Logger) storeAPI

var exitHook exitFn = os.Exit
var shutdownHook shutdownFn = func(ctx context.Context, server *http.Server) error {
	return server.Shutdown(ctx)
}
var storeHook storeFn = func(args *store.Args, log *logging.Logger) storeAPI {
	return store.New(args, log, nil)
}
var newZoneClientHook zone.ClientFactory = brocade.NewClient

// parseArgs will parse the INI file and command line args.
// It calls os.Exit(0) if --help, --version, --hash-password or --write-config are specified
func (app *mainContext) parseArgs() error {
	iniFile := fmt.Sprintf(iniFileNameTemplate, Appname)
	parser := flags.NewParser(app, flags.Default)
	parser.ShortDescription = Appname
	parser.LongDescription = "The block storage volume service.\n\n" +
		"The service reads its configuration options from " + iniFile + " on startup. " +
		"Command line flags will override the file values. " +
		"Storage backends and FC fabrics are defined in the file named by --backends-file."

	parser.AddGroup("Service Options", "", app.ServerArgs)
	if e := flags.NewIniParser(parser).ParseFile(iniFile); e != nil {
		if !os.IsNotExist(e) {
			return e
		}
		app.log.Info("Configuration file", iniFile, "not found")
	} else {
		app.log.Info("Read configuration defaults from", iniFile)
	}

	if _, err := parser.Parse(); err != nil {
		code := 1
		if fe, ok := err.(*flags.Error); ok {
			if fe.Type == flags.ErrHelp {
				code = 0
			}
		}
		exitHook(code)
	}
	if app.Version {
		fmt.Println("Build ID:", BuildID)
		fmt.Println("Build date:", BuildTime)
		fmt.Println("Build host:", BuildHost)
		if BuildJob != "" {
			fmt.Println("Build job:", BuildJob)
		}
		fmt.Println("Drivers:", driver.Types())
		exitHook(0)
	}
	if app.HashPassword != "" {
		h, err := api.HashPassword(app.HashPassword)
		if err != nil {
			return err
		}
		fmt.Println(h)
		exitHook(0)
	}
	if app.WriteIni != "" {
		iniP := flags.NewIniParser(parser)
		iniP.WriteFile(string(app.WriteIni), flags.IniIncludeComments|flags.IniIncludeDefaults|flags.IniCommentDefaults)
		fmt.Println("Wrote configuration to", app.WriteIni)
		exitHook(0)
	}
	return nil
}

// setupLogging initializes logging for the application
func (app *mainContext) setupLogging() {
	logLevel, err := logging.LogLevel(app.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %s", app.LogLevel)
		exitHook(1)
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter("%{time} %{level:.1s} %{shortfile} %{message}")
	formatted := logging.NewBackendFormatter(backend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(logLevel, "")
	logging.SetBackend(leveled)

	app.log = logging.MustGetLogger("")
}

// tokenIssuer returns nil if API authentication is disabled
func (app *mainContext) tokenIssuer() (*api.TokenIssuer, error) {
	if app.UsersFile == "" {
		app.log.Warning("No users file: API authentication is disabled")
		return nil, nil
	}
	users, err := loadUsers(string(app.UsersFile))
	if err != nil {
		return nil, err
	}
	secret, err := util.RevealSecret(app.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("token-secret: %w", err)
	}
	ti := &api.TokenIssuer{Secret: []byte(secret), Users: users, Expiry: app.TokenExpiry}
	if secret == "" {
		app.log.Warning("No token-secret: tokens will not survive a restart")
		ti.Secret = make([]byte, 32)
		if _, err = rand.Read(ti.Secret); err != nil {
			return nil, err
		}
	}
	app.log.Infof("Loaded %d API users from %s", len(users), app.UsersFile)
	return ti, nil
}

// zoneManager returns nil if the backends file does not configure FC zoning
func (app *mainContext) zoneManager() (volume.ZoneManager, error) {
	cfg, err := zone.LoadConfig(string(app.BackendsFile))
	if err != nil || cfg == nil {
		return nil, err
	}
	zm, err := zone.NewManager(&zone.ManagerArgs{Config: cfg, NewClient: newZoneClientHook, Log: app.log})
	if err != nil {
		return nil, err
	}
	app.log.Infof("FC zone manager: fabrics %v", zm.Fabrics())
	return zm, nil
}

func (app *mainContext) init() error {
	backends, err := driver.LoadBackends(string(app.BackendsFile))
	if err != nil {
		return err
	}
	zm, err := app.zoneManager()
	if err != nil {
		return err
	}
	tokens, err := app.tokenIssuer()
	if err != nil {
		return err
	}
	if app.ServiceHost == "" {
		if app.ServiceHost, err = os.Hostname(); err != nil {
			return err
		}
	}

	app.store = storeHook(&app.StoreArgs, app.log)
	app.store.Start()
	ctx, cancel := context.WithTimeout(context.Background(), app.StartupTimeout)
	defer cancel()
	if err = app.store.WaitUntilReady(ctx); err != nil {
		app.store.Stop()
		return err
	}
	nma := app.NotifyArgs
	nma.PublisherID = app.ServiceHost
	nma.Log = app.log
	if app.notifier, err = notify.NewManager(&nma); err != nil {
		return err
	}
	tma := app.TaskArgs
	tma.Notifier = app.notifier
	tma.Log = app.log
	if app.tasks, err = tasks.NewManager(&tma); err != nil {
		return err
	}
	va := &volume.Args{
		Host:            app.ServiceHost,
		ClusterName:     app.ClusterName,
		Backends:        backends,
		Store:           app.store,
		Notifier:        app.notifier,
		Tasks:           app.tasks,
		Zones:           zm,
		Log:             app.log,
		HeartbeatPeriod: app.HeartbeatPeriod,
		StatsInterval:   app.StatsInterval,
		ServiceDownTime: app.ServiceDownTime,
		InvocationArgs:  app.invocationArgs,
	}
	if app.volumes, err = volume.NewManager(va); err != nil {
		return err
	}
	if err = app.volumes.Start(ctx); err != nil {
		return err
	}
	srv, err := api.New(&api.Args{
		Volumes:         app.volumes,
		Store:           app.store,
		Watchers:        app.notifier,
		Tasks:           app.tasks,
		Tokens:          tokens,
		ServiceDownTime: app.ServiceDownTime,
		Log:             app.log,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:        srv.Handler(),
		MaxHeaderBytes: int(app.ServerArgs.MaxHeaderSize),
	}
	if app.ServerArgs.EnabledListener == "http" {
		server.Addr = fmt.Sprintf("%s:%d", app.ServerArgs.Host, app.ServerArgs.Port)
		server.ReadTimeout = app.ServerArgs.ReadTimeout
		server.ReadHeaderTimeout = app.ServerArgs.ReadTimeout
		server.WriteTimeout = app.ServerArgs.WriteTimeout
	} else {
		// https
		host := app.ServerArgs.TLSHost
		if host == "" {
			host = app.ServerArgs.Host
		}
		server.Addr = fmt.Sprintf("%s:%d", host, app.ServerArgs.TLSPort)
		server.ReadTimeout = app.ServerArgs.TLSReadTimeout
		server.ReadHeaderTimeout = app.ServerArgs.TLSReadTimeout
		server.WriteTimeout = app.ServerArgs.TLSWriteTimeout
		if server.TLSConfig, err = app.tlsConfig(); err != nil {
			return err
		}
		server.TLSNextProto = make(map[string]func(*http.Server, *tls.Conn, http.Handler), 0) // force HTTP/1.1 for websockets
	}

	app.idleConnsClosed = make(chan struct{})
	app.sigChan = make(chan os.Signal, 1)
	signal.Notify(app.sigChan, os.Interrupt, os.Signal(syscall.SIGTERM))
	go func() {
		<-app.sigChan
		app.log.Infof("%s server shutting down", app.ServerArgs.EnabledListener)

		app.volumes.Stop()
		app.notifier.TerminateAllWatchers()
		ctx, cancel := context.WithTimeout(context.Background(), app.ServerArgs.CleanupTimeout)
		defer cancel()
		if err := shutdownHook(ctx, server); err != nil {
			// Error from closing listeners, or context timeout
			app.log.Errorf("%s server shutdown: %v", app.ServerArgs.EnabledListener, err)
		} else {
			app.log.Infof("%s server shutdown succeeded", app.ServerArgs.EnabledListener)
		}
		app.store.Stop()
		close(app.idleConnsClosed)
	}()

	app.server = server
	return nil
}

// Set up TLS configuration, including the given CA certificate.
func (app *mainContext) tlsConfig() (*tls.Config, error) {
	if app.ServerArgs.TLSCACertificate == "" || app.ServerArgs.TLSCertificate == "" || app.ServerArgs.TLSCertificateKey == "" {
		return nil, errors.New("tls-ca, tls-certificate and tls-key are required with scheme=https")
	}
	caCert, err := ioutil.ReadFile(string(app.ServerArgs.TLSCACertificate))
	if err != nil {
		return nil, err
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no CA certs found in %s", app.ServerArgs.TLSCACertificate)
	}
	cfg := &tls.Config{
		ClientCAs:                caCertPool,
		ClientAuth:               tls.VerifyClientCertIfGiven,
		NextProtos:               []string{"http/1.1"},
		MinVersion:               tls.VersionTLS12,
		CurvePreferences:         []tls.CurveID{tls.CurveP521, tls.CurveP384, tls.CurveP256},
		PreferServerCipherSuites: true,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		},
	}
	return cfg, nil
}

func (app *mainContext) listenAndServe() error {
	var err error
	if app.ServerArgs.EnabledListener == "http" {
		err = app.server.ListenAndServe()
	} else {
		err = app.server.ListenAndServeTLS(string(app.ServerArgs.TLSCertificate), string(app.ServerArgs.TLSCertificateKey))
	}
	if err == http.ErrServerClosed {
		err = nil
		<-app.idleConnsClosed
	}
	return err
}

// logStart records the invocation arguments; the heartbeat repeats them periodically
func (app *mainContext) logStart() {
	buildContext := BuildJob
	if buildContext == "" {
		buildContext = BuildHost
	}
	app.ServiceVersion = BuildID + " " + BuildTime + " " + buildContext
	if b, err := json.MarshalIndent(app, "", "    "); err == nil {
		app.invocationArgs = string(b)
		app.log.Info(app.invocationArgs)
	}
}

func main() {
	app := &mainContext{ServerArgs: &ServerArgs{}}
	app.LogLevel = "DEBUG" // for bootstrap
	app.setupLogging()
	err := app.parseArgs()
	if err == nil {
		app.setupLogging() // again
		app.logStart()
		err = app.init()
	}
	if err == nil {
		app.log.Infof("[%s] running on %s:%s", Appname, app.ServerArgs.EnabledListener, app.server.Addr)
		err = app.listenAndServe()
	}
	if err != nil {
		app.log.Critical(err)
		exitHook(1)
	}
}
