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


package pgdb

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	httptransport "github.com/go-openapi/runtime/client"
	"github.com/jackc/pgx"
	"github.com/jackc/pgx/stdlib"
	logging "github.com/op/go-logging"
)

// Postgres driver connection defaults
const (
	DefaultHost           = "localhost"
	DefaultPort     int16 = 5432
	DefaultUser           = "volumed"
	DefaultDatabase       = "volumed"
	DefaultMaxConns       = 10
)

// DBArgs contains the externally visible arguments to access the database
type DBArgs struct {
	Host         string        `long:"host" description:"The database host" default:"localhost"`
	Port         int16         `long:"port" description:"The database port" default:"5432"`
	User         string        `long:"user" description:"The database user" default:"volumed"`
	Password     string        `long:"password" description:"The database password. May be obfuscated" json:"-"`
	Database     string        `long:"database" description:"The database name" default:"volumed"`
	MaxConns     int           `long:"max-conns" description:"Maximum open connections" default:"10"`
	ConnLifetime time.Duration `long:"conn-lifetime" description:"Maximum connection lifetime" default:"30m"`
	DebugLevel   int           `long:"debug-level" description:"Driver log level: 0 none, 1 errors only, 2 all" default:"1"`

	UseSSL            bool   `long:"ssl" description:"Connect with TLS"`
	TLSCertificate    string `long:"ssl-cert" description:"The client certificate file"`
	TLSCertificateKey string `long:"ssl-key" description:"The client key file"`
	TLSCACertificate  string `long:"ssl-ca" description:"The CA certificate file"`
	TLSServerName     string `long:"ssl-server-name" description:"The server name used to verify the database certificate"`
}

func (dba *DBArgs) init() {
	if dba.Host == "" {
		dba.Host = DefaultHost
	}
	if dba.Port == 0 {
		dba.Port = DefaultPort
	}
	if dba.User == "" {
		dba.User = DefaultUser
	}
	if dba.Database == "" {
		dba.Database = DefaultDatabase
	}
	if dba.MaxConns <= 0 {
		dba.MaxConns = DefaultMaxConns
	}
}

// ErrorDesc classifies database errors
type ErrorDesc int

// ErrorDesc values
const (
	ErrUnknown ErrorDesc = iota
	ErrDatabaseExists
	ErrConnectionError
	ErrUniqueViolation
	ErrSerializationFailure
	ErrUndefinedTable
)

var errorDescNames = map[ErrorDesc]string{
	ErrUnknown:              "unknown",
	ErrDatabaseExists:       "database exists",
	ErrConnectionError:      "connection error",
	ErrUniqueViolation:      "unique violation",
	ErrSerializationFailure: "serialization failure",
	ErrUndefinedTable:       "undefined table",
}

func (ed ErrorDesc) String() string {
	if s, ok := errorDescNames[ed]; ok {
		return s
	}
	return fmt.Sprintf("ErrorDesc(%d)", int(ed))
}

// DB is an interface to:
// - open a Postgres database (with the PGX driver)
// - decode postgres specific errors
type DB interface {
	OpenDB(args *DBArgs) (*sql.DB, error)
	PingContext(ctx context.Context, db *sql.DB) error
	SQLCode(err error) string
	ErrDesc(err error) ErrorDesc
	SetSQLOpener(SQLOpener)
}

// SQLOpener matches the signature of the sql.Open call
type SQLOpener interface {
	Open(driverName, dataSourceName string) (*sql.DB, error)
}

// New returns a DB that opens sql.DB handles with the PGX driver
func New(log *logging.Logger) DB {
	pg := &pgDB{log: log}
	pg.opener = pg
	return pg
}

type pgDB struct {
	DBArgs
	log     *logging.Logger
	mux     sync.Mutex
	lastMsg string
	opener  SQLOpener
}

// OpenDB returns a database handle. No connection is made until first use.
func (pg *pgDB) OpenDB(args *DBArgs) (*sql.DB, error) {
	pg.DBArgs = *args
	pg.DBArgs.init()
	var tlsConfig *tls.Config
	sslMode := ""
	if pg.UseSSL {
		tlsClientOpts := httptransport.TLSClientOptions{
			Certificate: pg.TLSCertificate,
			Key:         pg.TLSCertificateKey,
			CA:          pg.TLSCACertificate,
			ServerName:  pg.TLSServerName,
		}
		var err error
		if tlsConfig, err = httptransport.TLSClientAuth(tlsClientOpts); err != nil {
			return nil, err
		}
		// the DSN sslmode would otherwise replace our tls.Config
		sslMode = " sslmode=disable"
	}
	connString := fmt.Sprintf("host=%s port=%d user=%s database=%s%s", pg.Host, pg.Port, pg.User, pg.Database, sslMode)
	driverConfig := &stdlib.DriverConfig{
		ConnConfig: pgx.ConnConfig{
			Password:  pg.Password,
			Logger:    pg,
			LogLevel:  pgx.LogLevelWarn,
			TLSConfig: tlsConfig,
		},
	}
	stdlib.RegisterDriverConfig(driverConfig)
	db, err := pg.opener.Open("pgx", driverConfig.ConnectionString(connString))
	if err != nil {
		return nil, err
	}
	if db != nil {
		db.SetMaxOpenConns(pg.MaxConns)
		db.SetConnMaxLifetime(pg.ConnLifetime)
	}
	return db, nil
}

// Log matches the pgx.Logger interface. Consecutive repeats of a message are suppressed.
func (pg *pgDB) Log(ll pgx.LogLevel, msg string, data map[string]interface{}) {
	switch pg.DebugLevel {
	case 0:
		return
	case 1:
		if ll > pgx.LogLevelError {
			return
		}
	}
	pg.mux.Lock()
	defer pg.mux.Unlock()
	if msg == pg.lastMsg {
		return
	}
	pg.lastMsg = msg
	args := make([]string, 0, len(data))
	for k, v := range data {
		args = append(args, fmt.Sprintf("%s: %#v", k, v))
	}
	sort.Strings(args)
	pg.log.Debugf("pgx: %s [%s]", msg, strings.Join(args, ", "))
}

func (pg *pgDB) SQLCode(err error) string {
	return SQLCode(err)
}

func (pg *pgDB) ErrDesc(err error) ErrorDesc {
	ed, code := ErrDesc(err)
	if ed == ErrUnknown && code != "" {
		pg.log.Debugf("Postgres error: %s", code)
	}
	return ed
}

// SQLCode returns the SQLSTATE of a (possibly wrapped) pgx error
func SQLCode(err error) string {
	var pgErr pgx.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ErrDesc returns the error descriptor and SQLSTATE
func ErrDesc(err error) (ErrorDesc, string) {
	code := SQLCode(err)
	if strings.HasPrefix(code, "08") {
		return ErrConnectionError, code
	}
	switch code {
	case "42P04":
		return ErrDatabaseExists, code
	case "23505":
		return ErrUniqueViolation, code
	case "40001", "40P01":
		return ErrSerializationFailure, code
	case "42P01":
		return ErrUndefinedTable, code
	}
	return ErrUnknown, code
}

// Open invokes the real sql.Open function
func (pg *pgDB) Open(driverName, dataSourceName string) (*sql.DB, error) {
	return sql.Open(driverName, dataSourceName)
}

func (pg *pgDB) SetSQLOpener(o SQLOpener) {
	pg.opener = o
}

// PingContext wraps the call because sqlmock does not provide expectations on this method
func (pg *pgDB) PingContext(ctx context.Context, db *sql.DB) error {
	return db.PingContext(ctx)
}
