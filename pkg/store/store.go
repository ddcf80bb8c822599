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


// Package store persists volume service state in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/pgdb"
	"github.com/Nuvoloso/volumed/pkg/util"
	logging "github.com/op/go-logging"
)

// Errors
var (
	ErrNotFound     = errors.New("not found")
	ErrExists       = errors.New("already exists")
	ErrNotConnected = errors.New("database not connected")
)

// Store is the persistence interface used by the volume service
type Store interface {
	VolumeOps
	SnapshotOps
	AttachmentOps
	ServiceOps
	WorkerOps
}

// Store defaults
const (
	RetryIntervalDefault = 10 * time.Second
	PingIntervalDefault  = 60 * time.Second
)

// Args contains the store arguments
type Args struct {
	pgdb.DBArgs
	RetryInterval time.Duration `long:"db-retry-interval" description:"Database connection retry interval" default:"10s"`
	PingInterval  time.Duration `long:"db-ping-interval" description:"Database connection check interval" default:"60s"`
}

// PGStore implements Store on PostgreSQL
type PGStore struct {
	Args
	Log         *logging.Logger
	pgDB        pgdb.DB
	mux         sync.Mutex
	db          *sql.DB
	dbConnected bool
	schemaReady bool
	worker      util.Worker
}

var _ = Store(&PGStore{})

// nowHook is replaced in UTs
var nowHook = func() time.Time { return time.Now().UTC() }

// New returns a PGStore. Call Start to connect.
func New(args *Args, log *logging.Logger, pgDB pgdb.DB) *PGStore {
	s := &PGStore{Args: *args, Log: log, pgDB: pgDB}
	if s.RetryInterval <= 0 {
		s.RetryInterval = RetryIntervalDefault
	}
	if s.PingInterval <= 0 {
		s.PingInterval = PingIntervalDefault
	}
	if s.pgDB == nil {
		s.pgDB = pgdb.New(log)
	}
	wa := &util.WorkerArgs{
		Name:           "store",
		Log:            log,
		SleepInterval:  s.RetryInterval,
		RunImmediately: true,
	}
	s.worker, _ = util.NewWorker(wa, s)
	return s
}

// Start the connection monitor
func (s *PGStore) Start() {
	s.Log.Info("Starting store")
	s.worker.Start()
}

// Stop the connection monitor and close the database
func (s *PGStore) Stop() {
	s.worker.Stop()
	s.closeDB()
	s.Log.Info("Stopped store")
}

// Ready reports whether the database is connected and the schema exists
func (s *PGStore) Ready() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.dbConnected && s.schemaReady
}

// WaitUntilReady blocks until the store is ready or the context expires
func (s *PGStore) WaitUntilReady(ctx context.Context) error {
	for !s.Ready() {
		s.worker.Notify()
		select {
		case <-ctx.Done():
			return fmt.Errorf("store: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// Buzz opens the database if needed, checks the connection and creates the schema
func (s *PGStore) Buzz(ctx context.Context) error {
	var err error
	s.mux.Lock()
	if s.db == nil {
		s.db, err = s.pgDB.OpenDB(&s.DBArgs)
	}
	db := s.db
	s.mux.Unlock()
	if err != nil {
		return err
	}
	if err = s.ping(ctx, db); err != nil {
		s.closeDB()
		s.worker.SetSleepInterval(s.RetryInterval)
		return err
	}
	s.worker.SetSleepInterval(s.PingInterval)
	if !s.isSchemaReady() {
		if err = s.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) isSchemaReady() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.schemaReady
}

func (s *PGStore) ping(ctx context.Context, db *sql.DB) error {
	err := s.pgDB.PingContext(ctx, db)
	s.mux.Lock()
	defer s.mux.Unlock()
	if err == nil {
		if !s.dbConnected {
			s.Log.Info("Connected to database")
		}
		s.dbConnected = true
		return nil
	}
	if s.dbConnected {
		s.Log.Error("Lost connection to database")
	}
	s.dbConnected = false
	s.schemaReady = false
	return fmt.Errorf("ping: %s", err.Error())
}

func (s *PGStore) closeDB() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.db != nil {
		s.db.Close()
	}
	s.db = nil
	s.dbConnected = false
	s.schemaReady = false
}

// handle returns the database handle if connected
func (s *PGStore) handle() (*sql.DB, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.db == nil || !s.dbConnected {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS services (
	id BIGSERIAL PRIMARY KEY,
	uuid VARCHAR(36) NOT NULL,
	host VARCHAR(255) NOT NULL,
	binary_name VARCHAR(255) NOT NULL,
	cluster_name VARCHAR(255) NOT NULL DEFAULT '',
	disabled BOOLEAN NOT NULL DEFAULT FALSE,
	disabled_reason VARCHAR(255) NOT NULL DEFAULT '',
	report_count BIGINT NOT NULL DEFAULT 0,
	object_version VARCHAR(255) NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (host, binary_name)
)`,
	`CREATE TABLE IF NOT EXISTS volumes (
	id VARCHAR(36) PRIMARY KEY,
	display_name VARCHAR(255) NOT NULL DEFAULT '',
	display_description VARCHAR(255) NOT NULL DEFAULT '',
	size BIGINT NOT NULL,
	status VARCHAR(255) NOT NULL,
	attach_status VARCHAR(255) NOT NULL,
	migration_status VARCHAR(255) NOT NULL DEFAULT '',
	host VARCHAR(255) NOT NULL DEFAULT '',
	availability_zone VARCHAR(255) NOT NULL DEFAULT '',
	volume_type VARCHAR(255) NOT NULL DEFAULT '',
	provider_location VARCHAR(255) NOT NULL DEFAULT '',
	provider_id VARCHAR(255) NOT NULL DEFAULT '',
	provider_auth VARCHAR(255) NOT NULL DEFAULT '',
	snapshot_id VARCHAR(36) NOT NULL DEFAULT '',
	source_volid VARCHAR(36) NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	admin_metadata TEXT NOT NULL DEFAULT '{}',
	cluster_name VARCHAR(255) NOT NULL DEFAULT '',
	service_uuid VARCHAR(36) NOT NULL DEFAULT '',
	shared_targets BOOLEAN NOT NULL DEFAULT TRUE,
	group_id VARCHAR(36) NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	deleted_at TIMESTAMP,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
	id VARCHAR(36) PRIMARY KEY,
	volume_id VARCHAR(36) NOT NULL,
	display_name VARCHAR(255) NOT NULL DEFAULT '',
	display_description VARCHAR(255) NOT NULL DEFAULT '',
	status VARCHAR(255) NOT NULL,
	progress VARCHAR(255) NOT NULL DEFAULT '',
	volume_size BIGINT NOT NULL,
	provider_id VARCHAR(255) NOT NULL DEFAULT '',
	provider_location VARCHAR(255) NOT NULL DEFAULT '',
	cgsnapshot_id VARCHAR(36) NOT NULL DEFAULT '',
	group_snapshot_id VARCHAR(36) NOT NULL DEFAULT '',
	use_quota BOOLEAN NOT NULL DEFAULT TRUE,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	deleted_at TIMESTAMP,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS volume_attachments (
	id VARCHAR(36) PRIMARY KEY,
	volume_id VARCHAR(36) NOT NULL,
	attached_host VARCHAR(255) NOT NULL DEFAULT '',
	attach_status VARCHAR(255) NOT NULL,
	connector TEXT NOT NULL DEFAULT '{}',
	connection_info TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS workers (
	id BIGSERIAL PRIMARY KEY,
	resource_type VARCHAR(40) NOT NULL,
	resource_id VARCHAR(36) NOT NULL,
	status VARCHAR(255) NOT NULL,
	service_id BIGINT,
	race_preventer BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (resource_type, resource_id)
)`,
	`CREATE INDEX IF NOT EXISTS volumes_host_idx ON volumes (host) WHERE NOT deleted`,
	`CREATE INDEX IF NOT EXISTS snapshots_volume_idx ON snapshots (volume_id) WHERE NOT deleted`,
	`CREATE INDEX IF NOT EXISTS workers_service_idx ON workers (service_id)`,
}

// Migrate creates the schema if it does not exist
func (s *PGStore) Migrate(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			s.Log.Errorf("Schema error: %s (%s)", err.Error(), s.pgDB.SQLCode(err))
			return fmt.Errorf("schema: %w", err)
		}
	}
	s.mux.Lock()
	s.schemaReady = true
	s.mux.Unlock()
	s.Log.Info("Schema ready")
	return nil
}

// dbError classifies an error for callers
func (s *PGStore) dbError(op string, err error) error {
	switch s.pgDB.ErrDesc(err) {
	case pgdb.ErrUniqueViolation:
		return fmt.Errorf("%s: %w", op, ErrExists)
	case pgdb.ErrConnectionError:
		s.worker.Notify()
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsConflict reports whether err is a transaction conflict that may succeed if retried
func IsConflict(err error) bool {
	ed, _ := pgdb.ErrDesc(err)
	return ed == pgdb.ErrSerializationFailure
}

// args accumulates positional query arguments
type args []interface{}

func (a *args) add(v interface{}) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func (a *args) in(vals []string) string {
	ph := make([]string, 0, len(vals))
	for _, v := range vals {
		ph = append(ph, a.add(v))
	}
	return "(" + strings.Join(ph, ", ") + ")"
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func decodeMap(s string) map[string]string {
	m := map[string]string{}
	if s != "" {
		json.Unmarshal([]byte(s), &m)
	}
	return m
}

// columnValue converts an object field value to a column value
func columnValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]string:
		return encodeMap(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

// updateSet builds the SET clause from the changed fields of an object
func updateSet(o objects.Object, a *args, skip ...string) (string, error) {
	sets := []string{}
	for _, f := range o.Changes() {
		if util.Contains(skip, f) {
			continue
		}
		v, err := objects.Get(o, f)
		if err != nil {
			return "", err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f, a.add(columnValue(v))))
	}
	return strings.Join(sets, ", "), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}
