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
	"database/sql"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Nuvoloso/volumed/pkg/testutils"
	"github.com/jackc/pgx"
	"github.com/stretchr/testify/assert"
)

func TestDBArgs(t *testing.T) {
	assert := assert.New(t)

	args := &DBArgs{}
	args.init()
	assert.Equal(DefaultHost, args.Host)
	assert.Equal(DefaultPort, args.Port)
	assert.Equal(DefaultUser, args.User)
	assert.Equal(DefaultDatabase, args.Database)
	assert.Equal(DefaultMaxConns, args.MaxConns)

	args = &DBArgs{Host: "somehost", Port: 1234, User: "someuser", Database: "someDB", MaxConns: 3}
	args.init()
	assert.Equal("somehost", args.Host)
	assert.Equal(int16(1234), args.Port)
	assert.Equal("someuser", args.User)
	assert.Equal("someDB", args.Database)
	assert.Equal(3, args.MaxConns)
}

func TestLog(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	pg, ok := New(tl.Logger()).(*pgDB)
	assert.True(ok)
	pg.Log(pgx.LogLevelError, "NOTLOGGED debug is off", nil)
	pg.DebugLevel = 1
	pg.Log(pgx.LogLevelWarn, "NOTLOGGED warn", nil)
	pg.Log(pgx.LogLevelInfo, "NOTLOGGED info", nil)
	pg.Log(pgx.LogLevelError, "LOGGED error", nil)
	pg.Log(pgx.LogLevelNone, "LOGGED none", nil)
	assert.Equal(0, tl.CountPattern("NOTLOGGED"))
	assert.Equal(2, tl.CountPattern("LOGGED"))
	tl.Flush()

	pg.DebugLevel = 2
	data := map[string]interface{}{"intkey": 1, "stringkey": "stringval"}
	pg.Log(pgx.LogLevelTrace, "msg with data", data)
	pg.Log(pgx.LogLevelTrace, "msg with data", data)
	assert.Equal(1, tl.CountPattern(`pgx: msg with data \[intkey: 1, stringkey: "stringval"\]`))
}

type fakeSQLOpener struct {
	sqlDB         *sql.DB
	sqlOpenErr    error
	sqlDN, sqlDSN string
}

func (fso *fakeSQLOpener) Open(driverName, dataSourceName string) (*sql.DB, error) {
	fso.sqlDN = driverName
	fso.sqlDSN = dataSourceName
	if fso.sqlOpenErr != nil {
		return nil, fso.sqlOpenErr
	}
	return fso.sqlDB, nil
}

func TestOpen(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	db := New(tl.Logger())
	pg := db.(*pgDB)
	assert.Equal(pg, pg.opener)

	fso := &fakeSQLOpener{sqlOpenErr: fmt.Errorf("sql-open-error")}
	db.SetSQLOpener(fso)
	args := &DBArgs{UseSSL: true, TLSServerName: "db.example"}
	sqlDB, err := db.OpenDB(args)
	assert.Regexp("sql-open-error", err)
	assert.Nil(sqlDB)
	assert.Equal("pgx", fso.sqlDN)
	assert.Regexp(fmt.Sprintf("host=%s port=%d user=%s database=%s sslmode=disable", DefaultHost, DefaultPort, DefaultUser, DefaultDatabase), fso.sqlDSN)

	args.TLSCACertificate = "./no-such-ca.crt"
	sqlDB, err = db.OpenDB(args)
	assert.Nil(sqlDB)
	assert.Regexp("no such file or directory", err)

	// the real opener does not connect
	args.UseSSL = false
	db = New(tl.Logger())
	sqlDB, err = db.OpenDB(args)
	assert.NoError(err)
	assert.NotNil(sqlDB)
	sqlDB.Close()
}

func TestErrorConversion(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()

	db := New(tl.Logger())
	tcs := map[string]ErrorDesc{
		"42P04": ErrDatabaseExists,
		"08000": ErrConnectionError,
		"08006": ErrConnectionError,
		"08P01": ErrConnectionError,
		"23505": ErrUniqueViolation,
		"40001": ErrSerializationFailure,
		"40P01": ErrSerializationFailure,
		"42P01": ErrUndefinedTable,
	}
	for code, ed := range tcs {
		pgErr := pgx.PgError{Code: code}
		assert.Equal(code, db.SQLCode(pgErr))
		assert.Equal(ed, db.ErrDesc(pgErr), code)
		assert.Equal(ed, db.ErrDesc(fmt.Errorf("wrapped: %w", pgErr)), code)
		assert.NotEmpty(ed.String())
	}
	err := fmt.Errorf("other-error")
	assert.Equal("", db.SQLCode(err))
	assert.Equal(ErrUnknown, db.ErrDesc(err))
	assert.Equal(ErrUnknown, db.ErrDesc(pgx.PgError{Code: "NotHandled"}))
	assert.Equal(1, tl.CountPattern("Postgres error: NotHandled"))
	assert.Equal("ErrorDesc(99)", ErrorDesc(99).String())
}

type mockSQLOpener struct {
	mock sqlmock.Sqlmock
}

func (mso *mockSQLOpener) Open(driverName, dataSourceName string) (*sql.DB, error) {
	db, mock, err := sqlmock.New()
	mso.mock = mock
	return db, err
}

func TestUsageWithMock(t *testing.T) {
	assert := assert.New(t)
	tl := testutils.NewTestLogger(t)
	defer tl.Flush()
	ctx := context.Background()

	db := New(tl.Logger())
	mso := &mockSQLOpener{}
	db.SetSQLOpener(mso)
	sqlDB, err := db.OpenDB(&DBArgs{})
	assert.NoError(err)
	defer sqlDB.Close()
	assert.NoError(db.PingContext(ctx, sqlDB))

	mso.mock.ExpectExec("UPDATE workers").WithArgs(1).WillReturnError(pgx.PgError{Code: "40001"})
	_, err = sqlDB.ExecContext(ctx, "UPDATE workers SET x = $1", 1)
	assert.Equal(ErrSerializationFailure, db.ErrDesc(err))
	assert.NoError(mso.mock.ExpectationsWereMet())
}
