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


package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Service is a running instance of a volume service binary
type Service struct {
	ID             int64     `json:"id"`
	UUID           string    `json:"uuid"`
	Host           string    `json:"host"`
	Binary         string    `json:"binary"`
	ClusterName    string    `json:"cluster_name"`
	Disabled       bool      `json:"disabled"`
	DisabledReason string    `json:"disabled_reason"`
	ReportCount    int64     `json:"report_count"`
	ObjectVersion  string    `json:"object_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsUp reports whether the service heartbeat is more recent than downTime
func (svc *Service) IsUp(now time.Time, downTime time.Duration) bool {
	return now.Sub(svc.UpdatedAt) <= downTime
}

// ServiceFilter selects services; empty fields do not filter
type ServiceFilter struct {
	ID          int64
	Host        string
	Binary      string
	ClusterName string
	Disabled    *bool
}

// ServiceOps persists services
type ServiceOps interface {
	ServiceCreateOrGet(ctx context.Context, host, binary, cluster, objVersion string) (*Service, error)
	ServiceGet(ctx context.Context, id int64) (*Service, error)
	ServiceList(ctx context.Context, f *ServiceFilter) ([]*Service, error)
	ServiceHeartbeat(ctx context.Context, id int64) error
	ServiceSetDisabled(ctx context.Context, id int64, disabled bool, reason string) error
}

const serviceColumns = "id, uuid, host, binary_name, cluster_name, disabled, disabled_reason, report_count, object_version, created_at, updated_at"

func scanService(rs rowScanner) (*Service, error) {
	svc := &Service{}
	err := rs.Scan(&svc.ID, &svc.UUID, &svc.Host, &svc.Binary, &svc.ClusterName, &svc.Disabled, &svc.DisabledReason,
		&svc.ReportCount, &svc.ObjectVersion, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// ServiceCreateOrGet returns the service row for host and binary, creating it if needed.
// The cluster and object version of an existing row are refreshed.
func (s *PGStore) ServiceCreateOrGet(ctx context.Context, host, binary, cluster, objVersion string) (*Service, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	now := nowHook()
	q := "INSERT INTO services (uuid, host, binary_name, cluster_name, object_version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6) " +
		"ON CONFLICT (host, binary_name) DO UPDATE SET cluster_name = EXCLUDED.cluster_name, object_version = EXCLUDED.object_version, updated_at = EXCLUDED.updated_at " +
		"RETURNING " + serviceColumns
	svc, err := scanService(db.QueryRowContext(ctx, q, uuid.NewV4().String(), host, binary, cluster, objVersion, now))
	if err != nil {
		return nil, s.dbError("service create", err)
	}
	return svc, nil
}

// ServiceGet loads a service
func (s *PGStore) ServiceGet(ctx context.Context, id int64) (*Service, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	svc, err := scanService(db.QueryRowContext(ctx, "SELECT "+serviceColumns+" FROM services WHERE id = $1", id))
	if err != nil {
		return nil, s.dbError(fmt.Sprintf("service %d", id), err)
	}
	return svc, nil
}

// ServiceList returns the services matching the filter
func (s *PGStore) ServiceList(ctx context.Context, f *ServiceFilter) ([]*Service, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if f == nil {
		f = &ServiceFilter{}
	}
	a := args{}
	where := []string{"TRUE"}
	if f.ID != 0 {
		where = append(where, "id = "+a.add(f.ID))
	}
	if f.Host != "" {
		where = append(where, "host = "+a.add(f.Host))
	}
	if f.Binary != "" {
		where = append(where, "binary_name = "+a.add(f.Binary))
	}
	if f.ClusterName != "" {
		where = append(where, "cluster_name = "+a.add(f.ClusterName))
	}
	if f.Disabled != nil {
		where = append(where, "disabled = "+a.add(*f.Disabled))
	}
	rs, err := db.QueryContext(ctx, "SELECT "+serviceColumns+" FROM services WHERE "+strings.Join(where, " AND ")+" ORDER BY id", a...)
	if err != nil {
		return nil, s.dbError("service list", err)
	}
	defer rs.Close()
	res := []*Service{}
	for rs.Next() {
		svc, err := scanService(rs)
		if err != nil {
			return nil, s.dbError("service list", err)
		}
		res = append(res, svc)
	}
	if err = rs.Err(); err != nil {
		return nil, s.dbError("service list", err)
	}
	return res, nil
}

// ServiceHeartbeat refreshes updated_at and increments the report count
func (s *PGStore) ServiceHeartbeat(ctx context.Context, id int64) error {
	return s.serviceExec(ctx, "service heartbeat", id, "UPDATE services SET updated_at = $2, report_count = report_count + 1 WHERE id = $1", id, nowHook())
}

// ServiceSetDisabled enables or disables a service
func (s *PGStore) ServiceSetDisabled(ctx context.Context, id int64, disabled bool, reason string) error {
	return s.serviceExec(ctx, "service disable", id, "UPDATE services SET disabled = $2, disabled_reason = $3 WHERE id = $1", id, disabled, reason)
}

func (s *PGStore) serviceExec(ctx context.Context, op string, id int64, q string, a ...interface{}) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, q, a...)
	if err != nil {
		return s.dbError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %d: %w", id, ErrNotFound)
	}
	return nil
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
