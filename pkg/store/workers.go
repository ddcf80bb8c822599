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
	"fmt"
	"strings"
	"time"
)

// Worker is the row that marks a service as owner of a resource in a transitional status
type Worker struct {
	ID            int64     `json:"id"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	Status        string    `json:"status"`
	ServiceID     int64     `json:"service_id"`
	RacePreventer int64     `json:"race_preventer"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WorkerFilter selects worker rows. Empty fields do not filter.
type WorkerFilter struct {
	ID            int64
	ResourceType  string
	ResourceID    string
	Status        string
	ServiceID     *int64
	RacePreventer *int64
	// Until selects rows not updated after this time
	Until *time.Time
}

// WorkerValues are the fields a worker update may change
type WorkerValues struct {
	Status    *string
	ServiceID *int64
}

// WorkerOps persists worker rows
type WorkerOps interface {
	WorkerCreate(ctx context.Context, w *Worker) error
	WorkerGet(ctx context.Context, f *WorkerFilter) (*Worker, error)
	WorkerList(ctx context.Context, f *WorkerFilter) ([]*Worker, error)
	WorkerUpdate(ctx context.Context, w *Worker, vals *WorkerValues, f *WorkerFilter) error
	WorkerClaim(ctx context.Context, w *Worker, serviceID int64) (bool, error)
	WorkerDestroy(ctx context.Context, f *WorkerFilter) (int64, error)
}

const workerColumns = "id, resource_type, resource_id, status, COALESCE(service_id, 0), race_preventer, created_at, updated_at"

func scanWorker(rs rowScanner) (*Worker, error) {
	w := &Worker{}
	if err := rs.Scan(&w.ID, &w.ResourceType, &w.ResourceID, &w.Status, &w.ServiceID, &w.RacePreventer, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return w, nil
}

func (f *WorkerFilter) where(a *args) string {
	where := []string{"TRUE"}
	if f == nil {
		return where[0]
	}
	if f.ID != 0 {
		where = append(where, "id = "+a.add(f.ID))
	}
	if f.ResourceType != "" {
		where = append(where, "resource_type = "+a.add(f.ResourceType))
	}
	if f.ResourceID != "" {
		where = append(where, "resource_id = "+a.add(f.ResourceID))
	}
	if f.Status != "" {
		where = append(where, "status = "+a.add(f.Status))
	}
	if f.ServiceID != nil {
		where = append(where, "service_id = "+a.add(*f.ServiceID))
	}
	if f.RacePreventer != nil {
		where = append(where, "race_preventer = "+a.add(*f.RacePreventer))
	}
	if f.Until != nil {
		where = append(where, "updated_at <= "+a.add(*f.Until))
	}
	return strings.Join(where, " AND ")
}

// WorkerCreate inserts a worker row. ErrExists is returned if the resource already has one.
func (s *PGStore) WorkerCreate(ctx context.Context, w *Worker) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	now := nowHook()
	q := "INSERT INTO workers (resource_type, resource_id, status, service_id, race_preventer, created_at, updated_at) VALUES ($1, $2, $3, $4, 0, $5, $5) RETURNING id"
	var svcID interface{}
	if w.ServiceID != 0 {
		svcID = w.ServiceID
	}
	if err = db.QueryRowContext(ctx, q, w.ResourceType, w.ResourceID, w.Status, svcID, now).Scan(&w.ID); err != nil {
		return s.dbError("worker create", err)
	}
	w.RacePreventer = 0
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// WorkerGet returns the single worker matching the filter
func (s *PGStore) WorkerGet(ctx context.Context, f *WorkerFilter) (*Worker, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	a := args{}
	w, err := scanWorker(db.QueryRowContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE "+f.where(&a)+" LIMIT 1", a...))
	if err != nil {
		return nil, s.dbError("worker get", err)
	}
	return w, nil
}

// WorkerList returns the workers matching the filter, oldest first
func (s *PGStore) WorkerList(ctx context.Context, f *WorkerFilter) ([]*Worker, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	a := args{}
	rs, err := db.QueryContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE "+f.where(&a)+" ORDER BY updated_at", a...)
	if err != nil {
		return nil, s.dbError("worker list", err)
	}
	defer rs.Close()
	res := []*Worker{}
	for rs.Next() {
		w, err := scanWorker(rs)
		if err != nil {
			return nil, s.dbError("worker list", err)
		}
		res = append(res, w)
	}
	if err = rs.Err(); err != nil {
		return nil, s.dbError("worker list", err)
	}
	return res, nil
}

// WorkerUpdate changes a worker row filtered on its id and f. The race preventer is always
// incremented so that a concurrent update filtered on the previous value fails.
// ErrNotFound is returned if no row matched; w is updated on success.
func (s *PGStore) WorkerUpdate(ctx context.Context, w *Worker, vals *WorkerValues, f *WorkerFilter) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	a := args{}
	now := nowHook()
	sets := []string{"race_preventer = race_preventer + 1", "updated_at = " + a.add(now)}
	if vals != nil && vals.Status != nil {
		sets = append(sets, "status = "+a.add(*vals.Status))
	}
	if vals != nil && vals.ServiceID != nil {
		sets = append(sets, "service_id = "+a.add(*vals.ServiceID))
	}
	if f == nil {
		f = &WorkerFilter{}
	}
	ff := *f
	ff.ID = w.ID
	q := "UPDATE workers SET " + strings.Join(sets, ", ") + " WHERE " + ff.where(&a) + " RETURNING race_preventer"
	var rp int64
	if err = db.QueryRowContext(ctx, q, a...).Scan(&rp); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("worker %d: %w", w.ID, ErrNotFound)
		}
		return s.dbError("worker update", err)
	}
	w.RacePreventer = rp
	w.UpdatedAt = now
	if vals != nil && vals.Status != nil {
		w.Status = *vals.Status
	}
	if vals != nil && vals.ServiceID != nil {
		w.ServiceID = *vals.ServiceID
	}
	return nil
}

// WorkerClaim makes serviceID the owner of w if nobody changed the row since w was read
func (s *PGStore) WorkerClaim(ctx context.Context, w *Worker, serviceID int64) (bool, error) {
	rp := w.RacePreventer
	err := s.WorkerUpdate(ctx, w, &WorkerValues{ServiceID: &serviceID}, &WorkerFilter{RacePreventer: &rp})
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// WorkerDestroy deletes the workers matching the filter and returns the number deleted
func (s *PGStore) WorkerDestroy(ctx context.Context, f *WorkerFilter) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	a := args{}
	res, err := db.ExecContext(ctx, "DELETE FROM workers WHERE "+f.where(&a), a...)
	if err != nil {
		return 0, s.dbError("worker destroy", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.dbError("worker destroy", err)
	}
	return n, nil
}
