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

	"github.com/Nuvoloso/volumed/pkg/objects"
)

// SnapshotOps persists snapshots
type SnapshotOps interface {
	SnapshotCreate(ctx context.Context, sn *objects.Snapshot) error
	SnapshotGet(ctx context.Context, id string) (*objects.Snapshot, error)
	SnapshotList(ctx context.Context, f *SnapshotFilter) ([]*objects.Snapshot, error)
	SnapshotSave(ctx context.Context, sn *objects.Snapshot) error
	SnapshotConditionalSave(ctx context.Context, sn *objects.Snapshot, status []string) (bool, error)
	SnapshotDestroy(ctx context.Context, id string) error
	SnapshotCountByVolume(ctx context.Context, volumeID string) (int, error)
}

// SnapshotFilter selects snapshots; empty fields do not filter
type SnapshotFilter struct {
	VolumeID string
	Status   []string
	Host     string // volume host prefix
}

const snapshotColumns = "id, volume_id, display_name, display_description, status, progress, volume_size, provider_id, " +
	"provider_location, cgsnapshot_id, group_snapshot_id, use_quota, metadata, created_at, updated_at, deleted_at, deleted"

func scanSnapshot(rs rowScanner) (*objects.Snapshot, error) {
	sn := &objects.Snapshot{}
	var md string
	var deletedAt sql.NullTime
	err := rs.Scan(&sn.ID, &sn.VolumeID, &sn.Name, &sn.Description, &sn.Status, &sn.Progress, &sn.VolumeSize, &sn.ProviderID,
		&sn.ProviderLocation, &sn.CGSnapshotID, &sn.GroupSnapshotID, &sn.UseQuota, &md, &sn.CreatedAt, &sn.UpdatedAt, &deletedAt, &sn.Deleted)
	if err != nil {
		return nil, err
	}
	sn.Metadata = decodeMap(md)
	if deletedAt.Valid {
		t := deletedAt.Time
		sn.DeletedAt = &t
	}
	return sn, nil
}

// SnapshotCreate inserts a snapshot
func (s *PGStore) SnapshotCreate(ctx context.Context, sn *objects.Snapshot) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	now := nowHook()
	sn.CreatedAt, sn.UpdatedAt = now, now
	q := "INSERT INTO snapshots (" + snapshotColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)"
	_, err = db.ExecContext(ctx, q, sn.ID, sn.VolumeID, sn.Name, sn.Description, sn.Status, sn.Progress, sn.VolumeSize, sn.ProviderID,
		sn.ProviderLocation, sn.CGSnapshotID, sn.GroupSnapshotID, sn.UseQuota, encodeMap(sn.Metadata), sn.CreatedAt, sn.UpdatedAt,
		columnValue(sn.DeletedAt), sn.Deleted)
	if err != nil {
		return s.dbError("snapshot create", err)
	}
	sn.ResetChanges()
	return nil
}

// SnapshotGet loads a snapshot that is not deleted
func (s *PGStore) SnapshotGet(ctx context.Context, id string) (*objects.Snapshot, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	q := "SELECT " + snapshotColumns + " FROM snapshots WHERE id = $1 AND NOT deleted"
	sn, err := scanSnapshot(db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, s.dbError("snapshot "+id, err)
	}
	return sn, nil
}

// SnapshotList returns the snapshots matching the filter
func (s *PGStore) SnapshotList(ctx context.Context, f *SnapshotFilter) ([]*objects.Snapshot, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if f == nil {
		f = &SnapshotFilter{}
	}
	a := args{}
	where := []string{"NOT deleted"}
	if f.VolumeID != "" {
		where = append(where, "volume_id = "+a.add(f.VolumeID))
	}
	if len(f.Status) > 0 {
		where = append(where, "status IN "+a.in(f.Status))
	}
	if f.Host != "" {
		where = append(where, "volume_id IN (SELECT id FROM volumes WHERE host = "+a.add(f.Host)+" OR host LIKE "+a.add(f.Host+"#%")+")")
	}
	q := "SELECT " + snapshotColumns + " FROM snapshots WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at"
	rs, err := db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, s.dbError("snapshot list", err)
	}
	defer rs.Close()
	res := []*objects.Snapshot{}
	for rs.Next() {
		sn, err := scanSnapshot(rs)
		if err != nil {
			return nil, s.dbError("snapshot list", err)
		}
		res = append(res, sn)
	}
	if err = rs.Err(); err != nil {
		return nil, s.dbError("snapshot list", err)
	}
	return res, nil
}

// SnapshotSave writes the changed fields of a snapshot
func (s *PGStore) SnapshotSave(ctx context.Context, sn *objects.Snapshot) error {
	ok, err := s.snapshotUpdate(ctx, sn, nil)
	if err == nil && !ok {
		err = fmt.Errorf("snapshot %s: %w", sn.ID, ErrNotFound)
	}
	return err
}

// SnapshotConditionalSave writes the changed fields only if the current status is one of status
func (s *PGStore) SnapshotConditionalSave(ctx context.Context, sn *objects.Snapshot, status []string) (bool, error) {
	return s.snapshotUpdate(ctx, sn, status)
}

func (s *PGStore) snapshotUpdate(ctx context.Context, sn *objects.Snapshot, status []string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	a := args{}
	idArg := a.add(sn.ID)
	set, err := updateSet(sn, &a, "id", "created_at", "updated_at")
	if err != nil {
		return false, err
	}
	now := nowHook()
	if set != "" {
		set += ", "
	}
	set += "updated_at = " + a.add(now)
	q := "UPDATE snapshots SET " + set + " WHERE id = " + idArg + " AND NOT deleted"
	if len(status) > 0 {
		q += " AND status IN " + a.in(status)
	}
	res, err := db.ExecContext(ctx, q, a...)
	if err != nil {
		return false, s.dbError("snapshot update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.dbError("snapshot update", err)
	}
	if n == 0 {
		return false, nil
	}
	sn.UpdatedAt = now
	sn.ResetChanges()
	return true, nil
}

// SnapshotDestroy soft deletes a snapshot
func (s *PGStore) SnapshotDestroy(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "UPDATE snapshots SET deleted = TRUE, deleted_at = $2, updated_at = $2, status = $3 WHERE id = $1 AND NOT deleted",
		id, nowHook(), objects.SnapshotDeleted)
	if err != nil {
		return s.dbError("snapshot destroy", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return nil
}

// SnapshotCountByVolume returns the number of live snapshots of a volume
func (s *PGStore) SnapshotCountByVolume(ctx context.Context, volumeID string) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots WHERE volume_id = $1 AND NOT deleted", volumeID).Scan(&n); err != nil {
		return 0, s.dbError("snapshot count", err)
	}
	return n, nil
}
