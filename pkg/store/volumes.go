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

// VolumeOps persists volumes
type VolumeOps interface {
	VolumeCreate(ctx context.Context, v *objects.Volume) error
	VolumeGet(ctx context.Context, id string) (*objects.Volume, error)
	VolumeList(ctx context.Context, f *VolumeFilter) ([]*objects.Volume, error)
	VolumeSave(ctx context.Context, v *objects.Volume) error
	VolumeConditionalSave(ctx context.Context, v *objects.Volume, exp *Expect) (bool, error)
	VolumeDestroy(ctx context.Context, id string) error
}

// VolumeFilter selects volumes; empty fields do not filter
type VolumeFilter struct {
	Host        string // prefix match on "host@backend"
	Status      []string
	Name        string
	ClusterName string
	Limit       int
}

// Expect are the conditions of a conditional save. Empty fields do not filter.
type Expect struct {
	Status        []string
	AttachStatus  []string
	NoSnapshots   bool
	NoAttachments bool
	NotMigrating  bool
}

// MigratingStatuses are the migration statuses of a volume with a migration in progress
var MigratingStatuses = []string{objects.MigrationStarting, objects.MigrationMigrating}

const volumeColumns = "id, display_name, display_description, size, status, attach_status, migration_status, " +
	"host, availability_zone, volume_type, provider_location, provider_id, provider_auth, snapshot_id, source_volid, " +
	"metadata, admin_metadata, cluster_name, service_uuid, shared_targets, group_id, created_at, updated_at, deleted_at, deleted"

func scanVolume(rs rowScanner) (*objects.Volume, error) {
	v := &objects.Volume{}
	var md, amd string
	var deletedAt sql.NullTime
	err := rs.Scan(&v.ID, &v.Name, &v.Description, &v.Size, &v.Status, &v.AttachStatus, &v.MigrationStatus,
		&v.Host, &v.AvailabilityZone, &v.VolumeType, &v.ProviderLocation, &v.ProviderID, &v.ProviderAuth, &v.SnapshotID, &v.SourceVolID,
		&md, &amd, &v.ClusterName, &v.ServiceUUID, &v.SharedTargets, &v.GroupID, &v.CreatedAt, &v.UpdatedAt, &deletedAt, &v.Deleted)
	if err != nil {
		return nil, err
	}
	v.Metadata = decodeMap(md)
	v.AdminMetadata = decodeMap(amd)
	if deletedAt.Valid {
		t := deletedAt.Time
		v.DeletedAt = &t
	}
	return v, nil
}

// VolumeCreate inserts a volume. CreatedAt and UpdatedAt are set.
func (s *PGStore) VolumeCreate(ctx context.Context, v *objects.Volume) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	now := nowHook()
	v.CreatedAt, v.UpdatedAt = now, now
	q := "INSERT INTO volumes (" + volumeColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)"
	_, err = db.ExecContext(ctx, q, v.ID, v.Name, v.Description, v.Size, v.Status, v.AttachStatus, v.MigrationStatus,
		v.Host, v.AvailabilityZone, v.VolumeType, v.ProviderLocation, v.ProviderID, v.ProviderAuth, v.SnapshotID, v.SourceVolID,
		encodeMap(v.Metadata), encodeMap(v.AdminMetadata), v.ClusterName, v.ServiceUUID, v.SharedTargets, v.GroupID,
		v.CreatedAt, v.UpdatedAt, columnValue(v.DeletedAt), v.Deleted)
	if err != nil {
		return s.dbError("volume create", err)
	}
	v.ResetChanges()
	return nil
}

// VolumeGet loads a volume that is not deleted
func (s *PGStore) VolumeGet(ctx context.Context, id string) (*objects.Volume, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	q := "SELECT " + volumeColumns + " FROM volumes WHERE id = $1 AND NOT deleted"
	v, err := scanVolume(db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, s.dbError("volume "+id, err)
	}
	return v, nil
}

// VolumeList returns the volumes matching the filter, ordered by creation time
func (s *PGStore) VolumeList(ctx context.Context, f *VolumeFilter) ([]*objects.Volume, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if f == nil {
		f = &VolumeFilter{}
	}
	a := args{}
	where := []string{"NOT deleted"}
	if f.Host != "" {
		where = append(where, "(host = "+a.add(f.Host)+" OR host LIKE "+a.add(f.Host+"#%")+")")
	}
	if len(f.Status) > 0 {
		where = append(where, "status IN "+a.in(f.Status))
	}
	if f.Name != "" {
		where = append(where, "display_name = "+a.add(f.Name))
	}
	if f.ClusterName != "" {
		where = append(where, "cluster_name = "+a.add(f.ClusterName))
	}
	q := "SELECT " + volumeColumns + " FROM volumes WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rs, err := db.QueryContext(ctx, q, a...)
	if err != nil {
		return nil, s.dbError("volume list", err)
	}
	defer rs.Close()
	res := []*objects.Volume{}
	for rs.Next() {
		v, err := scanVolume(rs)
		if err != nil {
			return nil, s.dbError("volume list", err)
		}
		res = append(res, v)
	}
	if err = rs.Err(); err != nil {
		return nil, s.dbError("volume list", err)
	}
	return res, nil
}

// VolumeSave writes the changed fields of a volume
func (s *PGStore) VolumeSave(ctx context.Context, v *objects.Volume) error {
	ok, err := s.volumeUpdate(ctx, v, nil)
	if err == nil && !ok {
		err = fmt.Errorf("volume %s: %w", v.ID, ErrNotFound)
	}
	return err
}

// VolumeConditionalSave writes the changed fields of a volume only if the row satisfies exp.
// It returns false if the row did not match; the object is unchanged in that case.
func (s *PGStore) VolumeConditionalSave(ctx context.Context, v *objects.Volume, exp *Expect) (bool, error) {
	return s.volumeUpdate(ctx, v, exp)
}

func (s *PGStore) volumeUpdate(ctx context.Context, v *objects.Volume, exp *Expect) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	a := args{}
	idArg := a.add(v.ID)
	set, err := updateSet(v, &a, "id", "created_at", "updated_at")
	if err != nil {
		return false, err
	}
	now := nowHook()
	if set != "" {
		set += ", "
	}
	set += "updated_at = " + a.add(now)
	where := []string{"id = " + idArg, "NOT deleted"}
	if exp != nil {
		if len(exp.Status) > 0 {
			where = append(where, "status IN "+a.in(exp.Status))
		}
		if len(exp.AttachStatus) > 0 {
			where = append(where, "attach_status IN "+a.in(exp.AttachStatus))
		}
		if exp.NoSnapshots {
			where = append(where, "NOT EXISTS (SELECT 1 FROM snapshots WHERE snapshots.volume_id = volumes.id AND NOT snapshots.deleted)")
		}
		if exp.NoAttachments {
			where = append(where, "NOT EXISTS (SELECT 1 FROM volume_attachments WHERE volume_attachments.volume_id = volumes.id AND NOT volume_attachments.deleted)")
		}
		if exp.NotMigrating {
			where = append(where, "migration_status NOT IN "+a.in(MigratingStatuses))
		}
	}
	q := "UPDATE volumes SET " + set + " WHERE " + strings.Join(where, " AND ")
	res, err := db.ExecContext(ctx, q, a...)
	if err != nil {
		return false, s.dbError("volume update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.dbError("volume update", err)
	}
	if n == 0 {
		return false, nil
	}
	v.UpdatedAt = now
	v.ResetChanges()
	return true, nil
}

// VolumeDestroy soft deletes a volume
func (s *PGStore) VolumeDestroy(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	now := nowHook()
	res, err := db.ExecContext(ctx, "UPDATE volumes SET deleted = TRUE, deleted_at = $2, updated_at = $2, status = $3, attach_status = $4 WHERE id = $1 AND NOT deleted",
		id, now, objects.VolumeDeleted, objects.AttachDetached)
	if err != nil {
		return s.dbError("volume destroy", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("volume %s: %w", id, ErrNotFound)
	}
	return nil
}

