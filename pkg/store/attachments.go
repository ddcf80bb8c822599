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
	"encoding/json"
	"fmt"
	"time"
)

// Attachment records a volume connection to a host
type Attachment struct {
	ID             string          `json:"id"`
	VolumeID       string          `json:"volume_id"`
	AttachedHost   string          `json:"attached_host"`
	AttachStatus   string          `json:"attach_status"`
	Connector      json.RawMessage `json:"connector"`
	ConnectionInfo json.RawMessage `json:"connection_info"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AttachmentOps persists attachments
type AttachmentOps interface {
	AttachmentCreate(ctx context.Context, at *Attachment) error
	AttachmentList(ctx context.Context, volumeID string) ([]*Attachment, error)
	AttachmentDelete(ctx context.Context, id string) error
}

func rawOrEmpty(r json.RawMessage) string {
	if len(r) == 0 {
		return "{}"
	}
	return string(r)
}

// AttachmentCreate inserts an attachment
func (s *PGStore) AttachmentCreate(ctx context.Context, at *Attachment) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	now := nowHook()
	at.CreatedAt, at.UpdatedAt = now, now
	_, err = db.ExecContext(ctx, "INSERT INTO volume_attachments (id, volume_id, attached_host, attach_status, connector, connection_info, created_at, updated_at, deleted) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)",
		at.ID, at.VolumeID, at.AttachedHost, at.AttachStatus, rawOrEmpty(at.Connector), rawOrEmpty(at.ConnectionInfo), now, now)
	if err != nil {
		return s.dbError("attachment create", err)
	}
	return nil
}

// AttachmentList returns the live attachments of a volume
func (s *PGStore) AttachmentList(ctx context.Context, volumeID string) ([]*Attachment, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rs, err := db.QueryContext(ctx, "SELECT id, volume_id, attached_host, attach_status, connector, connection_info, created_at, updated_at FROM volume_attachments WHERE volume_id = $1 AND NOT deleted ORDER BY created_at", volumeID)
	if err != nil {
		return nil, s.dbError("attachment list", err)
	}
	defer rs.Close()
	res := []*Attachment{}
	for rs.Next() {
		at := &Attachment{}
		var conn, info string
		if err = rs.Scan(&at.ID, &at.VolumeID, &at.AttachedHost, &at.AttachStatus, &conn, &info, &at.CreatedAt, &at.UpdatedAt); err != nil {
			return nil, s.dbError("attachment list", err)
		}
		at.Connector = json.RawMessage(conn)
		at.ConnectionInfo = json.RawMessage(info)
		res = append(res, at)
	}
	if err = rs.Err(); err != nil {
		return nil, s.dbError("attachment list", err)
	}
	return res, nil
}

// AttachmentDelete soft deletes an attachment
func (s *PGStore) AttachmentDelete(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "UPDATE volume_attachments SET deleted = TRUE, updated_at = $2 WHERE id = $1 AND NOT deleted", id, nowHook())
	if err != nil {
		return s.dbError("attachment delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	return nil
}
