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
	"net/http"
	"net/url"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/api"
)

func init() {
	initSnapshot()
}

func initSnapshot() {
	cmd, _ := parser.AddCommand("snapshot", "Snapshot commands", "Snapshot subcommands", &snapshotCmd{})
	cmd.Aliases = []string{"snap", "snapshots"}
	cmd.AddCommand("list", "List snapshots", "List or search for snapshots.", &snapshotListCmd{})
	cmd.AddCommand("get", "Get a snapshot", "Get a snapshot.", &snapshotGetCmd{})
	cmd.AddCommand("create", "Create a snapshot", "Create a snapshot of a volume.", &snapshotCreateCmd{})
	cmd.AddCommand("delete", "Delete a snapshot", "Delete a snapshot.", &snapshotDeleteCmd{})
	cmd.AddCommand("reset-status", "Reset snapshot status", "Forcibly set the status of a snapshot.", &snapshotResetStatusCmd{})
}

type snapshotCmd struct {
	outputCmd
}

func (c *snapshotCmd) Emit(data []*api.SnapshotView) error {
	if c.format() != "table" {
		return c.emitRaw(data)
	}
	rows := make([][]string, 0, len(data))
	for _, o := range data {
		rows = append(rows, []string{o.ID, o.Name, o.VolumeID, sizeGiBString(o.Size), o.Status, o.Progress, timeString(o.CreatedAt)})
	}
	return appCtx.EmitTable([]string{hID, hName, hVolumeID, hSize, hStatus, hProgress, hCreated}, rows, nil)
}

func (c *snapshotCmd) fetch(id string) error {
	versioned, err := c.versioned()
	if err != nil {
		return err
	}
	path := "/v3/snapshots/" + url.PathEscape(id)
	if versioned {
		res := map[string]interface{}{}
		if _, err = appCtx.client.Do(http.MethodGet, path, nil, nil, &res); err != nil {
			return err
		}
		return c.emitRaw(res["snapshot"])
	}
	res := struct {
		Snapshot *api.SnapshotView `json:"snapshot"`
	}{}
	if _, err = appCtx.client.Do(http.MethodGet, path, nil, nil, &res); err != nil {
		return err
	}
	return c.Emit([]*api.SnapshotView{res.Snapshot})
}

type snapshotListCmd struct {
	VolumeID string   `long:"volume-id" description:"The volume of the snapshots"`
	Host     string   `long:"backend-host" description:"The backend host of the snapshots (host@backend)"`
	Status   []string `short:"s" long:"status" description:"A snapshot status. Repeat as needed"`

	snapshotCmd
	remainingArgsCatcher
}

func (c *snapshotListCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	versioned, err := c.versioned()
	if err != nil {
		return err
	}
	q := url.Values{}
	if c.VolumeID != "" {
		q.Set("volume_id", c.VolumeID)
	}
	if c.Host != "" {
		q.Set("host", c.Host)
	}
	if len(c.Status) > 0 {
		q.Set("status", strings.Join(c.Status, ","))
	}
	if versioned {
		res := map[string]interface{}{}
		if _, err = appCtx.client.Do(http.MethodGet, "/v3/snapshots", q, nil, &res); err != nil {
			return err
		}
		return c.emitRaw(res["snapshots"])
	}
	res := struct {
		Snapshots []*api.SnapshotView `json:"snapshots"`
	}{}
	if _, err = appCtx.client.Do(http.MethodGet, "/v3/snapshots", q, nil, &res); err != nil {
		return err
	}
	return c.Emit(res.Snapshots)
}

type snapshotGetCmd struct {
	snapshotCmd
	requiredIDRemainingArgsCatcher
}

func (c *snapshotGetCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	return c.fetch(c.ID)
}

type snapshotCreateCmd struct {
	VolumeID    string            `long:"volume-id" description:"The volume to snapshot" required:"yes"`
	Name        string            `short:"n" long:"name" description:"The snapshot name"`
	Description string            `short:"d" long:"description" description:"The snapshot description"`
	Force       bool              `short:"f" long:"force" description:"Snapshot the volume even if it is in use"`
	Metadata    map[string]string `short:"m" long:"metadata" description:"A metadata key:value pair. Repeat as needed"`

	snapshotCmd
	taskWaiter
	remainingArgsCatcher
}

func (c *snapshotCreateCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	body := &api.SnapshotCreateBody{}
	body.Snapshot.VolumeID = c.VolumeID
	body.Snapshot.Name = c.Name
	body.Snapshot.Description = c.Description
	body.Snapshot.Force = c.Force
	body.Snapshot.Metadata = c.Metadata
	res := struct {
		Snapshot *api.SnapshotView `json:"snapshot"`
	}{}
	resp, err := appCtx.client.Do(http.MethodPost, "/v3/snapshots", nil, body, &res)
	if err != nil {
		return err
	}
	if !c.Wait {
		return c.Emit([]*api.SnapshotView{res.Snapshot})
	}
	if err = c.waitFor(resp.Header.Get(api.TaskIDHeader)); err != nil {
		return err
	}
	return c.fetch(res.Snapshot.ID)
}

type snapshotDeleteCmd struct {
	Confirm bool `long:"confirm" description:"Confirm the deletion of the snapshot"`

	snapshotCmd
	taskWaiter
	requiredIDRemainingArgsCatcher
}

func (c *snapshotDeleteCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	if !c.Confirm {
		return fmt.Errorf("specify --confirm to delete the \"%s\" snapshot", c.ID)
	}
	resp, err := appCtx.client.Do(http.MethodDelete, "/v3/snapshots/"+url.PathEscape(c.ID), nil, nil, nil)
	if err != nil {
		return err
	}
	return c.finish(resp)
}

type snapshotResetStatusCmd struct {
	Status string `long:"status" description:"The new status" required:"yes"`

	snapshotCmd
	requiredIDRemainingArgsCatcher
}

func (c *snapshotResetStatusCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	body := map[string]interface{}{"os-reset_status": &api.ResetStatusAction{Status: c.Status}}
	if _, err := appCtx.client.Do(http.MethodPost, "/v3/snapshots/"+url.PathEscape(c.ID)+"/action", nil, body, nil); err != nil {
		return err
	}
	return c.fetch(c.ID)
}
