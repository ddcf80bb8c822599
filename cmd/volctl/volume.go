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
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/volume"
)

func init() {
	initVolume()
}

func initVolume() {
	cmd, _ := parser.AddCommand("volume", "Volume commands", "Volume subcommands", &volumeCmd{})
	cmd.Aliases = []string{"vol", "volumes"}
	cmd.AddCommand("list", "List volumes", "List or search for volumes.", &volumeListCmd{})
	cmd.AddCommand("get", "Get a volume", "Get a volume and its attachments.", &volumeGetCmd{})
	cmd.AddCommand("create", "Create a volume", "Create a volume, optionally from a snapshot or another volume.", &volumeCreateCmd{})
	cmd.AddCommand("delete", "Delete a volume", "Delete a volume.", &volumeDeleteCmd{})
	cmd.AddCommand("extend", "Extend a volume", "Increase the size of a volume.", &volumeExtendCmd{})
	cmd.AddCommand("connect", "Export a volume", "Export a volume to a host and display the connection information.", &volumeConnectCmd{})
	cmd.AddCommand("disconnect", "Unexport a volume", "Remove the export of a volume to a host.", &volumeDisconnectCmd{})
	cmd.AddCommand("migrate", "Migrate a volume", "Move a volume to another pool.", &volumeMigrateCmd{})
	cmd.AddCommand("reset-status", "Reset volume status", "Forcibly set the status fields of a volume.", &volumeResetStatusCmd{})
	cmd.AddCommand("manage", "Manage an existing volume", "Bring an existing backend volume under management.", &volumeManageCmd{})
	cmd.AddCommand("unmanage", "Unmanage a volume", "Remove a volume from management without deleting it from the backend.", &volumeUnmanageCmd{})
	cmd.AddCommand("attachments", "List attachments", "List the attachments of a volume.", &volumeAttachmentsCmd{})
	cmd.AddCommand("manageable", "List manageable volumes", "List the backend volumes of a pool that could be managed.", &volumeManageableCmd{})
}

type volumeCmd struct {
	outputCmd
}

var volumeHeaders = []string{hID, hName, hSize, hStatus, hAttachStatus, hHost, hType, hCreated}

func (c *volumeCmd) makeRow(o *api.VolumeView) []string {
	return []string{
		o.ID,
		o.Name,
		sizeGiBString(o.Size),
		o.Status,
		o.AttachStatus,
		o.Host,
		o.VolumeType,
		timeString(o.CreatedAt),
	}
}

func (c *volumeCmd) Emit(data []*api.VolumeView) error {
	if c.format() != "table" {
		return c.emitRaw(data)
	}
	rows := make([][]string, 0, len(data))
	for _, o := range data {
		rows = append(rows, c.makeRow(o))
	}
	return appCtx.EmitTable(volumeHeaders, rows, nil)
}

// fetch gets a volume, emitting the versioned form if requested
func (c *volumeCmd) fetch(id string) error {
	versioned, err := c.versioned()
	if err != nil {
		return err
	}
	path := "/v3/volumes/" + url.PathEscape(id)
	if versioned {
		res := map[string]interface{}{}
		if _, err = appCtx.client.Do(http.MethodGet, path, nil, nil, &res); err != nil {
			return err
		}
		return c.emitRaw(res["volume"])
	}
	res := struct {
		Volume *api.VolumeView `json:"volume"`
	}{}
	if _, err = appCtx.client.Do(http.MethodGet, path, nil, nil, &res); err != nil {
		return err
	}
	return c.Emit([]*api.VolumeView{res.Volume})
}

type volumeListCmd struct {
	Host        string   `long:"backend-host" description:"The backend host of the volumes (host@backend)"`
	Name        string   `short:"n" long:"name" description:"The volume name"`
	Status      []string `short:"s" long:"status" description:"A volume status. Repeat as needed"`
	ClusterName string   `long:"cluster-name" description:"The cluster of the volumes"`
	Limit       int      `long:"limit" description:"The maximum number of volumes to list"`

	volumeCmd
	remainingArgsCatcher
}

func (c *volumeListCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	versioned, err := c.versioned()
	if err != nil {
		return err
	}
	q := url.Values{}
	if c.Host != "" {
		q.Set("host", c.Host)
	}
	if c.Name != "" {
		q.Set("name", c.Name)
	}
	if len(c.Status) > 0 {
		q.Set("status", strings.Join(c.Status, ","))
	}
	if c.ClusterName != "" {
		q.Set("cluster_name", c.ClusterName)
	}
	if c.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.Limit))
	}
	if versioned {
		res := map[string]interface{}{}
		if _, err = appCtx.client.Do(http.MethodGet, "/v3/volumes", q, nil, &res); err != nil {
			return err
		}
		return c.emitRaw(res["volumes"])
	}
	res := struct {
		Volumes []*api.VolumeView `json:"volumes"`
	}{}
	if _, err = appCtx.client.Do(http.MethodGet, "/v3/volumes", q, nil, &res); err != nil {
		return err
	}
	return c.Emit(res.Volumes)
}

type volumeGetCmd struct {
	volumeCmd
	requiredIDRemainingArgsCatcher
}

func (c *volumeGetCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	return c.fetch(c.ID)
}

type volumeCreateCmd struct {
	Name             string            `short:"n" long:"name" description:"The volume name"`
	Description      string            `short:"d" long:"description" description:"The volume description"`
	Size             string            `short:"s" long:"size" description:"The size in GiB, or with a unit suffix such as 512MiB or 2T. Rounded up to GiB. Required unless creating from a snapshot or volume"`
	VolumeType       string            `short:"t" long:"type" description:"The volume type"`
	AvailabilityZone string            `short:"z" long:"availability-zone" description:"The availability zone"`
	SnapshotID       string            `long:"snapshot-id" description:"Create the volume from this snapshot"`
	SourceVolID      string            `long:"source-volume-id" description:"Create the volume as a clone of this volume"`
	Metadata         map[string]string `short:"m" long:"metadata" description:"A metadata key:value pair. Repeat as needed"`
	Host             string            `long:"pool" description:"Create the volume in this pool (host@backend#pool)"`

	volumeCmd
	taskWaiter
	remainingArgsCatcher
}

func (c *volumeCreateCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	body := &api.VolumeCreateBody{}
	if c.Size != "" {
		gib, err := parseSizeGiB(c.Size)
		if err != nil {
			return err
		}
		body.Volume.Size = gib
	} else if c.SnapshotID == "" && c.SourceVolID == "" {
		return errors.New("the required flag `-s, --size' was not specified")
	}
	body.Volume.Name = c.Name
	body.Volume.Description = c.Description
	body.Volume.VolumeType = c.VolumeType
	body.Volume.AvailabilityZone = c.AvailabilityZone
	body.Volume.SnapshotID = c.SnapshotID
	body.Volume.SourceVolID = c.SourceVolID
	body.Volume.Metadata = c.Metadata
	body.Volume.Host = c.Host
	res := struct {
		Volume *api.VolumeView `json:"volume"`
	}{}
	resp, err := appCtx.client.Do(http.MethodPost, "/v3/volumes", nil, body, &res)
	if err != nil {
		return err
	}
	if !c.Wait {
		return c.Emit([]*api.VolumeView{res.Volume})
	}
	if err = c.waitFor(resp.Header.Get(api.TaskIDHeader)); err != nil {
		return err
	}
	return c.fetch(res.Volume.ID)
}

type volumeDeleteCmd struct {
	Force   bool `short:"f" long:"force" description:"Delete the volume regardless of its status"`
	Confirm bool `long:"confirm" description:"Confirm the deletion of the volume"`

	volumeCmd
	taskWaiter
	requiredIDRemainingArgsCatcher
}

func (c *volumeDeleteCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	if !c.Confirm {
		return fmt.Errorf("specify --confirm to delete the \"%s\" volume", c.ID)
	}
	q := url.Values{}
	if c.Force {
		q.Set("force", "true")
	}
	resp, err := appCtx.client.Do(http.MethodDelete, "/v3/volumes/"+url.PathEscape(c.ID), q, nil, nil)
	if err != nil {
		return err
	}
	return c.finish(resp)
}

// finish waits for the task of an accepted request or reports its identifier
func (c *taskWaiter) finish(resp *http.Response) error {
	taskID := resp.Header.Get(api.TaskIDHeader)
	if c.Wait {
		return c.waitFor(taskID)
	}
	emitTask(taskID)
	return nil
}

// action posts a volume action
func (c *volumeCmd) action(id string, name string, body interface{}, out interface{}) (*http.Response, error) {
	return appCtx.client.Do(http.MethodPost, "/v3/volumes/"+url.PathEscape(id)+"/action", nil, map[string]interface{}{name: body}, out)
}

type volumeExtendCmd struct {
	NewSize string `short:"s" long:"new-size" description:"The new size in GiB, or with a unit suffix. Rounded up to GiB" required:"yes"`

	volumeCmd
	taskWaiter
	requiredIDRemainingArgsCatcher
}

func (c *volumeExtendCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	gib, err := parseSizeGiB(c.NewSize)
	if err != nil {
		return err
	}
	resp, err := c.action(c.ID, "os-extend", &api.ExtendAction{NewSize: gib}, nil)
	if err != nil {
		return err
	}
	if err = c.finish(resp); err != nil || !c.Wait {
		return err
	}
	return c.fetch(c.ID)
}

// connectorFlags describe the host of a connection
type connectorFlags struct {
	ConnectorHost string   `long:"connector-host" description:"The name of the host" required:"yes"`
	Initiator     string   `long:"initiator" description:"The iSCSI initiator name of the host"`
	WWPNs         []string `long:"wwpn" description:"A Fibre Channel port name of the host. Repeat as needed"`
	WWNNs         []string `long:"wwnn" description:"A Fibre Channel node name of the host. Repeat as needed"`
	IP            string   `long:"ip" description:"The IP address of the host"`
	Multipath     bool     `long:"multipath" description:"The host uses multipath"`
}

func (c *connectorFlags) connector() *driver.Connector {
	return &driver.Connector{
		Host:      c.ConnectorHost,
		Initiator: c.Initiator,
		WWPNs:     c.WWPNs,
		WWNNs:     c.WWNNs,
		IP:        c.IP,
		Multipath: c.Multipath,
	}
}

type volumeConnectCmd struct {
	connectorFlags
	volumeCmd
	requiredIDRemainingArgsCatcher
}

func (c *volumeConnectCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	res := struct {
		ConnectionInfo *driver.ConnectionInfo `json:"connection_info"`
	}{}
	if _, err := c.action(c.ID, "os-initialize_connection", &api.ConnectionAction{Connector: c.connector()}, &res); err != nil {
		return err
	}
	return c.emitRaw(res.ConnectionInfo)
}

type volumeDisconnectCmd struct {
	Force bool `short:"f" long:"force" description:"Forcibly detach the volume"`

	connectorFlags
	volumeCmd
	requiredIDRemainingArgsCatcher
}

func (c *volumeDisconnectCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	_, err := c.action(c.ID, "os-terminate_connection", &api.ConnectionAction{Connector: c.connector(), Force: c.Force}, nil)
	return err
}

type volumeMigrateCmd struct {
	DestHost      string `long:"dest-pool" description:"The destination pool (host@backend#pool)" required:"yes"`
	ForceHostCopy bool   `long:"force-host-copy" description:"Copy the data through the volume service host"`

	volumeCmd
	taskWaiter
	requiredIDRemainingArgsCatcher
}

func (c *volumeMigrateCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	resp, err := c.action(c.ID, "os-migrate_volume", &api.MigrateAction{Host: c.DestHost, ForceHostCopy: c.ForceHostCopy}, nil)
	if err != nil {
		return err
	}
	if err = c.finish(resp); err != nil || !c.Wait {
		return err
	}
	return c.fetch(c.ID)
}

type volumeResetStatusCmd struct {
	Status          string `long:"status" description:"The new status"`
	AttachStatus    string `long:"attach-status" description:"The new attach status"`
	MigrationStatus string `long:"migration-status" description:"The new migration status"`

	volumeCmd
	requiredIDRemainingArgsCatcher
}

func (c *volumeResetStatusCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	if c.Status == "" && c.AttachStatus == "" && c.MigrationStatus == "" {
		return errors.New("at least one of --status, --attach-status or --migration-status is required")
	}
	a := &api.ResetStatusAction{Status: c.Status, AttachStatus: c.AttachStatus, MigrationStatus: c.MigrationStatus}
	if _, err := c.action(c.ID, "os-reset_status", a, nil); err != nil {
		return err
	}
	return c.fetch(c.ID)
}

type volumeManageCmd struct {
	Host             string            `long:"pool" description:"The pool of the existing volume (host@backend#pool)" required:"yes"`
	Ref              map[string]string `short:"r" long:"ref" description:"A key:value pair identifying the existing volume, e.g. source-name:vol1. Repeat as needed" required:"yes"`
	Name             string            `short:"n" long:"name" description:"The volume name"`
	Description      string            `short:"d" long:"description" description:"The volume description"`
	VolumeType       string            `short:"t" long:"type" description:"The volume type"`
	AvailabilityZone string            `short:"z" long:"availability-zone" description:"The availability zone"`
	Metadata         map[string]string `short:"m" long:"metadata" description:"A metadata key:value pair. Repeat as needed"`

	volumeCmd
	taskWaiter
	remainingArgsCatcher
}

func (c *volumeManageCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	body := &api.VolumeManageBody{}
	body.Volume.Host = c.Host
	body.Volume.Ref = c.Ref
	body.Volume.Name = c.Name
	body.Volume.Description = c.Description
	body.Volume.VolumeType = c.VolumeType
	body.Volume.AvailabilityZone = c.AvailabilityZone
	body.Volume.Metadata = c.Metadata
	res := struct {
		Volume *api.VolumeView `json:"volume"`
	}{}
	resp, err := appCtx.client.Do(http.MethodPost, "/v3/os-volume-manage", nil, body, &res)
	if err != nil {
		return err
	}
	if !c.Wait {
		return c.Emit([]*api.VolumeView{res.Volume})
	}
	if err = c.waitFor(resp.Header.Get(api.TaskIDHeader)); err != nil {
		return err
	}
	return c.fetch(res.Volume.ID)
}

type volumeUnmanageCmd struct {
	volumeCmd
	taskWaiter
	requiredIDRemainingArgsCatcher
}

func (c *volumeUnmanageCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	resp, err := c.action(c.ID, "os-unmanage", nil, nil)
	if err != nil {
		return err
	}
	return c.finish(resp)
}

type volumeAttachmentsCmd struct {
	volumeCmd
	requiredIDRemainingArgsCatcher
}

func (c *volumeAttachmentsCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	res := struct {
		Attachments []*volume.Attachment `json:"attachments"`
	}{}
	if _, err := appCtx.client.Do(http.MethodGet, "/v3/volumes/"+url.PathEscape(c.ID)+"/attachments", nil, nil, &res); err != nil {
		return err
	}
	if c.format() != "table" {
		return c.emitRaw(res.Attachments)
	}
	rows := make([][]string, 0, len(res.Attachments))
	for _, at := range res.Attachments {
		proto := ""
		if at.ConnectionInfo != nil {
			proto = at.ConnectionInfo.DriverVolumeType
		}
		rows = append(rows, []string{at.ID, at.AttachedHost, at.AttachStatus, proto})
	}
	return appCtx.EmitTable([]string{hID, hAttachedHost, hAttachStatus, hProtocol}, rows, nil)
}

type volumeManageableCmd struct {
	Host string `long:"pool" description:"The pool to search (host@backend#pool)" required:"yes"`

	volumeCmd
	remainingArgsCatcher
}

func (c *volumeManageableCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	res := struct {
		Volumes []*objects.ManageableVolume `json:"manageable-volumes"`
	}{}
	if _, err := appCtx.client.Do(http.MethodGet, "/v3/manageable_volumes", url.Values{"host": {c.Host}}, nil, &res); err != nil {
		return err
	}
	if c.format() != "table" {
		return c.emitRaw(res.Volumes)
	}
	rows := make([][]string, 0, len(res.Volumes))
	for _, mv := range res.Volumes {
		rows = append(rows, []string{joinMap(mv.Reference), sizeGiBString(mv.Size), strconv.FormatBool(mv.SafeToManage), mv.ReasonNotSafe, mv.CinderID})
	}
	return appCtx.EmitTable([]string{hReference, hSize, hSafe, hError, hVolumeID}, rows, nil)
}
