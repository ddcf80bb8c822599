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

	"github.com/Nuvoloso/volumed/pkg/api"
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/volume"
	"github.com/go-openapi/swag"
)

func init() {
	initService()
	initPool()
	initCleanup()
	initTask()
}

func initService() {
	cmd, _ := parser.AddCommand("service", "Service commands", "Service subcommands", &serviceCmd{})
	cmd.Aliases = []string{"services"}
	cmd.AddCommand("list", "List services", "List the registered services and their state.", &serviceListCmd{})
	cmd.AddCommand("enable", "Enable a service", "Enable a service so that new volumes may be placed on it.", &serviceEnableCmd{})
	cmd.AddCommand("disable", "Disable a service", "Disable a service so that no new volumes are placed on it.", &serviceDisableCmd{})
	cmd.AddCommand("set-log", "Set log level", "Set the log level of the loggers of the matching services.", &serviceSetLogCmd{})
	cmd.AddCommand("get-log", "Get log level", "Get the log level of the loggers of the matching services.", &serviceGetLogCmd{})
}

func initPool() {
	cmd, _ := parser.AddCommand("pool", "Pool commands", "Pool subcommands", &poolCmd{})
	cmd.Aliases = []string{"pools"}
	cmd.AddCommand("list", "List pools", "List the pools reported by the backends.", &poolListCmd{})
}

func initCleanup() {
	parser.AddCommand("cleanup", "Clean up services", "Request the cleanup of resources left behind by services that stopped.", &cleanupCmd{})
}

func initTask() {
	cmd, _ := parser.AddCommand("task", "Task commands", "Task subcommands", &taskCmd{})
	cmd.Aliases = []string{"tasks"}
	cmd.AddCommand("list", "List tasks", "List the tasks of the service.", &taskListCmd{})
	cmd.AddCommand("get", "Get a task", "Get information about a task.", &taskGetCmd{})
	cmd.AddCommand("cancel", "Cancel a task", "Request the cancellation of a task.", &taskCancelCmd{})
}

type serviceCmd struct {
	outputCmd
}

func (c *serviceCmd) Emit(data []*api.ServiceView) error {
	if c.format() != "table" {
		return c.emitRaw(data)
	}
	rows := make([][]string, 0, len(data))
	for _, o := range data {
		updated := ""
		if o.UpdatedAt != nil {
			updated = timeString(*o.UpdatedAt)
		}
		rows = append(rows, []string{
			strconv.FormatInt(o.ID, 10),
			o.Binary,
			o.Host,
			swag.StringValue(o.Cluster),
			o.Status,
			o.State,
			swag.StringValue(o.DisabledReason),
			updated,
		})
	}
	return appCtx.EmitTable([]string{hID, hBinary, hHost, hCluster, hStatus, hState, hDisabledReason, hUpdated}, rows, nil)
}

type serviceListCmd struct {
	Host   string `long:"service-host" description:"The service host"`
	Binary string `long:"binary" description:"The service binary"`

	serviceCmd
	remainingArgsCatcher
}

func (c *serviceListCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	q := url.Values{}
	if c.Host != "" {
		q.Set("host", c.Host)
	}
	if c.Binary != "" {
		q.Set("binary", c.Binary)
	}
	res := struct {
		Services []*api.ServiceView `json:"services"`
	}{}
	if _, err := appCtx.client.Do(http.MethodGet, "/v3/os-services", q, nil, &res); err != nil {
		return err
	}
	return c.Emit(res.Services)
}

// serviceSelector identifies services by host and binary
type serviceSelector struct {
	Host   string `long:"service-host" description:"The service host" required:"yes"`
	Binary string `long:"binary" description:"The service binary" default:"volumed"`
}

type serviceEnableCmd struct {
	serviceSelector
	serviceCmd
	remainingArgsCatcher
}

func (c *serviceEnableCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	body := &api.ServiceActionBody{Host: c.serviceSelector.Host, Binary: c.serviceSelector.Binary}
	res := map[string]interface{}{}
	if _, err := appCtx.client.Do(http.MethodPut, "/v3/os-services/enable", nil, body, &res); err != nil {
		return err
	}
	return c.emitRaw(res)
}

type serviceDisableCmd struct {
	Reason string `short:"r" long:"reason" description:"The reason the service is disabled"`

	serviceSelector
	serviceCmd
	remainingArgsCatcher
}

func (c *serviceDisableCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	action := "disable"
	if c.Reason != "" {
		action = "disable-log-reason"
	}
	body := &api.ServiceActionBody{Host: c.serviceSelector.Host, Binary: c.serviceSelector.Binary, DisabledReason: c.Reason}
	res := map[string]interface{}{}
	if _, err := appCtx.client.Do(http.MethodPut, "/v3/os-services/"+action, nil, body, &res); err != nil {
		return err
	}
	return c.emitRaw(res)
}

type serviceSetLogCmd struct {
	Level  string `short:"l" long:"level" description:"The log level" choice:"critical" choice:"error" choice:"warning" choice:"notice" choice:"info" choice:"debug" required:"yes"`
	Prefix string `short:"p" long:"prefix" description:"The logger module; all loggers if not set"`
	Host   string `long:"service-host" description:"Only services on this host"`
	Binary string `long:"binary" description:"Only services of this binary"`

	serviceCmd
	remainingArgsCatcher
}

func (c *serviceSetLogCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	body := &objects.LogLevel{Prefix: c.Prefix, Level: c.Level, Host: c.Host, Binary: c.Binary}
	_, err := appCtx.client.Do(http.MethodPut, "/v3/os-services/set-log", nil, body, nil)
	return err
}

type serviceGetLogCmd struct {
	Prefix string `short:"p" long:"prefix" description:"The logger module; all loggers if not set"`
	Host   string `long:"service-host" description:"Only services on this host"`
	Binary string `long:"binary" description:"Only services of this binary"`

	serviceCmd
	remainingArgsCatcher
}

func (c *serviceGetLogCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	body := &objects.LogLevel{Prefix: c.Prefix, Host: c.Host, Binary: c.Binary}
	res := struct {
		LogLevels []*api.LogLevels `json:"log_levels"`
	}{}
	if _, err := appCtx.client.Do(http.MethodPut, "/v3/os-services/get-log", nil, body, &res); err != nil {
		return err
	}
	if c.format() != "table" {
		return c.emitRaw(res.LogLevels)
	}
	rows := [][]string{}
	for _, ll := range res.LogLevels {
		for _, prefix := range sortedKeys(ll.Levels) {
			rows = append(rows, []string{ll.Host, ll.Binary, prefix, ll.Levels[prefix]})
		}
	}
	return appCtx.EmitTable([]string{hHost, hBinary, hPrefix, hLevel}, rows, nil)
}

type poolCmd struct {
	outputCmd
}

type poolListCmd struct {
	Detail bool `short:"d" long:"detail" description:"Show the capacity of the pools"`

	poolCmd
	remainingArgsCatcher
}

func (c *poolListCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	q := url.Values{}
	if !c.Detail {
		res := struct {
			Pools []map[string]string `json:"pools"`
		}{}
		if _, err := appCtx.client.Do(http.MethodGet, "/v3/scheduler-stats/get_pools", q, nil, &res); err != nil {
			return err
		}
		if c.format() != "table" {
			return c.emitRaw(res.Pools)
		}
		rows := make([][]string, 0, len(res.Pools))
		for _, p := range res.Pools {
			rows = append(rows, []string{p["name"]})
		}
		return appCtx.EmitTable([]string{hPool}, rows, nil)
	}
	q.Set("detail", "true")
	res := struct {
		Pools []*volume.PoolInfo `json:"pools"`
	}{}
	if _, err := appCtx.client.Do(http.MethodGet, "/v3/scheduler-stats/get_pools", q, nil, &res); err != nil {
		return err
	}
	if c.format() != "table" {
		return c.emitRaw(res.Pools)
	}
	rows := make([][]string, 0, len(res.Pools))
	for _, p := range res.Pools {
		total := ""
		if p.Stats != nil {
			total = capacityString(p.Stats.TotalCapacityGiB)
		}
		rows = append(rows, []string{p.Host, p.Backend, p.StorageProtocol, total, capacityString(p.FreeGiB)})
	}
	return appCtx.EmitTable([]string{hPool, hBackend, hProtocol, hTotal, hFree}, rows, nil)
}

type cleanupServiceView struct {
	ID          int64  `json:"id"`
	Host        string `json:"host"`
	Binary      string `json:"binary"`
	ClusterName string `json:"cluster_name"`
}

type cleanupCmd struct {
	ServiceID   int64  `long:"service-id" description:"Only the service with this identifier"`
	ClusterName string `long:"cluster-name" description:"Only services of this cluster"`
	Host        string `long:"service-host" description:"Only services on this host"`
	Binary      string `long:"binary" description:"Only services of this binary"`
	Disabled    string `long:"disabled" description:"Only disabled or enabled services" choice:"true" choice:"false"`

	outputCmd
	remainingArgsCatcher
}

func (c *cleanupCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	req := &objects.CleanupRequest{ServiceID: c.ServiceID, ClusterName: c.ClusterName, Host: c.Host, Binary: c.Binary}
	if c.Disabled != "" {
		req.Disabled = swag.Bool(c.Disabled == "true")
	}
	res := struct {
		Cleaning    []*cleanupServiceView `json:"cleaning"`
		Unavailable []*cleanupServiceView `json:"unavailable"`
	}{}
	if _, err := appCtx.client.Do(http.MethodPost, "/v3/workers/cleanup", nil, req, &res); err != nil {
		return err
	}
	if c.format() != "table" {
		return c.emitRaw(res)
	}
	rows := [][]string{}
	add := func(svcs []*cleanupServiceView, state string) {
		for _, s := range svcs {
			rows = append(rows, []string{strconv.FormatInt(s.ID, 10), s.Binary, s.Host, s.ClusterName, state})
		}
	}
	add(res.Cleaning, "cleaning")
	add(res.Unavailable, "unavailable")
	return appCtx.EmitTable([]string{hID, hBinary, hHost, hCluster, hState}, rows, nil)
}

type taskCmd struct {
	outputCmd
}

func (c *taskCmd) Emit(data []*tasks.View) error {
	if c.format() != "table" {
		return c.emitRaw(data)
	}
	rows := make([][]string, 0, len(data))
	for _, o := range data {
		pct := ""
		if o.Progress != nil {
			pct = fmt.Sprintf("%d%%", o.Progress.PercentComplete)
		}
		rows = append(rows, []string{o.ID, o.Operation, o.ObjectID, o.State, pct, o.Error, timeString(o.CreatedAt)})
	}
	return appCtx.EmitTable([]string{hID, hOperation, hObjectID, hState, hProgress, hError, hCreated}, rows, nil)
}

type taskListCmd struct {
	Operation string `long:"operation" description:"Only tasks of this operation"`

	taskCmd
	remainingArgsCatcher
}

func (c *taskListCmd) Execute(args []string) error {
	if err := c.verifyNoRemainingArgs(); err != nil {
		return err
	}
	q := url.Values{}
	if c.Operation != "" {
		q.Set("operation", c.Operation)
	}
	res := struct {
		Tasks []*tasks.View `json:"tasks"`
	}{}
	if _, err := appCtx.client.Do(http.MethodGet, "/v3/tasks", q, nil, &res); err != nil {
		return err
	}
	return c.Emit(res.Tasks)
}

type taskGetCmd struct {
	taskCmd
	requiredIDRemainingArgsCatcher
}

func (c *taskGetCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	res := struct {
		Task *tasks.View `json:"task"`
	}{}
	if _, err := appCtx.client.Do(http.MethodGet, "/v3/tasks/"+url.PathEscape(c.ID), nil, nil, &res); err != nil {
		return err
	}
	if res.Task == nil {
		return errors.New("invalid response")
	}
	return c.Emit([]*tasks.View{res.Task})
}

type taskCancelCmd struct {
	Confirm bool `long:"confirm" description:"Confirm the cancellation of the task"`

	taskCmd
	requiredIDRemainingArgsCatcher
}

func (c *taskCancelCmd) Execute(args []string) error {
	if err := c.verifyRequiredIDAndNoRemainingArgs(); err != nil {
		return err
	}
	if !c.Confirm {
		return fmt.Errorf("specify --confirm to cancel the \"%s\" task", c.ID)
	}
	_, err := appCtx.client.Do(http.MethodDelete, "/v3/tasks/"+url.PathEscape(c.ID), nil, nil, nil)
	return err
}
