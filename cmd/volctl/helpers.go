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
	"strconv"
	"strings"
	"time"

	"github.com/Nuvoloso/volumed/pkg/tasks"
	"github.com/Nuvoloso/volumed/pkg/util"
	"github.com/alecthomas/units"
	goUnits "github.com/docker/go-units"
	"github.com/go-openapi/strfmt"
)

type remainingArgsField struct {
	Rest []string `positional-arg-name:"[--] "`
}

// remainingArgsCatcher provides a generic way to handle un-flagged arguments
type remainingArgsCatcher struct {
	RemainingArgs remainingArgsField `positional-args:"yes"`
}

func (c *remainingArgsCatcher) verifyNoRemainingArgs() error {
	return c.verifyNRemainingArgs(0)
}

func (c *remainingArgsCatcher) verifyNRemainingArgs(n int) error {
	l := len(c.RemainingArgs.Rest)
	if l < n {
		return fmt.Errorf("#non-flag arguments expected: %d", n)
	}
	if l > n {
		return fmt.Errorf("unexpected arguments: %v", c.RemainingArgs.Rest[n:])
	}
	return nil
}

// requiredIDRemainingArgsCatcher processes a required ID that may be given without the --id flag
type requiredIDRemainingArgsCatcher struct {
	ID string `long:"id" description:"The identifier of the object concerned. May also be specified without the '--id' flag. Required"`
	remainingArgsCatcher
}

func (c *requiredIDRemainingArgsCatcher) verifyRequiredIDAndNoRemainingArgs() error {
	if c.ID == "" {
		if len(c.RemainingArgs.Rest) != 1 {
			return fmt.Errorf("expected --id flag or a single identifier argument")
		}
		c.ID = c.RemainingArgs.Rest[0]
		return nil
	}
	return c.verifyNoRemainingArgs()
}

// parseSizeGiB accepts a number of GiB or a size with units such as "512MiB" or "2T"; sizes are rounded up to GiB
func parseSizeGiB(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return n, nil
	}
	b, err := goUnits.RAMInBytes(s)
	if err != nil || b <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return util.RoundUpBytes(b, int64(units.GiB)) / int64(units.GiB), nil
}

func sizeGiBString(gib int64) string {
	return util.SizeBytesToString(util.GiBToBytes(gib))
}

func capacityString(gib float64) string {
	return goUnits.BytesSize(gib * float64(units.GiB))
}

func timeString(dt strfmt.DateTime) string {
	t := time.Time(dt)
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.RFC3339)
}

// task polling interval (a var for testing purposes)
var taskPollInterval = time.Second

// taskWaiter provides the --wait flag of asynchronous commands
type taskWaiter struct {
	Wait bool `short:"w" long:"wait" description:"Wait for the operation to complete"`
}

// waitFor polls the task until it terminates, returning an error if it did not succeed
func (tw *taskWaiter) waitFor(taskID string) error {
	if !tw.Wait || taskID == "" {
		return nil
	}
	for {
		res := struct{ Task *tasks.View }{}
		if _, err := appCtx.client.Do("GET", "/v3/tasks/"+taskID, nil, nil, &res); err != nil {
			return err
		}
		if res.Task == nil {
			return fmt.Errorf("task %s: invalid response", taskID)
		}
		switch res.Task.State {
		case "SUCCEEDED":
			return nil
		case "FAILED", "CANCELED":
			return fmt.Errorf("%s %s %s: %s", res.Task.Operation, res.Task.ObjectID, res.Task.State, res.Task.Error)
		}
		time.Sleep(taskPollInterval)
	}
}

// outputCmd provides the output format of a command. The flag may also be specified before the command.
type outputCmd struct {
	OutputFormat string `hidden:"1" short:"o" long:"output" description:"Output format control" choice:"json" choice:"table" choice:"yaml" default:"table"`
}

func (c *outputCmd) format() string {
	if c.OutputFormat == "" || c.OutputFormat == "table" {
		return appCtx.OutputFormat
	}
	return c.OutputFormat
}

// versioned reports whether objects are to be emitted in their versioned form
func (c *outputCmd) versioned() (bool, error) {
	if appCtx.ObjectVersions == "" {
		return false, nil
	}
	if c.format() == "table" {
		return false, fmt.Errorf("object-versions requires json or yaml output")
	}
	return true, nil
}

// emitRaw emits data that has no table form; JSON is used for table output
func (c *outputCmd) emitRaw(data interface{}) error {
	if c.format() == "yaml" {
		return appCtx.EmitYAML(data)
	}
	return appCtx.EmitJSON(data)
}

// emitTask reports a submitted task unless the command waited for it
func emitTask(taskID string) {
	if taskID != "" {
		fmt.Fprintf(outputWriter, "Task %s\n", taskID)
	}
}

func sortedKeys(m map[string]string) []string {
	return util.SortedStringKeys(m)
}

func joinMap(m map[string]string) string {
	keys := sortedKeys(m)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+m[k])
	}
	return strings.Join(parts, ", ")
}
