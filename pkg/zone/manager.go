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


package zone

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/util"
	logging "github.com/op/go-logging"
)

// ClientFactory creates a client for a fabric
type ClientFactory func(fabric *Fabric, log *logging.Logger) (Client, error)

// ManagerArgs contains the arguments to create a Manager
type ManagerArgs struct {
	Config    *Config
	NewClient ClientFactory
	Log       *logging.Logger
}

// Manager adds and removes the zones of FC connections
type Manager struct {
	ManagerArgs
	locks map[string]*sync.Mutex
}

// NewManager returns a zone manager
func NewManager(args *ManagerArgs) (*Manager, error) {
	if args == nil || args.Config == nil || args.NewClient == nil || args.Log == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	m := &Manager{ManagerArgs: *args, locks: map[string]*sync.Mutex{}}
	for _, f := range m.Config.Fabrics {
		m.locks[f.Name] = &sync.Mutex{}
	}
	return m, nil
}

// Fabrics returns the names of the managed fabrics
func (m *Manager) Fabrics() []string {
	res := make([]string, 0, len(m.Config.Fabrics))
	for _, f := range m.Config.Fabrics {
		res = append(res, f.Name)
	}
	return res
}

func fcMap(ci *driver.ConnectionInfo) map[string][]string {
	if ci == nil || ci.DriverVolumeType != driver.ConnFC {
		return nil
	}
	return ci.Data.InitiatorTargetMap
}

// AddConnection creates the zones for the initiator-target map of an FC connection.
// Other connection types are ignored.
func (m *Manager) AddConnection(ctx context.Context, ci *driver.ConnectionInfo, host, storage string) error {
	itm := fcMap(ci)
	if len(itm) == 0 {
		return nil
	}
	for _, f := range m.Config.Fabrics {
		if err := m.onFabric(ctx, f, itm, host, storage, true); err != nil {
			return err
		}
	}
	return nil
}

// RemoveConnection removes the zones of the initiator-target map of an FC connection.
// Other connection types are ignored.
func (m *Manager) RemoveConnection(ctx context.Context, ci *driver.ConnectionInfo, host, storage string) error {
	itm := fcMap(ci)
	if len(itm) == 0 {
		return nil
	}
	for _, f := range m.Config.Fabrics {
		if err := m.onFabric(ctx, f, itm, host, storage, false); err != nil {
			return err
		}
	}
	return nil
}

// fabricDevices restricts the initiator-target map to the ports logged in to the fabric
func fabricDevices(nsInfo []string, itm map[string][]string) map[string][]string {
	logged := map[string]struct{}{}
	for _, w := range nsInfo {
		logged[util.NormalizeWWN(w)] = struct{}{}
	}
	res := map[string][]string{}
	for i, targets := range itm {
		if _, ok := logged[util.NormalizeWWN(i)]; !ok {
			continue
		}
		for _, t := range targets {
			if _, ok := logged[util.NormalizeWWN(t)]; ok {
				res[i] = append(res[i], t)
			}
		}
	}
	return res
}

func (m *Manager) zoneName(f *Fabric, initiator, target, host, storage string) string {
	if m.Config.FriendlyZoneNames {
		return FriendlyZoneName(f.ZoningPolicy, f.ZoneNamePrefix, initiator, target, host, storage)
	}
	return ZoneName(f.ZoningPolicy, f.ZoneNamePrefix, initiator, target)
}

// zoneMap returns the zones and members needed by the policy of the fabric
func (m *Manager) zoneMap(f *Fabric, itm map[string][]string, host, storage string) map[string][]string {
	zones := map[string][]string{}
	for _, i := range util.SortedStringKeys(itm) {
		targets := itm[i]
		iw := util.ColonWWN(i)
		if f.ZoningPolicy == PolicyInitiator {
			members := []string{iw}
			for _, t := range targets {
				members = append(members, util.ColonWWN(t))
			}
			zones[m.zoneName(f, i, "", host, storage)] = members
			continue
		}
		for _, t := range targets {
			zones[m.zoneName(f, i, t, host, storage)] = []string{iw, util.ColonWWN(t)}
		}
	}
	return zones
}

// missing returns the members not in the existing list
func missing(members, existing []string) []string {
	res := []string{}
	for _, mw := range members {
		if !util.Contains(existing, mw) {
			res = append(res, mw)
		}
	}
	return res
}

func (m *Manager) onFabric(ctx context.Context, f *Fabric, itm map[string][]string, host, storage string, add bool) error {
	lock := m.locks[f.Name]
	lock.Lock()
	defer lock.Unlock()
	client, err := m.NewClient(f, m.Log)
	if err != nil {
		return driver.WithBackend(driver.WrapError(driver.CodeBackendAPI, "connect", err), f.Name)
	}
	defer client.Close()
	if err = m.fabricOp(ctx, client, f, itm, host, storage, add); err != nil {
		if _, ok := err.(*driver.Error); !ok {
			err = driver.WrapError(driver.CodeBackendAPI, "zoning", err)
		}
		return driver.WithBackend(err, f.Name)
	}
	return nil
}

func (m *Manager) fabricOp(ctx context.Context, client Client, f *Fabric, itm map[string][]string, host, storage string, add bool) error {
	supported, err := client.IsSupportedFirmware(ctx)
	if err != nil {
		return err
	}
	if !supported {
		return driver.NewError(driver.CodeNotSupported, "zoning", "unsupported firmware")
	}
	nsInfo, err := client.GetNameServerInfo(ctx)
	if err != nil {
		return err
	}
	fitm := fabricDevices(nsInfo, itm)
	if len(fitm) == 0 {
		m.Log.Debugf("fabric %s: no initiator-target pair logged in", f.Name)
		return nil
	}
	active, err := client.GetActiveZoneSet(ctx)
	if err != nil {
		return err
	}
	zones := m.zoneMap(f, fitm, host, storage)
	if add {
		return m.addZones(ctx, client, f, zones, active)
	}
	return m.removeZones(ctx, client, f, zones, active)
}

func (m *Manager) addZones(ctx context.Context, client Client, f *Fabric, zones map[string][]string, active *ZoneSet) error {
	toAdd := map[string][]string{}
	toUpdate := map[string][]string{}
	for name, members := range zones {
		existing, ok := active.Zones[name]
		if !ok {
			toAdd[name] = members
		} else if mw := missing(members, existing); len(mw) > 0 {
			toUpdate[name] = mw
		}
	}
	if len(toAdd) > 0 {
		if err := client.AddZones(ctx, toAdd, f.ZoneActivate, active); err != nil {
			return err
		}
		m.Log.Infof("fabric %s: added zones %v", f.Name, util.SortedStringKeys(toAdd))
	}
	if len(toUpdate) > 0 {
		if err := client.UpdateZones(ctx, toUpdate, f.ZoneActivate, ZoneAdd, active); err != nil {
			return err
		}
		m.Log.Infof("fabric %s: added members to zones %v", f.Name, util.SortedStringKeys(toUpdate))
	}
	return nil
}

func (m *Manager) removeZones(ctx context.Context, client Client, f *Fabric, zones map[string][]string, active *ZoneSet) error {
	toDelete := []string{}
	toUpdate := map[string][]string{}
	for name, members := range zones {
		existing, ok := active.Zones[name]
		if !ok {
			continue
		}
		if f.ZoningPolicy == PolicyInitiator {
			// keep the zone while it still has targets of other connections
			if remaining := missing(existing, members); len(remaining) > 0 {
				rm := []string{}
				for _, t := range members[1:] {
					if util.Contains(existing, t) {
						rm = append(rm, t)
					}
				}
				if len(rm) > 0 {
					toUpdate[name] = rm
				}
				continue
			}
		}
		toDelete = append(toDelete, name)
	}
	sort.Strings(toDelete)
	if len(toUpdate) > 0 {
		if err := client.UpdateZones(ctx, toUpdate, f.ZoneActivate, ZoneRemove, active); err != nil {
			return err
		}
		m.Log.Infof("fabric %s: removed members from zones %v", f.Name, util.SortedStringKeys(toUpdate))
	}
	if len(toDelete) > 0 {
		if err := client.DeleteZones(ctx, toDelete, f.ZoneActivate, active); err != nil {
			return err
		}
		m.Log.Infof("fabric %s: deleted zones %v", f.Name, toDelete)
	}
	return nil
}
