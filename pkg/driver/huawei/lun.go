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


package huawei

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Nuvoloso/volumed/pkg/driver"
	"github.com/Nuvoloso/volumed/pkg/util"
)

type poolInfo struct {
	ID                  string `json:"ID"`
	Name                string `json:"NAME"`
	UsageType           string `json:"USAGETYPE"`
	UserTotalCapacity   string `json:"USERTOTALCAPACITY"`
	UserFreeCapacity    string `json:"USERFREECAPACITY"`
	LUNConfigedCapacity string `json:"LUNCONFIGEDCAPACITY"`
}

type lunInfo struct {
	ID             string `json:"ID"`
	Name           string `json:"NAME"`
	Description    string `json:"DESCRIPTION,omitempty"`
	ParentID       string `json:"PARENTID"`
	ParentName     string `json:"PARENTNAME"`
	Capacity       string `json:"CAPACITY"`
	AllocType      string `json:"ALLOCTYPE"`
	HealthStatus   string `json:"HEALTHSTATUS"`
	RunningStatus  string `json:"RUNNINGSTATUS"`
	WWN            string `json:"WWN"`
	IsAdd2LUNGroup string `json:"ISADD2LUNGROUP"`
}

type snapshotInfo struct {
	ID            string `json:"ID"`
	Name          string `json:"NAME"`
	ParentID      string `json:"PARENTID"`
	RunningStatus string `json:"RUNNINGSTATUS"`
}

type taskInfo struct {
	ID            string `json:"ID"`
	ParentID      string `json:"PARENTID"`
	HealthStatus  string `json:"HEALTHSTATUS"`
	RunningStatus string `json:"RUNNINGSTATUS"`
}

func nameFilter(name string) url.Values {
	return url.Values{"filter": {"NAME::" + name}}
}

func (d *Driver) listPools(ctx context.Context) (map[string]*poolInfo, error) {
	var pools []*poolInfo
	if err := d.client.call(ctx, "GET", "/storagepool", nil, nil, &pools); err != nil {
		return nil, err
	}
	res := map[string]*poolInfo{}
	for _, p := range pools {
		if p.UsageType == "" || p.UsageType == poolUsageBlock {
			res[p.Name] = p
		}
	}
	return res, nil
}

func (d *Driver) poolID(ctx context.Context, name string) (string, error) {
	pools, err := d.listPools(ctx)
	if err != nil {
		return "", err
	}
	p, ok := pools[name]
	if !ok {
		return "", driver.NewError(driver.CodeInvalidInput, "pool lookup", fmt.Sprintf("storage pool %q not found", name))
	}
	return p.ID, nil
}

func (d *Driver) getLUN(ctx context.Context, id string) (*lunInfo, error) {
	l := &lunInfo{}
	if err := d.client.call(ctx, "GET", "/lun/"+id, nil, nil, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Driver) findLUN(ctx context.Context, name string) (*lunInfo, error) {
	var luns []*lunInfo
	if err := d.client.call(ctx, "GET", "/lun", nameFilter(name), nil, &luns); err != nil {
		return nil, err
	}
	for _, l := range luns {
		if l.Name == name {
			return l, nil
		}
	}
	return nil, &driver.Error{Code: driver.CodeNotFound, Op: "find LUN", Message: fmt.Sprintf("LUN %s not found", name)}
}

// createLUN creates a LUN and waits until it is healthy and online
func (d *Driver) createLUN(ctx context.Context, name, desc, pool string, sizeGiB int64, allocType string) (*lunInfo, error) {
	poolID, err := d.poolID(ctx, pool)
	if err != nil {
		return nil, err
	}
	l := &lunInfo{}
	err = d.client.call(ctx, "POST", "/lun", nil, map[string]interface{}{
		"TYPE":        objTypeLUN,
		"NAME":        name,
		"PARENTID":    poolID,
		"DESCRIPTION": desc,
		"ALLOCTYPE":   allocType,
		"CAPACITY":    util.GiBToSectors(sizeGiB),
	}, l)
	if err != nil {
		return nil, err
	}
	d.Log.Debugf("Created LUN %s (%s) in pool %s", l.ID, name, pool)
	if err = d.waitLUNReady(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *Driver) waitLUNReady(ctx context.Context, l *lunInfo) error {
	pa := d.poll
	pa.Op = "wait for LUN " + l.ID
	return driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		cur, err := d.getLUN(ctx, l.ID)
		if err != nil {
			return false, err
		}
		if cur.HealthStatus == statusHealthFaulty {
			return false, driver.NewError(driver.CodeBackendAPI, pa.Op, "LUN is faulty")
		}
		*l = *cur
		return cur.HealthStatus == statusHealthNormal && cur.RunningStatus == statusLUNReady, nil
	})
}

func (d *Driver) deleteLUN(ctx context.Context, id string) error {
	return d.client.call(ctx, "DELETE", "/lun/"+id, nil, nil, nil)
}

func (d *Driver) renameLUN(ctx context.Context, id, name, desc string) error {
	return d.client.call(ctx, "PUT", "/lun/"+id, nil, map[string]interface{}{"NAME": name, "DESCRIPTION": desc}, nil)
}

func (d *Driver) createSnapshot(ctx context.Context, lunID, name, desc string) (*snapshotInfo, error) {
	s := &snapshotInfo{}
	err := d.client.call(ctx, "POST", "/snapshot", nil, map[string]interface{}{
		"TYPE":        objTypeSnapshot,
		"NAME":        name,
		"PARENTTYPE":  objTypeLUN,
		"PARENTID":    lunID,
		"DESCRIPTION": desc,
	}, s)
	if err != nil {
		return nil, err
	}
	err = d.client.call(ctx, "POST", "/snapshot/activate", nil, map[string]interface{}{"SNAPSHOTLIST": []string{s.ID}}, nil)
	if err != nil {
		if dErr := d.client.call(ctx, "DELETE", "/snapshot/"+s.ID, nil, nil, nil); dErr != nil {
			d.Log.Errorf("Failed to delete snapshot %s: %s", s.ID, dErr.Error())
		}
		return nil, err
	}
	return s, nil
}

func (d *Driver) findSnapshot(ctx context.Context, name string) (*snapshotInfo, error) {
	var snaps []*snapshotInfo
	if err := d.client.call(ctx, "GET", "/snapshot", nameFilter(name), nil, &snaps); err != nil {
		return nil, err
	}
	for _, s := range snaps {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, &driver.Error{Code: driver.CodeNotFound, Op: "find snapshot", Message: fmt.Sprintf("snapshot %s not found", name)}
}

// deleteSnapshot stops an active snapshot before deleting it
func (d *Driver) deleteSnapshot(ctx context.Context, id string) error {
	s := &snapshotInfo{}
	if err := d.client.call(ctx, "GET", "/snapshot/"+id, nil, nil, s); err != nil {
		return err
	}
	if s.RunningStatus == statusSnapshotActive {
		if err := d.client.call(ctx, "PUT", "/snapshot/stop", nil, map[string]interface{}{"ID": id}, nil); err != nil {
			return err
		}
	}
	return d.client.call(ctx, "DELETE", "/snapshot/"+id, nil, nil, nil)
}

// lunCopy copies a snapshot into a LUN and removes the copy task when done
func (d *Driver) lunCopy(ctx context.Context, name, snapID, lunID string) error {
	t := &taskInfo{}
	err := d.client.call(ctx, "POST", "/luncopy", nil, map[string]interface{}{
		"TYPE":        objTypeLUNCopy,
		"NAME":        name,
		"DESCRIPTION": name,
		"COPYSPEED":   d.copySpd,
		"LUNCOPYTYPE": "1",
		"SOURCELUN":   fmt.Sprintf("INVALID;%s;INVALID;INVALID;INVALID", snapID),
		"TARGETLUN":   fmt.Sprintf("INVALID;%s;INVALID;INVALID;INVALID", lunID),
	}, t)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.client.call(ctx, "DELETE", "/luncopy/"+t.ID, nil, nil, nil); err != nil && !driver.IsNotFound(err) {
			d.Log.Errorf("Failed to delete LUN copy %s: %s", t.ID, err.Error())
		}
	}()
	if err = d.client.call(ctx, "PUT", "/luncopy/start", nil, map[string]interface{}{"TYPE": objTypeLUNCopy, "ID": t.ID}, nil); err != nil {
		return err
	}
	pa := d.poll
	pa.Op = "wait for LUN copy " + t.ID
	return driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		cur := &taskInfo{}
		if err := d.client.call(ctx, "GET", "/luncopy/"+t.ID, nil, nil, cur); err != nil {
			return false, err
		}
		if cur.HealthStatus != statusHealthNormal {
			return false, driver.NewError(driver.CodeBackendAPI, pa.Op, fmt.Sprintf("LUN copy is not healthy (status %s)", cur.HealthStatus))
		}
		return cur.RunningStatus == statusLUNCopyComplete, nil
	})
}

// migrateLUN moves a LUN to another pool. A target LUN is created in the destination pool and
// the array replaces the source LUN data with it, keeping the source LUN id.
func (d *Driver) migrateLUN(ctx context.Context, src *lunInfo, destPool string) error {
	tgt, err := d.createLUN(ctx, src.Name+"_m", "migration target of "+src.ID, destPool, util.SectorsToGiB(atoi64(src.Capacity)), src.AllocType)
	if err != nil {
		return err
	}
	cleanup := func() {
		if err := d.deleteLUN(ctx, tgt.ID); err != nil && !driver.IsNotFound(err) {
			d.Log.Errorf("Failed to delete migration target LUN %s: %s", tgt.ID, err.Error())
		}
	}
	err = d.client.call(ctx, "POST", "/lun_migration", nil, map[string]interface{}{
		"TYPE":        objTypeMigration,
		"PARENTID":    src.ID,
		"TARGETLUNID": tgt.ID,
		"SPEED":       d.copySpd,
		"WORKMODE":    0,
	}, nil)
	if err != nil {
		cleanup()
		return err
	}
	pa := d.poll
	pa.Op = "wait for LUN migration " + src.ID
	err = driver.Poll(ctx, &pa, func(ctx context.Context) (bool, error) {
		t := &taskInfo{}
		if err := d.client.call(ctx, "GET", "/lun_migration/"+src.ID, nil, nil, t); err != nil {
			return false, err
		}
		if t.RunningStatus == statusMigrationFault {
			return false, driver.NewError(driver.CodeBackendAPI, pa.Op, "migration failed")
		}
		return t.RunningStatus == statusMigrationDone, nil
	})
	if dErr := d.client.call(ctx, "DELETE", "/lun_migration/"+src.ID, nil, nil, nil); dErr != nil && !driver.IsNotFound(dErr) {
		d.Log.Errorf("Failed to delete migration task of LUN %s: %s", src.ID, dErr.Error())
	}
	if err != nil {
		cleanup()
		return err
	}
	d.Log.Infof("LUN %s migrated to pool %s", src.ID, destPool)
	return nil
}
