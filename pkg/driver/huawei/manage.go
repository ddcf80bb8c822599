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
	"github.com/Nuvoloso/volumed/pkg/objects"
	"github.com/Nuvoloso/volumed/pkg/util"
)

// Reference keys of an existing LUN
const (
	RefSourceID   = "source-id"
	RefSourceName = "source-name"
)

func (d *Driver) refLUN(ctx context.Context, ref map[string]string) (*lunInfo, error) {
	if id := ref[RefSourceID]; id != "" {
		return d.getLUN(ctx, id)
	}
	if name := ref[RefSourceName]; name != "" {
		return d.findLUN(ctx, name)
	}
	return nil, driver.NewError(driver.CodeInvalidInput, "manage existing", "reference must contain source-id or source-name")
}

func (d *Driver) reasonNotSafe(l *lunInfo) string {
	switch {
	case l.IsAdd2LUNGroup == "true":
		return "LUN is mapped to a host"
	case !util.Contains(d.pools, l.ParentName):
		return fmt.Sprintf("LUN is in pool %q which is not managed by this backend", l.ParentName)
	case l.HealthStatus != statusHealthNormal:
		return "LUN is not healthy"
	}
	return ""
}

func (d *Driver) manageableLUN(ctx context.Context, ref map[string]string) (*lunInfo, error) {
	l, err := d.refLUN(ctx, ref)
	if err != nil {
		return nil, err
	}
	if reason := d.reasonNotSafe(l); reason != "" {
		return nil, driver.NewError(driver.CodeInvalidInput, "manage existing", fmt.Sprintf("LUN %s: %s", l.ID, reason))
	}
	return l, nil
}

// ManageExistingGetSize returns the size of the LUN rounded up to GiB
func (d *Driver) ManageExistingGetSize(ctx context.Context, vol *driver.VolumeSpec, ref map[string]string) (int64, error) {
	l, err := d.manageableLUN(ctx, ref)
	if err != nil {
		return 0, d.err(err)
	}
	return util.SectorsToGiB(atoi64(l.Capacity)), nil
}

// ManageExisting renames the LUN after the volume
func (d *Driver) ManageExisting(ctx context.Context, vol *driver.VolumeSpec, ref map[string]string) (*driver.ModelUpdate, error) {
	l, err := d.manageableLUN(ctx, ref)
	if err != nil {
		return nil, d.err(err)
	}
	if err = d.renameLUN(ctx, l.ID, EncodeName(vol.ID), vol.Name); err != nil {
		return nil, d.err(err)
	}
	d.Log.Infof("volume %s: managing LUN %s (%s)", vol.ID, l.ID, l.Name)
	return lunUpdate(l), nil
}

// manageablePageSize is the number of LUNs fetched per request
const manageablePageSize = 100

// GetManageableVolumes lists the LUNs in the configured pools
func (d *Driver) GetManageableVolumes(ctx context.Context) ([]*objects.ManageableVolume, error) {
	res := []*objects.ManageableVolume{}
	for start := 0; ; start += manageablePageSize {
		var luns []*lunInfo
		q := url.Values{"range": {fmt.Sprintf("[%d-%d]", start, start+manageablePageSize)}}
		if err := d.client.call(ctx, "GET", "/lun", q, nil, &luns); err != nil {
			return nil, d.err(err)
		}
		for _, l := range luns {
			if !util.Contains(d.pools, l.ParentName) {
				continue
			}
			mv := &objects.ManageableVolume{
				Reference: map[string]string{RefSourceID: l.ID, RefSourceName: l.Name},
				Size:      util.SectorsToGiB(atoi64(l.Capacity)),
				ExtraInfo: fmt.Sprintf("pool=%s wwn=%s", l.ParentName, l.WWN),
			}
			if id := DecodeName(l.Name); id != "" {
				mv.CinderID = id
				mv.ReasonNotSafe = "already managed"
			} else {
				mv.ReasonNotSafe = d.reasonNotSafe(l)
			}
			mv.SafeToManage = mv.ReasonNotSafe == ""
			res = append(res, mv)
		}
		if len(luns) < manageablePageSize {
			return res, nil
		}
	}
}

// UnmanageVolume leaves the LUN untouched on the array
func (d *Driver) UnmanageVolume(ctx context.Context, vol *driver.VolumeSpec) error {
	d.Log.Infof("volume %s: no longer managing LUN %s", vol.ID, vol.ProviderID)
	return nil
}
