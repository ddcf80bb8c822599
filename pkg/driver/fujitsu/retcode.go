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


package fujitsu

import (
	"strconv"

	"github.com/Nuvoloso/volumed/pkg/driver"
)

// Return values of the extrinsic methods
const (
	RCSuccess             = 0
	RCNotSupported        = 1
	RCFailed              = 4
	RCInvalidParameter    = 5
	RCJobStarted          = 4096
	RCSizeNotSupported    = 4097
	RCAlreadyExposed      = 4101
	RCLUNInUse            = 4102
	RCMaxVolumesRAIDGroup = 32769
	RCMaxVolumes          = 32770
	RCMaxHosts            = 32771
	RCVolumeIsCopySource  = 32772
	RCVolumeInUse         = 32773
	RCNoSpace             = 32775
	RCVolumeNotFound      = 32787
	RCHostNotFound        = 32788
	RCPoolNotFound        = 32796
	RCNotExposed          = 32810
	RCCopySessionExists   = 32817
)

type retcodeInfo struct {
	code driver.Code
	msg  string
}

// retcodeTable maps return values to messages
var retcodeTable = map[uint32]retcodeInfo{
	RCSuccess:             {driver.CodeBackendAPI, "Success"},
	RCNotSupported:        {driver.CodeNotSupported, "Method Not Supported"},
	RCFailed:              {driver.CodeBackendAPI, "Failed"},
	RCInvalidParameter:    {driver.CodeInvalidInput, "Invalid Parameter"},
	RCJobStarted:          {driver.CodeBackendAPI, "Method Parameters Checked - Job Started"},
	RCSizeNotSupported:    {driver.CodeInvalidInput, "Size Not Supported"},
	RCAlreadyExposed:      {driver.CodeBusy, "Target/initiator combination already exposed"},
	RCLUNInUse:            {driver.CodeBusy, "Requested logical unit number in use"},
	RCMaxVolumesRAIDGroup: {driver.CodeCapacity, "Maximum number of Logical Volume in a RAID group has been reached"},
	RCMaxVolumes:          {driver.CodeCapacity, "Maximum number of Logical Volume in the storage device has been reached"},
	RCMaxHosts:            {driver.CodeCapacity, "Maximum number of registered Host WWN, iSCSI Name or host affinity has been reached"},
	RCVolumeIsCopySource:  {driver.CodeBusy, "Volume number is not found, or Volume number is used as a snapshot/clone volume"},
	RCVolumeInUse:         {driver.CodeBusy, "Volume is in use"},
	RCNoSpace:             {driver.CodeCapacity, "There is not enough free space in the pool"},
	RCVolumeNotFound:      {driver.CodeNotFound, "Volume is not found"},
	RCHostNotFound:        {driver.CodeNotFound, "Specified host is not found"},
	RCPoolNotFound:        {driver.CodeNotFound, "Specified pool is not found"},
	RCNotExposed:          {driver.CodeNotFound, "Volume is not mapped to the specified host"},
	RCCopySessionExists:   {driver.CodeBusy, "Copy session already exists for the volume"},
}

// RetcodeError converts a method return value
func RetcodeError(op string, rc uint32) error {
	ri, ok := retcodeTable[rc]
	if !ok {
		ri = retcodeInfo{driver.CodeBackendAPI, "Undefined Error"}
	}
	return &driver.Error{Code: ri.code, Op: op, VendorCode: strconv.FormatUint(uint64(rc), 10), Message: ri.msg}
}
