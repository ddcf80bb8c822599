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


package objects

// Cleanable is an object whose transitional states are tracked by a worker row
type Cleanable interface {
	Object
	ResourceID() string
	ResourceStatus() string
}

// CleanableMinVersion is the lowest object version of a cleanable type that
// supports worker tracking. Consumers pinned below it do not create workers.
var CleanableMinVersion = map[string]string{
	VolumeObjName:   "1.1",
	SnapshotObjName: "1.0",
}

var cleanableStatuses = map[string][]string{
	VolumeObjName:   {VolumeCreating, VolumeDeleting, VolumeDownloading, VolumeUploading},
	SnapshotObjName: {SnapshotCreating, SnapshotDeleting},
}

// IsCleanableStatus reports whether a resource in this status must be cleaned up if its owner dies
func IsCleanableStatus(objName, status string) bool {
	for _, s := range cleanableStatuses[objName] {
		if s == status {
			return true
		}
	}
	return false
}

// CleanableStatuses returns the cleanable statuses of an object type
func CleanableStatuses(objName string) []string {
	return append([]string{}, cleanableStatuses[objName]...)
}
