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

// environment
const (
	eHOME = "HOME"
)

// header constants
const (
	hAttachStatus   = "Attach"
	hAttachedHost   = "AttachedHost"
	hBackend        = "Backend"
	hBinary         = "Binary"
	hCluster        = "Cluster"
	hCreated        = "Created"
	hDescription    = "Description"
	hDisabledReason = "DisabledReason"
	hError          = "Err"
	hExpires        = "Expires"
	hFree           = "Free"
	hHost           = "Host"
	hID             = "ID"
	hLevel          = "Level"
	hLoginName      = "Login"
	hManaged        = "Managed"
	hName           = "Name"
	hObjectID       = "ObjectID"
	hOperation      = "Operation"
	hPool           = "Pool"
	hPrefix         = "Prefix"
	hProgress       = "Progress"
	hProtocol       = "Protocol"
	hReference      = "Reference"
	hSafe           = "Safe"
	hServer         = "Server"
	hSize           = "Size"
	hState          = "State"
	hStatus         = "Status"
	hTotal          = "Total"
	hType           = "Type"
	hUpdated        = "Updated"
	hVolumeID       = "VolumeID"
)
