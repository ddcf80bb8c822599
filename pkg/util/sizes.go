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


package util

import (
	"fmt"

	"github.com/alecthomas/units"
)

// SectorSize is the block size arrays use to express capacity
const SectorSize = 512

var sizeBuckets = []struct {
	lowerBound int64
	unit       string
}{
	{int64(units.TiB), "TiB"},
	{int64(units.GiB), "GiB"},
	{int64(units.MiB), "MiB"},
	{int64(units.KiB), "KiB"},
	{1, "B"},
}

// SizeBytesToString renders a size with the largest binary suffix that divides it exactly
func SizeBytesToString(size int64) string {
	if size == 0 {
		return "0B"
	}
	sign := ""
	if size < 0 {
		sign = "-"
		size = -size
	}
	for _, b := range sizeBuckets {
		if size >= b.lowerBound && size%b.lowerBound == 0 {
			return fmt.Sprintf("%s%d%s", sign, size/b.lowerBound, b.unit)
		}
	}
	return fmt.Sprintf("%s%dB", sign, size)
}

// RoundUpBytes pads sizeBytes to the next multiple of n
func RoundUpBytes(sizeBytes int64, n int64) int64 {
	return (sizeBytes + n - 1) / n * n
}

// GiBToBytes converts a size in GiB
func GiBToBytes(gib int64) int64 {
	return gib * int64(units.GiB)
}

// BytesToGiB converts a byte count to GiB, rounding up
func BytesToGiB(b int64) int64 {
	return RoundUpBytes(b, int64(units.GiB)) / int64(units.GiB)
}

// GiBToSectors converts a size in GiB to 512 byte sectors
func GiBToSectors(gib int64) int64 {
	return GiBToBytes(gib) / SectorSize
}

// SectorsToGiB converts 512 byte sectors to GiB, rounding up
func SectorsToGiB(sectors int64) int64 {
	return BytesToGiB(sectors * SectorSize)
}

// SectorsToGiBFloat converts 512 byte sectors to GiB for capacity reporting
func SectorsToGiBFloat(sectors int64) float64 {
	return float64(sectors*SectorSize) / float64(units.GiB)
}

// BytesToGiBFloat converts bytes to GiB for capacity reporting
func BytesToGiBFloat(b int64) float64 {
	return float64(b) / float64(units.GiB)
}
