// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 The edf-reader authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"fmt"
	"sort"
)

// RecordingTime is a wall-clock offset from the recording start,
// including gaps.
type RecordingTime float64

// CacheTime is an offset measured across the concatenated non-gap
// intervals: recording time minus all preceding gap time. Data records
// are contiguous in cache time.
type CacheTime float64

// gapEntry is one break between data records. dataTime is the position
// of the gap in cache time, the end of the contiguous data immediately
// preceding it. Keeping the key in cache time makes an entry
// independent of any gaps accumulated before it.
type gapEntry struct {
	dataTime float64
	duration float64
}

// gapModel holds the data record gaps of a discontinuous recording,
// sorted by dataTime, and converts between the two clock domains.
type gapModel struct {
	entries []gapEntry
	// length is the total recording length in recording time, set once
	// the duration of the recording is known.
	length float64
}

func newGapModel(length float64) *gapModel {
	return &gapModel{length: length}
}

func (g *gapModel) setLength(length float64) {
	g.length = length
}

// add inserts a gap entry, keeping entries sorted. Entries are deduped
// on dataTime, so re-decoding a record span is idempotent.
func (g *gapModel) add(e gapEntry) {
	i := sort.Search(len(g.entries), func(i int) bool {
		return g.entries[i].dataTime >= e.dataTime
	})
	if i < len(g.entries) && almostEqual(g.entries[i].dataTime, e.dataTime) {
		return
	}
	g.entries = append(g.entries, gapEntry{})
	copy(g.entries[i+1:], g.entries[i:])
	g.entries[i] = e
}

func (g *gapModel) addAll(entries []gapEntry) {
	for _, e := range entries {
		g.add(e)
	}
}

// total returns the summed duration of all known gaps.
func (g *gapModel) total() float64 {
	sum := 0.0
	for _, e := range g.entries {
		sum += e.duration
	}
	return sum
}

// gapTimeBetween sums the gap time inside the recording time window
// [start, end), clipping gaps that only partially overlap it.
func (g *gapModel) gapTimeBetween(start, end RecordingTime) float64 {
	sum := 0.0
	acc := 0.0
	for _, e := range g.entries {
		gapStart := e.dataTime + acc
		acc += e.duration
		if gapStart >= float64(end) {
			break
		}
		gapEnd := gapStart + e.duration
		lo := max(gapStart, float64(start))
		hi := min(gapEnd, float64(end))
		if hi > lo {
			sum += hi - lo
		}
	}
	return sum
}

// recToCache converts a recording time position to cache time. A
// position inside a gap collapses onto the gap's cache time boundary.
func (g *gapModel) recToCache(t RecordingTime) (CacheTime, error) {
	if t < 0 || float64(t) > g.length {
		return 0, fmt.Errorf("%w: %g not in [0, %g]", ErrOutOfRange, float64(t), g.length)
	}
	return CacheTime(float64(t) - g.gapTimeBetween(0, t)), nil
}

// cacheToRec converts a cache time position to recording time by
// adding the duration of every gap strictly before it.
func (g *gapModel) cacheToRec(t CacheTime) (RecordingTime, error) {
	if t < 0 || float64(t) > g.length-g.total() {
		return 0, fmt.Errorf("%w: %g not in [0, %g]", ErrOutOfRange, float64(t), g.length-g.total())
	}
	rec := float64(t)
	for _, e := range g.entries {
		if e.dataTime < float64(t) {
			rec += e.duration
		}
	}
	return RecordingTime(rec), nil
}

// inRange enumerates the gaps overlapping the recording time window
// [start, end), clipped to the window and reported in recording time.
func (g *gapModel) inRange(start, end RecordingTime) []DataGap {
	gaps := []DataGap{}
	acc := 0.0
	for _, e := range g.entries {
		gapStart := e.dataTime + acc
		acc += e.duration
		if gapStart >= float64(end) {
			break
		}
		gapEnd := gapStart + e.duration
		lo := max(gapStart, float64(start))
		hi := min(gapEnd, float64(end))
		if hi > lo {
			gaps = append(gaps, DataGap{Start: lo, Duration: hi - lo})
		}
	}
	return gaps
}
