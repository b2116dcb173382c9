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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGapModel mirrors spec scenario recordings: 3 s of data with a
// 1 s gap after the first 2 s, total recording length 4 s.
func testGapModel() *gapModel {
	g := newGapModel(4.0)
	g.add(gapEntry{dataTime: 2.0, duration: 1.0})
	return g
}

func TestGapModelAddSortedDedup(t *testing.T) {
	g := newGapModel(100)
	g.add(gapEntry{dataTime: 5, duration: 1})
	g.add(gapEntry{dataTime: 1, duration: 2})
	g.add(gapEntry{dataTime: 3, duration: 0.5})
	g.add(gapEntry{dataTime: 1, duration: 99}) // duplicate dataTime, ignored

	require.Len(t, g.entries, 3)
	assert.Equal(t, 1.0, g.entries[0].dataTime)
	assert.Equal(t, 2.0, g.entries[0].duration)
	assert.Equal(t, 3.0, g.entries[1].dataTime)
	assert.Equal(t, 5.0, g.entries[2].dataTime)
	assert.Equal(t, 3.5, g.total())
}

func TestGapTimeBetween(t *testing.T) {
	g := testGapModel()

	// Gap occupies recording time [2, 3).
	assert.Equal(t, 0.0, g.gapTimeBetween(0, 2))
	assert.Equal(t, 1.0, g.gapTimeBetween(0, 4))
	assert.Equal(t, 1.0, g.gapTimeBetween(2, 3))
	assert.Equal(t, 0.5, g.gapTimeBetween(0, 2.5))
	assert.Equal(t, 0.5, g.gapTimeBetween(2.5, 4))
	assert.Equal(t, 0.0, g.gapTimeBetween(3, 4))
}

func TestGapTimeBetweenStacked(t *testing.T) {
	// Two gaps: cache keyed at 1 and 2, so recording time [1,2) and
	// [3,4) are gap time.
	g := newGapModel(6)
	g.add(gapEntry{dataTime: 1, duration: 1})
	g.add(gapEntry{dataTime: 2, duration: 1})

	assert.Equal(t, 1.0, g.gapTimeBetween(0, 3))
	assert.Equal(t, 2.0, g.gapTimeBetween(0, 6))
	assert.Equal(t, 1.0, g.gapTimeBetween(2, 4))
}

func TestRecToCache(t *testing.T) {
	g := testGapModel()

	for _, tc := range []struct{ rec, cache float64 }{
		{0, 0},
		{1.5, 1.5},
		{2.0, 2.0},
		{2.5, 2.0}, // inside the gap collapses to the boundary
		{3.0, 2.0},
		{3.5, 2.5},
		{4.0, 3.0},
	} {
		got, err := g.recToCache(RecordingTime(tc.rec))
		require.NoError(t, err)
		assert.InDelta(t, tc.cache, float64(got), 1e-12, "rec %g", tc.rec)
	}
}

func TestCacheToRec(t *testing.T) {
	g := testGapModel()

	for _, tc := range []struct{ cache, rec float64 }{
		{0, 0},
		{1.5, 1.5},
		{2.0, 2.0}, // boundary stays on the pre-gap side
		{2.5, 3.5},
		{3.0, 4.0},
	} {
		got, err := g.cacheToRec(CacheTime(tc.cache))
		require.NoError(t, err)
		assert.InDelta(t, tc.rec, float64(got), 1e-12, "cache %g", tc.cache)
	}
}

func TestConvertersRoundTrip(t *testing.T) {
	// cacheToRec(recToCache(t)) == t for every t outside gap interiors.
	g := testGapModel()
	for _, rec := range []float64{0, 0.25, 1.0, 1.999, 2.0, 3.25, 4.0} {
		c, err := g.recToCache(RecordingTime(rec))
		require.NoError(t, err)
		back, err := g.cacheToRec(c)
		require.NoError(t, err)
		assert.InDelta(t, rec, float64(back), 1e-12, "rec %g", rec)
	}
}

func TestConvertersOutOfRange(t *testing.T) {
	g := testGapModel()

	_, err := g.recToCache(-0.1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = g.recToCache(4.1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = g.cacheToRec(-0.1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = g.cacheToRec(3.1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestGapsInRangeClipping(t *testing.T) {
	g := testGapModel()

	gaps := g.inRange(0, 4)
	require.Len(t, gaps, 1)
	assert.Equal(t, DataGap{Start: 2.0, Duration: 1.0}, gaps[0])

	// Partial overlaps clip to the window.
	gaps = g.inRange(2.25, 2.75)
	require.Len(t, gaps, 1)
	assert.Equal(t, DataGap{Start: 2.25, Duration: 0.5}, gaps[0])

	gaps = g.inRange(0, 2.5)
	require.Len(t, gaps, 1)
	assert.Equal(t, DataGap{Start: 2.0, Duration: 0.5}, gaps[0])

	assert.Empty(t, g.inRange(0, 2))
	assert.Empty(t, g.inRange(3, 4))
}
