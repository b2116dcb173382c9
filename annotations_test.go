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

func TestParseTALRecordStartOnly(t *testing.T) {
	rec, err := parseTAL([]byte("+12.5\x14\x14\x00\x00\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, 12.5, rec.start)
	assert.Empty(t, rec.annotations)
}

func TestParseTALNegativeOnset(t *testing.T) {
	rec, err := parseTAL([]byte("-0.5\x14\x14\x00"))
	require.NoError(t, err)
	assert.Equal(t, -0.5, rec.start)
}

func TestParseTALWithDurationSeparator(t *testing.T) {
	rec, err := parseTAL([]byte("+0\x14\x14\x00+0.5\x152.0\x14Spike\x14\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.start)
	require.Len(t, rec.annotations, 1)
	assert.Equal(t, Annotation{Start: 0.5, Duration: 2.0, Label: "Spike", Class: "event"}, rec.annotations[0])
}

func TestParseTALDurationAsPlainField(t *testing.T) {
	// Writers exist that emit the duration as its own field instead of
	// using the duration separator.
	rec, err := parseTAL([]byte("+0\x14\x14\x000.5\x142.0\x14Spike\x14\x14\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.start)
	require.Len(t, rec.annotations, 1)
	assert.Equal(t, 0.5, rec.annotations[0].Start)
	assert.Equal(t, 2.0, rec.annotations[0].Duration)
	assert.Equal(t, "Spike", rec.annotations[0].Label)
}

func TestParseTALMultipleTexts(t *testing.T) {
	rec, err := parseTAL([]byte("+0\x14\x14\x00+1\x155\x14Apnea\x14Obstructive\x14\x14\x00\x00"))
	require.NoError(t, err)
	require.Len(t, rec.annotations, 2)
	for _, a := range rec.annotations {
		assert.Equal(t, 1.0, a.Start)
		assert.Equal(t, 5.0, a.Duration)
	}
	assert.Equal(t, "Apnea", rec.annotations[0].Label)
	assert.Equal(t, "Obstructive", rec.annotations[1].Label)
}

func TestParseTALEmptyTextsDiscarded(t *testing.T) {
	rec, err := parseTAL([]byte("+0\x14\x14\x00+2\x14\x14Spindle\x14\x14\x00"))
	require.NoError(t, err)
	require.Len(t, rec.annotations, 1)
	assert.Equal(t, "Spindle", rec.annotations[0].Label)
}

func TestParseTALMultipleEntries(t *testing.T) {
	rec, err := parseTAL([]byte("+0\x14\x14\x00+0.25\x14K-complex\x14\x00+0.75\x151.5\x14Arousal\x14\x00\x00"))
	require.NoError(t, err)
	require.Len(t, rec.annotations, 2)
	assert.Equal(t, Annotation{Start: 0.25, Label: "K-complex", Class: "event"}, rec.annotations[0])
	assert.Equal(t, Annotation{Start: 0.75, Duration: 1.5, Label: "Arousal", Class: "event"}, rec.annotations[1])
}

func TestParseTALStopsAtDoubleNUL(t *testing.T) {
	// Content after two consecutive NULs is padding and never parsed,
	// even when it would be malformed.
	rec, err := parseTAL([]byte("+0\x14\x14\x00\x00garbage\x14\x14\x00"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.start)
	assert.Empty(t, rec.annotations)
}

func TestParseTALMalformedOnset(t *testing.T) {
	_, err := parseTAL([]byte("+0\x14\x14\x00+bogus\x14Spike\x14\x00"))
	require.ErrorIs(t, err, ErrMalformedAnnotation)
}

func TestParseTALMalformedDuration(t *testing.T) {
	_, err := parseTAL([]byte("+0\x14\x14\x00+1\x15x.y\x14Spike\x14\x00"))
	require.ErrorIs(t, err, ErrMalformedAnnotation)
}

func TestParseTALMissingRecordStart(t *testing.T) {
	_, err := parseTAL(make([]byte, 16))
	require.ErrorIs(t, err, ErrMalformedAnnotation)
}

func TestParseTALUTF8Text(t *testing.T) {
	rec, err := parseTAL([]byte("+0\x14\x14\x00+3\x14K\xc3\xa4rsim\xc3\xa4ys\x14\x00\x00"))
	require.NoError(t, err)
	require.Len(t, rec.annotations, 1)
	assert.Equal(t, "Kärsimäys", rec.annotations[0].Label)
}
