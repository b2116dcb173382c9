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
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// TAL (timestamped annotation list) sentinel bytes.
const (
	talFieldEnd    = 0x14 // ends the timestamp and each text field
	talDurationSep = 0x15 // separates onset from duration
	talEntryEnd    = 0x00 // terminates an entry; doubles as padding
)

// DefaultAnnotationClass is assigned to annotations parsed from TAL
// entries, which carry no class of their own.
const DefaultAnnotationClass = "event"

// talRecord is the parsed annotation content of one data record.
type talRecord struct {
	// start is the record start timestamp in recording time seconds,
	// taken from the first TAL entry of the record.
	start       float64
	annotations []Annotation
}

// parseTAL parses the TAL byte stream of a single data record's
// annotation channel slice. Scanning stops at two consecutive NUL bytes
// or at the end of the buffer.
func parseTAL(b []byte) (*talRecord, error) {
	rec := &talRecord{}
	first := true

	for len(b) > 0 {
		if b[0] == talEntryEnd {
			if first || len(b) == 1 || b[1] == talEntryEnd {
				// Padding from here on.
				break
			}
			b = b[1:]
			continue
		}
		end := bytes.IndexByte(b, talEntryEnd)
		if end < 0 {
			end = len(b)
		}
		entry := b[:end]
		b = b[end:]

		start, annotations, err := parseTALEntry(entry)
		if err != nil {
			return nil, err
		}
		if first {
			rec.start = start
			first = false
		}
		rec.annotations = append(rec.annotations, annotations...)
	}

	if first {
		return nil, fmt.Errorf("%w: record start timestamp missing", ErrMalformedAnnotation)
	}
	return rec, nil
}

// parseTALEntry parses one NUL-terminated TAL entry: an onset, an
// optional duration, and zero or more text fields. Each non-empty text
// field becomes its own annotation sharing onset and duration.
func parseTALEntry(entry []byte) (float64, []Annotation, error) {
	fields := strings.Split(string(entry), string(rune(talFieldEnd)))

	timestamp := fields[0]
	texts := fields[1:]

	var durStr string
	if i := strings.IndexByte(timestamp, talDurationSep); i >= 0 {
		durStr = timestamp[i+1:]
		timestamp = timestamp[:i]
	}

	start, err := parseTALFloat(timestamp)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: onset %q: %v", ErrMalformedAnnotation, timestamp, err)
	}

	// Some writers emit the duration as a plain field instead of using
	// the duration separator; accept it when an unsigned decimal is
	// followed by at least one more field.
	if durStr == "" && len(texts) >= 2 && isUnsignedDecimal(texts[0]) {
		durStr = texts[0]
		texts = texts[1:]
	}

	duration := 0.0
	if durStr != "" {
		duration, err = parseTALFloat(durStr)
		if err != nil || duration < 0 {
			return 0, nil, fmt.Errorf("%w: duration %q", ErrMalformedAnnotation, durStr)
		}
	}

	var annotations []Annotation
	for _, text := range texts {
		if text == "" {
			continue
		}
		annotations = append(annotations, Annotation{
			Start:    start,
			Duration: duration,
			Label:    text,
			Class:    DefaultAnnotationClass,
		})
	}
	return start, annotations, nil
}

func parseTALFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func isUnsignedDecimal(s string) bool {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
