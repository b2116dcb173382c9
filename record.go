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
	"log/slog"
	"math"
)

// ulpTolerance is the comparison slack for record start timestamps.
// TAL onsets survive a decimal round trip, so direct equality is wrong.
const ulpTolerance = 16

// decodedChunk is the result of decoding a contiguous span of data
// records.
type decodedChunk struct {
	firstRecord int
	// signals holds per-channel physical samples, concatenated across
	// the decoded records. Annotation channels have a nil slice.
	signals     [][]float64
	annotations []Annotation
	// gaps are the newly observed record gaps, keyed by cache time.
	gaps []gapEntry
	// gapTotal is the summed duration of the newly observed gaps.
	gapTotal float64
}

// recordDecoder decodes raw data record bytes into physical samples,
// annotations and gap entries. It is owned by a single engine; the
// startCorrection field dampens repeated overlap warnings across calls.
type recordDecoder struct {
	hdr             *Header
	log             *slog.Logger
	startCorrection float64
}

func newRecordDecoder(hdr *Header, log *slog.Logger) *recordDecoder {
	return &recordDecoder{hdr: hdr, log: log}
}

// decode decodes buf, which must cover whole data records starting at
// absolute record index firstRecord. priorGap is the total gap time
// preceding the buffer, used to compute expected record start times.
func (d *recordDecoder) decode(buf []byte, firstRecord int, priorGap float64) (*decodedChunk, error) {
	if d.hdr.RecordDuration <= 0 {
		return nil, fmt.Errorf("%w: zero data record duration", ErrMalformedHeader)
	}
	recordSize := d.hdr.RecordSize()
	if recordSize == 0 || len(buf) == 0 || len(buf)%recordSize != 0 {
		return nil, fmt.Errorf("%w: buffer of %d bytes does not cover whole records of %d bytes", ErrShortRead, len(buf), recordSize)
	}
	nRecords := len(buf) / recordSize

	bytesPerSample := d.hdr.Format.BytesPerSample()
	duration := d.hdr.RecordDuration

	chunk := &decodedChunk{firstRecord: firstRecord}
	chunk.signals = make([][]float64, len(d.hdr.Signals))
	unitsPerBit := make([]float64, len(d.hdr.Signals))
	digitalOffset := make([]float64, len(d.hdr.Signals))
	for c, sig := range d.hdr.Signals {
		if sig.Annotation {
			continue
		}
		chunk.signals[c] = make([]float64, 0, nRecords*sig.SamplesPerRecord)
		unitsPerBit[c] = sig.UnitsPerBit()
		digitalOffset[c] = sig.DigitalOffset()
	}

	off := 0
	for r := 0; r < nRecords; r++ {
		record := firstRecord + r
		expected := float64(record)*duration + priorGap + chunk.gapTotal
		firstAnnotation := true

		for c, sig := range d.hdr.Signals {
			span := sig.SamplesPerRecord * bytesPerSample
			raw := buf[off : off+span]
			off += span

			if sig.Annotation {
				tal, err := parseTAL(raw)
				if err != nil {
					return nil, fmt.Errorf("record %d: %w", record, err)
				}
				// Only the first annotation channel carries the record
				// start timestamp that drives gap discovery.
				if firstAnnotation {
					firstAnnotation = false
					d.checkRecordStart(chunk, record, tal.start, expected)
				}
				chunk.annotations = append(chunk.annotations, tal.annotations...)
				continue
			}

			samples := chunk.signals[c]
			for i := 0; i < span; i += bytesPerSample {
				digital := decodeSample(raw[i:i+bytesPerSample], bytesPerSample)
				samples = append(samples, unitsPerBit[c]*(float64(digital)+digitalOffset[c]))
			}
			chunk.signals[c] = samples
		}
	}

	return chunk, nil
}

// checkRecordStart compares a record's TAL start timestamp to its
// expected position and records a gap or an overlap warning.
func (d *recordDecoder) checkRecordStart(chunk *decodedChunk, record int, start, expected float64) {
	if almostEqual(start, expected) {
		return
	}
	if start > expected {
		if !d.hdr.Discontinuous {
			return
		}
		gap := gapEntry{
			dataTime: float64(record) * d.hdr.RecordDuration,
			duration: start - expected,
		}
		chunk.gaps = append(chunk.gaps, gap)
		chunk.gapTotal += gap.duration
		return
	}
	// Overlapping record starts indicate corruption; warn once per
	// distinct correction value.
	correction := start - expected
	if d.startCorrection != correction {
		d.startCorrection = correction
		d.log.Warn("data record start overlaps previous record",
			"record", record, "start", start, "expected", expected)
	}
}

// decodeSample reads one little-endian two's-complement sample of 2
// (EDF) or 3 (BDF) bytes, sign-extended to the full integer domain.
func decodeSample(b []byte, width int) int32 {
	if width == 3 {
		return int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8
	}
	return int32(int16(uint16(b[0]) | uint16(b[1])<<8))
}

// almostEqual compares two floats within ulpTolerance ULPs. Values of
// opposite sign are equal only when their ULP distances from zero sum
// to at most ulpTolerance (both zero, or both tiny subnormals).
func almostEqual(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	ai := int64(math.Float64bits(a))
	bi := int64(math.Float64bits(b))
	if ai < 0 {
		ai = math.MinInt64 - ai
	}
	if bi < 0 {
		bi = math.MinInt64 - bi
	}
	diff := ai - bi
	if diff < 0 {
		diff = -diff
	}
	return diff <= ulpTolerance
}
