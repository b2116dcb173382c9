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
	"strconv"
	"strings"
	"time"
)

// HeaderSize returns the byte size of a full EDF/BDF header record for
// the given signal count.
func HeaderSize(signalCount int) int {
	return 256 * (signalCount + 1)
}

// ParseSignalCount extracts the signal count from the fixed 256-byte
// header prefix. Callers use it to size the second read that fetches
// the per-signal header blocks.
func ParseSignalCount(b []byte) (int, error) {
	if len(b) < 256 {
		return 0, fmt.Errorf("%w: need 256 header bytes, have %d", ErrShortRead, len(b))
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b[252:256])))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid signal count %q", ErrMalformedHeader, strings.TrimSpace(string(b[252:256])))
	}
	return n, nil
}

// ParseHeader parses a complete EDF/BDF header from b, which must hold
// at least HeaderSize(signalCount) bytes.
func ParseHeader(b []byte) (*Header, error) {
	return parseHeader(b, slog.Default())
}

func parseHeader(b []byte, log *slog.Logger) (*Header, error) {
	signalCount, err := ParseSignalCount(b)
	if err != nil {
		return nil, err
	}
	if len(b) < HeaderSize(signalCount) {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortRead, HeaderSize(signalCount), len(b))
	}

	hdr := &Header{SignalCount: signalCount}

	// Parse fields based on the EDF/EDF+ and BDF specifications.
	switch {
	case strings.TrimSpace(string(b[0:8])) == "0":
		hdr.Format = FormatEDF
	case b[0] == 0xFF && strings.TrimSpace(string(b[1:8])) == "BIOSEMI":
		hdr.Format = FormatBDF
	default:
		return nil, fmt.Errorf("%w: unsupported data format %q", ErrMalformedHeader, string(b[0:8]))
	}

	hdr.PatientID = strings.TrimSpace(string(b[8:88]))
	hdr.RecordingID = strings.TrimSpace(string(b[88:168]))

	// A failed timestamp does not abort the parse; the field is left nil.
	if t, err := parseStartTime(string(b[168:176]), string(b[176:184])); err != nil {
		log.Warn("unparseable recording start time", "date", strings.TrimSpace(string(b[168:176])), "time", strings.TrimSpace(string(b[176:184])), "error", err)
	} else {
		hdr.StartTime = t
	}

	reserved := string(b[192:236])
	hdr.Reserved = strings.TrimSpace(reserved)
	if prefix := strings.ToUpper(hdr.Reserved); strings.HasPrefix(prefix, "EDF+") || strings.HasPrefix(prefix, "BDF+") {
		switch hdr.Format {
		case FormatEDF:
			hdr.Format = FormatEDFPlus
		case FormatBDF:
			hdr.Format = FormatBDFPlus
		}
		if len(hdr.Reserved) > 4 {
			hdr.Discontinuous = hdr.Reserved[4] == 'D'
		}
	}

	hdr.DataRecords, err = strconv.Atoi(strings.TrimSpace(string(b[236:244])))
	if err != nil || hdr.DataRecords <= 0 {
		return nil, fmt.Errorf("%w: invalid data record count %q", ErrMalformedHeader, strings.TrimSpace(string(b[236:244])))
	}

	hdr.RecordDuration, err = strconv.ParseFloat(strings.TrimSpace(string(b[244:252])), 64)
	if err != nil || hdr.RecordDuration <= 0 {
		return nil, fmt.Errorf("%w: invalid data record duration %q", ErrMalformedHeader, strings.TrimSpace(string(b[244:252])))
	}

	headerBytes, err := strconv.Atoi(strings.TrimSpace(string(b[184:192])))
	if err != nil || headerBytes <= 0 {
		log.Warn("unparseable header byte count, using computed size", "field", strings.TrimSpace(string(b[184:192])))
		headerBytes = HeaderSize(signalCount)
	} else if headerBytes != HeaderSize(signalCount) {
		log.Warn("header byte count disagrees with signal count", "header", headerBytes, "computed", HeaderSize(signalCount))
	}
	hdr.HeaderBytes = headerBytes

	// Signal header blocks are laid out field-major: all labels, then
	// all transducers, and so on.
	hdr.Signals = make([]Signal, signalCount)
	off := 256
	next := func(width int) []string {
		fields := make([]string, signalCount)
		for i := 0; i < signalCount; i++ {
			fields[i] = strings.TrimSpace(string(b[off : off+width]))
			off += width
		}
		return fields
	}

	labels := next(16)
	transducers := next(80)
	units := next(8)
	physMins := next(8)
	physMaxs := next(8)
	digMins := next(8)
	digMaxs := next(8)
	prefilters := next(80)
	sampleCounts := next(8)
	reserveds := next(32)

	for i := range hdr.Signals {
		sig := &hdr.Signals[i]
		sig.Label = labels[i]
		sig.TransducerType = transducers[i]
		sig.PhysicalDimension = units[i]
		sig.PhysicalMin = parseFloat(physMins[i])
		sig.PhysicalMax = parseFloat(physMaxs[i])
		sig.DigitalMin = parseInt(digMins[i])
		sig.DigitalMax = parseInt(digMaxs[i])
		sig.Prefiltering = prefilters[i]
		sig.SamplesPerRecord = parseInt(sampleCounts[i])
		sig.Reserved = reserveds[i]
		sig.Annotation = hdr.Format.Plus() && isAnnotationLabel(sig.Label)
	}

	return hdr, nil
}

// parseStartTime parses the dd.mm.yy and hh.mm.ss header fields in the
// local calendar. Two-digit years pivot at 85 per the EDF+ convention.
func parseStartTime(dateStr, timeStr string) (*time.Time, error) {
	dateParts := strings.Split(strings.TrimSpace(dateStr), ".")
	timeParts := strings.Split(strings.TrimSpace(timeStr), ".")
	if len(dateParts) != 3 || len(timeParts) != 3 {
		return nil, fmt.Errorf("malformed timestamp %q %q", dateStr, timeStr)
	}
	nums := make([]int, 0, 6)
	for _, part := range append(dateParts, timeParts...) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp field %q: %w", part, err)
		}
		nums = append(nums, n)
	}
	year := nums[2]
	if year >= 85 {
		year += 1900
	} else {
		year += 2000
	}
	t := time.Date(year, time.Month(nums[1]), nums[0], nums[3], nums[4], nums[5], 0, time.Local)
	return &t, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return f
}

func parseInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}
