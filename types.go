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
	"strings"
	"time"
)

// Format identifies the concrete on-disk variant of a recording.
type Format int

const (
	FormatEDF Format = iota
	FormatEDFPlus
	FormatBDF
	FormatBDFPlus
)

func (f Format) String() string {
	switch f {
	case FormatEDF:
		return "edf"
	case FormatEDFPlus:
		return "edf+"
	case FormatBDF:
		return "bdf"
	case FormatBDFPlus:
		return "bdf+"
	default:
		return "unknown"
	}
}

// Plus reports whether the format is one of the EDF+/BDF+ extensions.
func (f Format) Plus() bool {
	return f == FormatEDFPlus || f == FormatBDFPlus
}

// BytesPerSample returns the sample width of the format: 2 for EDF
// variants, 3 for the 24-bit BDF variants.
func (f Format) BytesPerSample() int {
	if f == FormatBDF || f == FormatBDFPlus {
		return 3
	}
	return 2
}

// Header represents the parsed EDF/BDF file header. It is immutable
// after ParseHeader returns it.
type Header struct {
	Format         Format
	Discontinuous  bool       // EDF+D / BDF+D: data records may not abut in time
	PatientID      string     // Identification of the patient
	RecordingID    string     // Identification of the recording session
	StartTime      *time.Time // Start of the recording; nil when the header timestamp is unparseable
	HeaderBytes    int        // Byte offset of the first data record
	DataRecords    int        // Number of data records
	RecordDuration float64    // Duration of a single data record in seconds
	SignalCount    int        // Number of signals in each data record
	Reserved       string     // Raw 44-byte reserved field, trimmed
	Signals        []Signal   // Details of each signal
}

// RecordSize returns the size of one data record in bytes.
func (h *Header) RecordSize() int {
	size := 0
	for _, sig := range h.Signals {
		size += sig.SamplesPerRecord * h.Format.BytesPerSample()
	}
	return size
}

// DataLength returns the total duration of recorded data in seconds,
// excluding any gaps between data records.
func (h *Header) DataLength() float64 {
	return float64(h.DataRecords) * h.RecordDuration
}

// Signal represents the characteristics of one signal in the recording.
type Signal struct {
	Label             string  // Label of the signal (e.g. EEG Fpz-Cz)
	TransducerType    string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g. uV, mV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefiltering      string  // Pre-filtering information
	SamplesPerRecord  int     // Number of samples in each data record for this signal
	Reserved          string  // Reserved for future use
	Annotation        bool    // Signal is an EDF/BDF annotation channel
}

// UnitsPerBit returns the physical value of one digital unit.
func (s Signal) UnitsPerBit() float64 {
	digRange := s.DigitalMax - s.DigitalMin
	if digRange == 0 {
		return 0
	}
	return (s.PhysicalMax - s.PhysicalMin) / float64(digRange)
}

// DigitalOffset returns the digital correction term such that
// physical = UnitsPerBit * (digital + DigitalOffset).
func (s Signal) DigitalOffset() float64 {
	upb := s.UnitsPerBit()
	if upb == 0 {
		return 0
	}
	return s.PhysicalMax/upb - float64(s.DigitalMax)
}

// SamplingRate returns the sampling rate of the signal in Hz for the
// given data record duration. Annotation channels report 0.
func (s Signal) SamplingRate(recordDuration float64) float64 {
	if s.Annotation || recordDuration <= 0 {
		return 0
	}
	return float64(s.SamplesPerRecord) / recordDuration
}

// isAnnotationLabel matches annotation channel labels
// case-insensitively; conformant writers emit the exact case but
// non-conformant files are accepted.
func isAnnotationLabel(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	return label == "edf annotations" || label == "bdf annotations"
}

// Annotation is a single timestamped event from an annotation channel.
type Annotation struct {
	Start    float64 // Onset in recording time seconds
	Duration float64 // Duration in seconds, 0 for instantaneous events
	Label    string
	Channels []int  // Channels the annotation concerns; nil means all
	Class    string // Annotation class, "event" unless set otherwise
}

// DataGap is a break between data records of a discontinuous recording,
// reported in recording time.
type DataGap struct {
	Start    float64 // Start of the gap in recording time seconds
	Duration float64 // Length of the gap in seconds
}

// ChannelFilter selects a subset of channels for GetSignals. A non-nil
// Include list wins over Exclude.
type ChannelFilter struct {
	Include []int
	Exclude []int
}

func (f *ChannelFilter) wants(ch int) bool {
	if f == nil {
		return true
	}
	if f.Include != nil {
		for _, c := range f.Include {
			if c == ch {
				return true
			}
		}
		return false
	}
	for _, c := range f.Exclude {
		if c == ch {
			return false
		}
	}
	return true
}

// SignalData is the response to a GetSignals request.
type SignalData struct {
	Start       float64
	End         float64
	Signals     map[int][]float64 // Physical samples keyed by channel index
	Annotations []Annotation
	Gaps        []DataGap
}
