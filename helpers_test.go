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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testSignal describes one channel of a synthesised recording.
type testSignal struct {
	label   string
	unit    string
	physMin float64
	physMax float64
	digMin  int
	digMax  int
	samples int
}

// annotationSignal returns an annotation channel spec wide enough for
// widthBytes TAL bytes.
func annotationSignal(format string, widthBytes int) testSignal {
	bytesPerSample := 2
	if strings.EqualFold(format, "bdf") {
		bytesPerSample = 3
	}
	return testSignal{
		label:   format + " Annotations",
		digMin:  -32768,
		digMax:  32767,
		samples: (widthBytes + bytesPerSample - 1) / bytesPerSample,
	}
}

// testFile synthesises EDF/BDF byte images for tests.
type testFile struct {
	bdf           bool
	plus          bool
	discontinuous bool
	records       int
	duration      float64
	date          string // dd.mm.yy, defaults to 04.08.26
	time          string // hh.mm.ss, defaults to 10.30.00
	signals       []testSignal

	// digital yields the digital value of a data channel sample.
	digital func(record, signal, sample int) int
	// tal yields the raw TAL payload of annotation channels; it is
	// zero-padded to the channel width.
	tal func(record int) []byte

	// Overrides for malformed header tests; empty means the computed
	// value.
	signalCountField string
	recordCountField string
	durationField    string
	headerBytesField string
	versionField     []byte
}

func (f *testFile) bytesPerSample() int {
	if f.bdf {
		return 3
	}
	return 2
}

func (f *testFile) recordSize() int {
	size := 0
	for _, sig := range f.signals {
		size += sig.samples * f.bytesPerSample()
	}
	return size
}

// header renders the fixed header and the field-major signal blocks.
func (f *testFile) header() []byte {
	var buf bytes.Buffer
	field := func(width int, format string, args ...any) {
		s := fmt.Sprintf(format, args...)
		if len(s) > width {
			panic(fmt.Sprintf("field %q over %d bytes", s, width))
		}
		fmt.Fprintf(&buf, "%-*s", width, s)
	}

	if f.versionField != nil {
		buf.Write(f.versionField)
	} else if f.bdf {
		buf.WriteByte(0xFF)
		fmt.Fprintf(&buf, "%-7s", "BIOSEMI")
	} else {
		field(8, "0")
	}

	field(80, "X X X X")
	field(80, "Startdate X X X X")
	date := f.date
	if date == "" {
		date = "04.08.26"
	}
	clock := f.time
	if clock == "" {
		clock = "10.30.00"
	}
	field(8, "%s", date)
	field(8, "%s", clock)
	if f.headerBytesField != "" {
		field(8, "%s", f.headerBytesField)
	} else {
		field(8, "%d", 256*(len(f.signals)+1))
	}

	reserved := ""
	if f.plus {
		kind := "EDF"
		if f.bdf {
			kind = "BDF"
		}
		if f.discontinuous {
			reserved = kind + "+D"
		} else {
			reserved = kind + "+C"
		}
	}
	field(44, "%s", reserved)

	if f.recordCountField != "" {
		field(8, "%s", f.recordCountField)
	} else {
		field(8, "%d", f.records)
	}
	if f.durationField != "" {
		field(8, "%s", f.durationField)
	} else {
		field(8, "%s", strconv.FormatFloat(f.duration, 'g', -1, 64))
	}
	if f.signalCountField != "" {
		field(4, "%s", f.signalCountField)
	} else {
		field(4, "%d", len(f.signals))
	}

	for _, sig := range f.signals {
		field(16, "%s", sig.label)
	}
	for range f.signals {
		field(80, "")
	}
	for _, sig := range f.signals {
		field(8, "%s", sig.unit)
	}
	for _, sig := range f.signals {
		field(8, "%s", strconv.FormatFloat(sig.physMin, 'g', -1, 64))
	}
	for _, sig := range f.signals {
		field(8, "%s", strconv.FormatFloat(sig.physMax, 'g', -1, 64))
	}
	for _, sig := range f.signals {
		field(8, "%d", sig.digMin)
	}
	for _, sig := range f.signals {
		field(8, "%d", sig.digMax)
	}
	for range f.signals {
		field(80, "")
	}
	for _, sig := range f.signals {
		field(8, "%d", sig.samples)
	}
	for range f.signals {
		field(32, "")
	}
	return buf.Bytes()
}

// build renders the full byte image: header plus all data records.
func (f *testFile) build(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(f.header())

	for rec := 0; rec < f.records; rec++ {
		for si, sig := range f.signals {
			if isAnnotationLabel(sig.label) {
				width := sig.samples * f.bytesPerSample()
				payload := []byte{}
				if f.tal != nil {
					payload = f.tal(rec)
				}
				if len(payload) > width {
					t.Fatalf("record %d TAL payload of %d bytes over channel width %d", rec, len(payload), width)
				}
				buf.Write(payload)
				buf.Write(make([]byte, width-len(payload)))
				continue
			}
			for i := 0; i < sig.samples; i++ {
				digital := 0
				if f.digital != nil {
					digital = f.digital(rec, si, i)
				}
				writeSample(&buf, digital, f.bytesPerSample())
			}
		}
	}
	return buf.Bytes()
}

func writeSample(buf *bytes.Buffer, digital, width int) {
	v := uint32(int32(digital))
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	if width == 3 {
		buf.WriteByte(byte(v >> 16))
	}
}

// continuousTAL returns the plain record start marker for record rec of
// a continuous recording.
func continuousTAL(rec int, duration float64) []byte {
	return []byte(fmt.Sprintf("+%s\x14\x14\x00", strconv.FormatFloat(float64(rec)*duration, 'g', -1, 64)))
}

// testRecordingEDF builds the common 2-channel 256 Hz continuous EDF
// test image, 10 records of 1 s. Digital values encode the absolute
// sample index modulo 1024 (offset by -512) so tests can verify
// placement.
func testRecordingEDF(t *testing.T) *testFile {
	t.Helper()
	return &testFile{
		records:  10,
		duration: 1,
		signals: []testSignal{
			{label: "EEG Fpz-Cz", unit: "uV", physMin: -500, physMax: 500, digMin: -2048, digMax: 2047, samples: 256},
			{label: "EEG Pz-Oz", unit: "uV", physMin: -500, physMax: 500, digMin: -2048, digMax: 2047, samples: 256},
		},
		digital: func(rec, sig, sample int) int {
			return (rec*256+sample)%1024 - 512
		},
	}
}

// physicalFor converts a digital value the way the decoder should.
func physicalFor(sig Signal, digital int) float64 {
	return sig.UnitsPerBit() * (float64(digital) + sig.DigitalOffset())
}

// slowSource delays every read, for exercising awaiter deadlines.
type slowSource struct {
	ByteSource
	delay time.Duration
}

func (s *slowSource) ReadAt(p []byte, off int64) (int, error) {
	time.Sleep(s.delay)
	return s.ByteSource.ReadAt(p, off)
}

func writeTempFile(t *testing.T, b []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.edf")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}
