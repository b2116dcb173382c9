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
	"net/http"
	"sync"
)

// Study summarises an opened recording.
type Study struct {
	Format Format
	Header *Header
	// DataLength is the duration of recorded data in seconds.
	DataLength float64
	// RecordingLength is the recording duration including data gaps.
	RecordingLength float64
}

// Reader reads EDF/EDF+/BDF recordings from a random-access byte
// source and serves time-ranged signals, annotations and data gaps.
//
// A Reader is set up in two steps: SetupStudy parses the header,
// SetupCache allocates the signal cache. The Open* helpers do both.
type Reader struct {
	mu     sync.Mutex
	log    *slog.Logger
	client *http.Client

	src         ByteSource
	ownsSrc     bool
	hdr         *Header
	totalLength float64
	engine      *cacheEngine
	released    bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger routes the reader's diagnostics to log.
func WithLogger(log *slog.Logger) Option {
	return func(r *Reader) { r.log = log }
}

// WithHTTPClient sets the client used for URL sources.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Reader) { r.client = client }
}

// NewReader returns an uninitialised Reader.
func NewReader(opts ...Option) *Reader {
	r := &Reader{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open sets up a reader over src with the default cache configuration.
func Open(src ByteSource, opts ...Option) (*Reader, error) {
	return open(src, false, opts)
}

// OpenFile opens a recording from a local file.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	src, err := OpenFileSource(path)
	if err != nil {
		return nil, err
	}
	return open(src, true, opts)
}

// OpenURL opens a recording from a Range-capable HTTP URL.
func OpenURL(url string, opts ...Option) (*Reader, error) {
	r := NewReader(opts...)
	src, err := OpenURLSource(url, r.client)
	if err != nil {
		return nil, err
	}
	r.ownsSrc = true
	if _, err := r.SetupStudy(src); err != nil {
		src.Close()
		return nil, err
	}
	if err := r.SetupCache(Config{}); err != nil {
		src.Close()
		return nil, err
	}
	return r, nil
}

// OpenBytes opens a recording held in memory.
func OpenBytes(b []byte, opts ...Option) (*Reader, error) {
	return open(NewBytesSource(b), false, opts)
}

func open(src ByteSource, owns bool, opts []Option) (*Reader, error) {
	r := NewReader(opts...)
	r.ownsSrc = owns
	if _, err := r.SetupStudy(src); err != nil {
		if owns {
			src.Close()
		}
		return nil, err
	}
	if err := r.SetupCache(Config{}); err != nil {
		if owns {
			src.Close()
		}
		return nil, err
	}
	return r, nil
}

// SetupStudy parses the recording header from src. A failed setup
// leaves the Reader uninitialised; a second setup on a live Reader is
// rejected.
func (r *Reader) SetupStudy(src ByteSource) (*Study, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	if r.hdr != nil {
		return nil, ErrAlreadyInitialised
	}

	prefix, err := readRange(src, 0, 256)
	if err != nil {
		return nil, err
	}
	signalCount, err := ParseSignalCount(prefix)
	if err != nil {
		return nil, err
	}
	full, err := readRange(src, 0, int64(HeaderSize(signalCount)))
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(full, r.log)
	if err != nil {
		return nil, err
	}

	expected := int64(hdr.HeaderBytes) + int64(hdr.DataRecords)*int64(hdr.RecordSize())
	if size := src.Size(); size > 0 && size < expected {
		r.log.Warn("recording shorter than header claims", "size", size, "expected", expected)
	}

	totalLength := hdr.DataLength()
	if hdr.Discontinuous {
		// A discontinuous recording may end later than its data length;
		// the last record's TAL start timestamp tells by how much.
		if lastStart, ok := probeLastRecordStart(src, hdr, r.log); ok {
			totalLength = max(totalLength, lastStart+hdr.RecordDuration)
		}
	}

	r.src = src
	r.hdr = hdr
	r.totalLength = totalLength
	return &Study{
		Format:          hdr.Format,
		Header:          hdr,
		DataLength:      hdr.DataLength(),
		RecordingLength: totalLength,
	}, nil
}

// probeLastRecordStart reads only the annotation channel slice of the
// last data record and returns its TAL record start timestamp. The
// probe's annotations and gaps are discarded; the forward sweep
// re-collects them.
func probeLastRecordStart(src ByteSource, hdr *Header, log *slog.Logger) (float64, bool) {
	bytesPerSample := hdr.Format.BytesPerSample()
	channelOff := -1
	span := 0
	off := 0
	for _, sig := range hdr.Signals {
		if sig.Annotation {
			channelOff = off
			span = sig.SamplesPerRecord * bytesPerSample
			break
		}
		off += sig.SamplesPerRecord * bytesPerSample
	}
	if channelOff < 0 {
		log.Warn("discontinuous recording without annotation channel")
		return 0, false
	}

	recordOff := int64(hdr.HeaderBytes) + int64(hdr.DataRecords-1)*int64(hdr.RecordSize()) + int64(channelOff)
	buf, err := readRange(src, recordOff, int64(span))
	if err != nil {
		log.Warn("duration probe read failed", "error", err)
		return 0, false
	}
	tal, err := parseTAL(buf)
	if err != nil {
		log.Warn("duration probe parse failed", "error", err)
		return 0, false
	}
	return tal.start, true
}

// SetupCache allocates the signal cache and starts the engine.
func (r *Reader) SetupCache(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}
	if r.hdr == nil {
		return fmt.Errorf("%w: no study set up", ErrNotInitialised)
	}
	if r.engine != nil {
		return ErrAlreadyInitialised
	}
	engine, err := newCacheEngine(r.hdr, r.src, r.totalLength, cfg, r.log)
	if err != nil {
		return err
	}
	r.engine = engine
	return nil
}

// Header returns the parsed header, or nil before SetupStudy.
func (r *Reader) Header() *Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hdr
}

// DataLength returns the duration of recorded data in seconds.
func (r *Reader) DataLength() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hdr == nil {
		return 0
	}
	return r.hdr.DataLength()
}

// TotalLength returns the recording length in seconds including gaps.
// It can grow as gaps are discovered.
func (r *Reader) TotalLength() float64 {
	r.mu.Lock()
	engine := r.engine
	total := r.totalLength
	r.mu.Unlock()
	if engine != nil {
		return engine.totalRecordingLength()
	}
	return total
}

// GetSignals returns physical samples, annotations and gaps for the
// recording time range [start, end]. On a cache miss the needed byte
// range is loaded; while a sweep covers the range the call suspends up
// to the configured deadline and then serves best-effort.
func (r *Reader) GetSignals(start, end float64, filter *ChannelFilter) (*SignalData, error) {
	engine, err := r.liveEngine()
	if err != nil {
		return nil, err
	}
	return engine.getSignals(start, end, filter)
}

// Annotations returns the annotations with onset inside [start, end),
// clipped to the recording bounds.
func (r *Reader) Annotations(start, end float64) ([]Annotation, error) {
	engine, err := r.liveEngine()
	if err != nil {
		return nil, err
	}
	start, end = clipRange(start, end, engine.totalRecordingLength())
	return engine.annotationList(start, end), nil
}

// DataGaps returns the data gaps overlapping [start, end), clipped to
// the recording bounds.
func (r *Reader) DataGaps(start, end float64) ([]DataGap, error) {
	engine, err := r.liveEngine()
	if err != nil {
		return nil, err
	}
	start, end = clipRange(start, end, engine.totalRecordingLength())
	return engine.dataGaps(start, end), nil
}

// CacheSignals launches the progressive whole-recording sweep from
// startFrom seconds. The returned channel closes when the sweep
// completes or is cancelled; progress may be nil.
func (r *Reader) CacheSignals(startFrom float64, progress func(ProgressEvent)) (<-chan struct{}, error) {
	engine, err := r.liveEngine()
	if err != nil {
		return nil, err
	}
	return engine.startSweep(startFrom, progress)
}

// Release cancels all loads, wakes suspended requests and drops the
// cache. The Reader cannot be reused afterwards.
func (r *Reader) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	engine := r.engine
	src := r.src
	owns := r.ownsSrc
	r.mu.Unlock()

	if engine != nil {
		engine.release()
	}
	if owns && src != nil {
		src.Close()
	}
}

func (r *Reader) liveEngine() (*cacheEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	if r.engine == nil {
		return nil, fmt.Errorf("%w: no cache set up", ErrNotInitialised)
	}
	return r.engine, nil
}

func clipRange(start, end, total float64) (float64, float64) {
	start = max(start, 0)
	end = min(end, total)
	if end < start {
		end = start
	}
	return start, end
}
