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
	"sort"
	"sync"
	"time"
)

// Config tunes the cache engine.
type Config struct {
	// DataChunkSize is the target byte size of one sweep chunk. The
	// sweep loads max(1, DataChunkSize/recordSize) records per chunk.
	DataChunkSize int

	// MaxLoadCacheSize caps the total cached sample bytes after
	// widening to the in-memory sample width. A whole-recording sweep
	// that would exceed it is rejected.
	MaxLoadCacheSize int

	// AwaitSignals bounds how long a GetSignals call waits for an
	// in-flight load to cover its range.
	AwaitSignals time.Duration

	// Sink optionally mirrors every cache insert.
	Sink SignalSink
}

// Defaults for Config fields left zero.
const (
	DefaultDataChunkSize    = 1 << 20   // 1 MiB
	DefaultMaxLoadCacheSize = 512 << 20 // 512 MiB
	DefaultAwaitSignals     = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.DataChunkSize <= 0 {
		c.DataChunkSize = DefaultDataChunkSize
	}
	if c.MaxLoadCacheSize <= 0 {
		c.MaxLoadCacheSize = DefaultMaxLoadCacheSize
	}
	if c.AwaitSignals <= 0 {
		c.AwaitSignals = DefaultAwaitSignals
	}
	return c
}

// sweepYield is the cooperative pause between sweep chunks, long
// enough for a concurrent GetSignals to take the engine lock.
const sweepYield = 10 * time.Millisecond

// ProgressEvent reports one completed (or failed) sweep chunk.
type ProgressEvent struct {
	ChunkStart  float64      // recording time start of the chunk
	ChunkEnd    float64      // recording time end of the chunk
	Annotations []Annotation // annotations observed within the chunk
	Gaps        []DataGap    // full current gap set
	// CoveredStart and CoveredEnd are the cache time range now
	// contiguously cached on every channel. Monotonic across events.
	CoveredStart float64
	CoveredEnd   float64
	Err          error // non-nil when this chunk failed to load
}

// cacheProcess tracks one in-flight asynchronous load.
type cacheProcess struct {
	startRecord int
	endRecord   int
	cursor      int
	cancelled   bool
	done        chan struct{}
}

// awaiter is a suspended GetSignals call waiting for a load to cover
// its cache time range.
type awaiter struct {
	start float64
	end   float64
	ready chan struct{}
}

// cacheEngine owns the signal cache, the gap model and the annotation
// list. All state is guarded by mu; the sweep goroutine releases the
// lock between chunks so direct requests interleave.
type cacheEngine struct {
	mu  sync.Mutex
	hdr *Header
	src ByteSource
	cfg Config
	log *slog.Logger

	dec         *recordDecoder
	cache       *signalCache
	gaps        *gapModel
	annotations []Annotation

	dataLength  float64
	totalLength float64

	processes map[*cacheProcess]struct{}
	awaiters  []*awaiter
	released  bool
}

func newCacheEngine(hdr *Header, src ByteSource, totalLength float64, cfg Config, log *slog.Logger) (*cacheEngine, error) {
	cfg = cfg.withDefaults()
	e := &cacheEngine{
		hdr:         hdr,
		src:         src,
		cfg:         cfg,
		log:         log,
		dec:         newRecordDecoder(hdr, log),
		cache:       newSignalCache(hdr),
		gaps:        newGapModel(totalLength),
		dataLength:  hdr.DataLength(),
		totalLength: totalLength,
		processes:   make(map[*cacheProcess]struct{}),
	}
	if cfg.Sink != nil {
		channels := make([]SinkChannel, len(hdr.Signals))
		for i, sig := range hdr.Signals {
			rate := sig.SamplingRate(hdr.RecordDuration)
			channels[i] = SinkChannel{
				SamplingRate:    rate,
				CapacitySamples: sampleCount(e.dataLength, rate),
			}
		}
		if err := cfg.Sink.Init(channels); err != nil {
			return nil, fmt.Errorf("error initialising signal sink: %w", err)
		}
	}
	return e, nil
}

// widenedSize returns the in-memory byte size of the fully cached
// recording: 16-bit EDF samples widen by a factor of 2, 24-bit BDF
// samples by 4/3.
func (e *cacheEngine) widenedSize() int {
	raw := e.hdr.RecordSize() * e.hdr.DataRecords
	if e.hdr.Format.BytesPerSample() == 3 {
		return raw * 4 / 3
	}
	return raw * 2
}

// loadRecords reads and decodes the record span [first, first+count),
// merging the results into the cache. The caller holds e.mu. The cache
// is left untouched on error.
func (e *cacheEngine) loadRecords(first, count int) error {
	if first < 0 || count <= 0 || first+count > e.hdr.DataRecords {
		return fmt.Errorf("%w: records [%d, %d) of %d", ErrOutOfRange, first, first+count, e.hdr.DataRecords)
	}
	recordSize := e.hdr.RecordSize()
	off := int64(e.hdr.HeaderBytes) + int64(first)*int64(recordSize)
	buf, err := readRange(e.src, off, int64(count)*int64(recordSize))
	if err != nil {
		return err
	}

	duration := e.hdr.RecordDuration
	chunkStart := float64(first) * duration

	// Gap time before the buffer; a gap keyed exactly at the buffer
	// start belongs to the first record and will be re-discovered.
	priorGap := 0.0
	for _, g := range e.gaps.entries {
		if g.dataTime < chunkStart {
			priorGap += g.duration
		}
	}

	chunk, err := e.dec.decode(buf, first, priorGap)
	if err != nil {
		return err
	}

	e.gaps.addAll(chunk.gaps)
	e.totalLength = math.Max(e.totalLength, e.dataLength+e.gaps.total())
	e.gaps.setLength(e.totalLength)
	e.mergeAnnotations(chunk.annotations)

	chunkEnd := float64(first+count) * duration
	if err := e.cache.insert(chunkStart, chunkEnd, chunk.signals); err != nil {
		return err
	}
	e.writeSink(chunkStart, chunk.signals)
	e.notifyAwaiters()
	return nil
}

// writeSink mirrors an insert into the configured sink and publishes
// the per-channel covered bound afterwards, so sink readers never see a
// partially written region.
func (e *cacheEngine) writeSink(start float64, signals [][]float64) {
	sink := e.cfg.Sink
	if sink == nil {
		return
	}
	for ch, samples := range signals {
		if samples == nil {
			continue
		}
		if err := sink.WriteRange(ch, CacheTime(start), samples); err != nil {
			e.log.Warn("signal sink write failed", "channel", ch, "error", err)
			continue
		}
		if s, end, ok := e.cache.channelRange(ch); ok {
			if err := sink.SetUpdatedRange(ch, CacheTime(s), CacheTime(end)); err != nil {
				e.log.Warn("signal sink range publish failed", "channel", ch, "error", err)
			}
		}
	}
}

// mergeAnnotations inserts annotations into the flat sorted list,
// skipping exact duplicates from re-decoded records.
func (e *cacheEngine) mergeAnnotations(annotations []Annotation) {
	for _, a := range annotations {
		i := sort.Search(len(e.annotations), func(i int) bool {
			return e.annotations[i].Start >= a.Start
		})
		dup := false
		for j := i; j < len(e.annotations) && e.annotations[j].Start == a.Start; j++ {
			if e.annotations[j].Duration == a.Duration && e.annotations[j].Label == a.Label {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		e.annotations = append(e.annotations, Annotation{})
		copy(e.annotations[i+1:], e.annotations[i:])
		e.annotations[i] = a
	}
}

// annotationsInRange returns annotations with onset in [start, end),
// located by binary search over the sorted list.
func (e *cacheEngine) annotationsInRange(start, end float64) []Annotation {
	lo := sort.Search(len(e.annotations), func(i int) bool {
		return e.annotations[i].Start >= start
	})
	hi := sort.Search(len(e.annotations), func(i int) bool {
		return e.annotations[i].Start >= end
	})
	out := make([]Annotation, hi-lo)
	copy(out, e.annotations[lo:hi])
	return out
}

// notifyAwaiters releases every awaiter whose range the cache now
// covers. The caller holds e.mu.
func (e *cacheEngine) notifyAwaiters() {
	kept := e.awaiters[:0]
	for _, w := range e.awaiters {
		if s, end, ok := e.cache.coveredRange(); ok && s <= w.start && end >= w.end {
			close(w.ready)
			continue
		}
		kept = append(kept, w)
	}
	e.awaiters = kept
}

// processCovering returns an active process whose target contains the
// record span [first, last) and whose cursor has not passed last.
func (e *cacheEngine) processCovering(first, last int) *cacheProcess {
	for p := range e.processes {
		if p.cancelled {
			continue
		}
		if p.startRecord <= first && p.endRecord >= last && p.cursor <= last {
			return p
		}
	}
	return nil
}

// recordSpanFor maps a cache time range to the aligned data record span
// that contains it.
func (e *cacheEngine) recordSpanFor(cacheStart, cacheEnd float64) (int, int) {
	duration := e.hdr.RecordDuration
	first := int(math.Floor(cacheStart/duration + 1e-9))
	last := int(math.Ceil(cacheEnd/duration - 1e-9))
	if first < 0 {
		first = 0
	}
	if first >= e.hdr.DataRecords {
		first = e.hdr.DataRecords - 1
	}
	if last > e.hdr.DataRecords {
		last = e.hdr.DataRecords
	}
	if last <= first {
		last = first + 1
	}
	return first, last
}

// getSignals services one signal request in recording time.
func (e *cacheEngine) getSignals(start, end float64, filter *ChannelFilter) (*SignalData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil, ErrReleased
	}
	if start < 0 || end < start || end > e.totalLength {
		return nil, fmt.Errorf("%w: [%g, %g] not in [0, %g]", ErrOutOfRange, start, end, e.totalLength)
	}

	cacheStart := start - e.gaps.gapTimeBetween(0, RecordingTime(start))
	cacheEnd := end - e.gaps.gapTimeBetween(0, RecordingTime(end))
	cacheEnd = math.Min(cacheEnd, e.dataLength)

	if !e.cache.covers(cacheStart, cacheEnd) {
		first, last := e.recordSpanFor(cacheStart, cacheEnd)
		if p := e.processCovering(first, last); p != nil {
			e.awaitCovered(cacheStart, cacheEnd)
			if e.released {
				return nil, ErrReleased
			}
		} else if err := e.loadRecords(first, last-first); err != nil {
			return nil, err
		}
		// Gap discovery during the load may have shifted the cache
		// time counterpart of the requested range.
		cacheStart = start - e.gaps.gapTimeBetween(0, RecordingTime(start))
		cacheEnd = end - e.gaps.gapTimeBetween(0, RecordingTime(end))
		cacheEnd = math.Min(cacheEnd, e.dataLength)
	}

	return e.assemble(start, end, filter), nil
}

// awaitCovered suspends the caller until an in-flight load covers the
// cache time range [start, end) or the deadline passes. On deadline the
// request proceeds with whatever is cached. Called with e.mu held;
// releases it while waiting.
func (e *cacheEngine) awaitCovered(start, end float64) {
	if s, en, ok := e.cache.coveredRange(); ok && s <= start && en >= end {
		return
	}
	w := &awaiter{start: start, end: end, ready: make(chan struct{})}
	e.awaiters = append(e.awaiters, w)
	e.mu.Unlock()
	select {
	case <-w.ready:
	case <-time.After(e.cfg.AwaitSignals):
		e.log.Warn("signal wait deadline passed, serving partial data",
			"cacheStart", start, "cacheEnd", end, "deadline", e.cfg.AwaitSignals)
	}
	e.mu.Lock()
	// Drop the awaiter if it is still registered (deadline case).
	for i, reg := range e.awaiters {
		if reg == w {
			e.awaiters = append(e.awaiters[:i], e.awaiters[i+1:]...)
			break
		}
	}
}

// assemble builds the response for the recording time range
// [start, end): per channel a zero-filled physical sample buffer with
// cached data placed around the gaps. The caller holds e.mu.
func (e *cacheEngine) assemble(start, end float64, filter *ChannelFilter) *SignalData {
	priorGaps := e.gaps.gapTimeBetween(0, RecordingTime(start))
	innerGaps := e.gaps.inRange(RecordingTime(start), RecordingTime(end))
	innerTotal := 0.0
	for _, g := range innerGaps {
		innerTotal += g.Duration
	}
	cacheStart := start - priorGaps
	cacheEnd := end - priorGaps - innerTotal

	out := &SignalData{
		Start:       start,
		End:         end,
		Signals:     make(map[int][]float64),
		Annotations: e.annotationsInRange(start, end),
		Gaps:        innerGaps,
	}

	for ch := range e.hdr.Signals {
		rate := e.cache.rates[ch]
		if rate == 0 || !filter.wants(ch) {
			continue
		}
		n := sampleCount(end-start, rate)
		samples := make([]float64, n)
		copy(samples, e.cache.slice(ch, cacheStart, cacheEnd))

		// Shift the tail forward across each gap and zero the gap
		// span, walking gaps in ascending order.
		for _, g := range innerGaps {
			gapIdx := sampleCount(g.Start-start, rate)
			shift := sampleCount(g.Duration, rate)
			if gapIdx >= n {
				break
			}
			if gapIdx+shift >= n {
				zeroRange(samples[gapIdx:])
				break
			}
			copy(samples[gapIdx+shift:], samples[gapIdx:n-shift])
			zeroRange(samples[gapIdx : gapIdx+shift])
		}
		out.Signals[ch] = samples
	}
	return out
}

func zeroRange(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

// startSweep launches the progressive whole-recording load. The
// returned channel closes when the sweep finishes or is cancelled.
func (e *cacheEngine) startSweep(startFrom float64, progress func(ProgressEvent)) (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil, ErrReleased
	}
	if e.widenedSize() > e.cfg.MaxLoadCacheSize {
		return nil, fmt.Errorf("%w: %d widened bytes over limit %d", ErrCacheTooSmall, e.widenedSize(), e.cfg.MaxLoadCacheSize)
	}

	recordSize := e.hdr.RecordSize()
	chunkRecords := e.cfg.DataChunkSize / recordSize
	if chunkRecords < 1 {
		chunkRecords = 1
	}
	first := 0
	if startFrom > 0 {
		cacheFrom := startFrom - e.gaps.gapTimeBetween(0, RecordingTime(startFrom))
		first, _ = e.recordSpanFor(cacheFrom, cacheFrom)
	}

	p := &cacheProcess{
		startRecord: first,
		endRecord:   e.hdr.DataRecords,
		cursor:      first,
		done:        make(chan struct{}),
	}
	e.processes[p] = struct{}{}

	go e.runSweep(p, chunkRecords, progress)
	return p.done, nil
}

// runSweep drives one cacheProcess chunk by chunk, yielding between
// chunks so direct requests can take the lock.
func (e *cacheEngine) runSweep(p *cacheProcess, chunkRecords int, progress func(ProgressEvent)) {
	defer close(p.done)
	for {
		e.mu.Lock()
		if p.cancelled || p.cursor >= p.endRecord {
			delete(e.processes, p)
			e.mu.Unlock()
			return
		}

		count := chunkRecords
		if p.cursor+count > p.endRecord {
			count = p.endRecord - p.cursor
		}
		first := p.cursor
		err := e.loadRecords(first, count)
		p.cursor = first + count

		var event ProgressEvent
		if progress != nil {
			event = e.progressEvent(first, count, err)
		}
		if err != nil {
			// A malformed chunk fails alone; the sweep moves on.
			e.log.Warn("sweep chunk failed", "firstRecord", first, "records", count, "error", err)
		}
		e.mu.Unlock()

		if progress != nil {
			progress(event)
		}
		time.Sleep(sweepYield)
	}
}

// progressEvent snapshots the state reported after a chunk. The caller
// holds e.mu.
func (e *cacheEngine) progressEvent(first, count int, err error) ProgressEvent {
	duration := e.hdr.RecordDuration
	cacheStart := float64(first) * duration
	cacheEnd := float64(first+count) * duration
	recStart, _ := e.gaps.cacheToRec(CacheTime(cacheStart))
	recEnd := e.totalLength
	if t, cerr := e.gaps.cacheToRec(CacheTime(cacheEnd)); cerr == nil {
		recEnd = float64(t)
	}
	event := ProgressEvent{
		ChunkStart:  float64(recStart),
		ChunkEnd:    recEnd,
		Annotations: e.annotationsInRange(float64(recStart), recEnd),
		Gaps:        e.gaps.inRange(0, RecordingTime(e.totalLength)),
		Err:         err,
	}
	if s, en, ok := e.cache.coveredRange(); ok {
		event.CoveredStart = s
		event.CoveredEnd = en
	}
	return event
}

// dataGaps returns the gaps overlapping the recording time window,
// clipped to it.
func (e *cacheEngine) dataGaps(start, end float64) []DataGap {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gaps.inRange(RecordingTime(start), RecordingTime(end))
}

// annotationList returns annotations with onset inside the window.
func (e *cacheEngine) annotationList(start, end float64) []Annotation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.annotationsInRange(start, end)
}

// release cancels all processes, wakes every awaiter and drops the
// buffers.
func (e *cacheEngine) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.released = true
	for p := range e.processes {
		p.cancelled = true
	}
	for _, w := range e.awaiters {
		close(w.ready)
	}
	e.awaiters = nil
	e.cache.release()
	e.annotations = nil
}

// totalRecordingLength returns the recording length including gaps.
func (e *cacheEngine) totalRecordingLength() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLength
}
