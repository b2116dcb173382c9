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
	"math"
	"sync"
)

// cacheSpan is one contiguous run of cached samples for a channel,
// bounded in cache time. samples always holds round((end-start)*rate)
// values.
type cacheSpan struct {
	start   float64
	end     float64
	samples []float64
}

// signalCache owns the per-channel sample buffers, indexed by cache
// time. It is mutated only by the cache engine.
type signalCache struct {
	rates []float64 // per-channel sampling rate; 0 for annotation channels
	spans [][]cacheSpan
}

func newSignalCache(hdr *Header) *signalCache {
	c := &signalCache{
		rates: make([]float64, len(hdr.Signals)),
		spans: make([][]cacheSpan, len(hdr.Signals)),
	}
	for i, sig := range hdr.Signals {
		c.rates[i] = sig.SamplingRate(hdr.RecordDuration)
	}
	return c
}

func sampleCount(duration, rate float64) int {
	return int(math.Round(duration * rate))
}

// insert writes per-channel samples covering the cache time range
// [start, end), merging with existing contiguous or overlapping spans.
// Annotation channels (rate 0) are no-ops.
func (c *signalCache) insert(start, end float64, signals [][]float64) error {
	for ch := range c.spans {
		rate := c.rates[ch]
		if rate == 0 {
			continue
		}
		if ch >= len(signals) || signals[ch] == nil {
			return fmt.Errorf("edf: insert missing samples for channel %d", ch)
		}
		if want := sampleCount(end-start, rate); len(signals[ch]) != want {
			return fmt.Errorf("edf: channel %d: %d samples for range needing %d", ch, len(signals[ch]), want)
		}
		c.insertChannel(ch, start, end, signals[ch])
	}
	return nil
}

// insertChannel splices one channel's samples into the span list.
// Spans that touch (within half a sample period) or overlap the new
// range collapse into a single merged span; new samples win overlaps.
func (c *signalCache) insertChannel(ch int, start, end float64, samples []float64) {
	rate := c.rates[ch]
	slack := 0.5 / rate

	mergedStart, mergedEnd := start, end
	first, last := -1, -1
	for i, s := range c.spans[ch] {
		if s.end < start-slack || s.start > end+slack {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
		mergedStart = min(mergedStart, s.start)
		mergedEnd = max(mergedEnd, s.end)
	}

	merged := cacheSpan{
		start:   mergedStart,
		end:     mergedEnd,
		samples: make([]float64, sampleCount(mergedEnd-mergedStart, rate)),
	}
	if first >= 0 {
		for _, s := range c.spans[ch][first : last+1] {
			off := sampleCount(s.start-mergedStart, rate)
			copy(merged.samples[off:], s.samples)
		}
	}
	off := sampleCount(start-mergedStart, rate)
	copy(merged.samples[off:], samples)

	if first < 0 {
		// No neighbours; insert sorted by start.
		i := 0
		for ; i < len(c.spans[ch]); i++ {
			if c.spans[ch][i].start > start {
				break
			}
		}
		c.spans[ch] = append(c.spans[ch], cacheSpan{})
		copy(c.spans[ch][i+1:], c.spans[ch][i:])
		c.spans[ch][i] = merged
		return
	}
	c.spans[ch][first] = merged
	c.spans[ch] = append(c.spans[ch][:first+1], c.spans[ch][last+1:]...)
}

// slice returns round((end-start)*rate) samples for the cache time
// range [start, end); positions not in the cache are zero-filled.
func (c *signalCache) slice(ch int, start, end float64) []float64 {
	rate := c.rates[ch]
	if rate == 0 || end <= start {
		return nil
	}
	out := make([]float64, sampleCount(end-start, rate))
	for _, s := range c.spans[ch] {
		lo := max(s.start, start)
		hi := min(s.end, end)
		if hi <= lo {
			continue
		}
		srcOff := sampleCount(lo-s.start, rate)
		dstOff := sampleCount(lo-start, rate)
		n := sampleCount(hi-lo, rate)
		copy(out[dstOff:dstOff+n], s.samples[srcOff:srcOff+n])
	}
	return out
}

// channelRange returns the leading contiguous covered range of one
// channel.
func (c *signalCache) channelRange(ch int) (float64, float64, bool) {
	if len(c.spans[ch]) == 0 {
		return 0, 0, false
	}
	s := c.spans[ch][0]
	return s.start, s.end, true
}

// coveredRange returns the intersection of the per-channel covered
// ranges: the largest (max start, min end) window every data channel
// has cached. Annotation channels do not constrain it.
func (c *signalCache) coveredRange() (float64, float64, bool) {
	start := math.Inf(-1)
	end := math.Inf(1)
	found := false
	for ch := range c.spans {
		if c.rates[ch] == 0 {
			continue
		}
		s, e, ok := c.channelRange(ch)
		if !ok {
			return 0, 0, false
		}
		start = max(start, s)
		end = min(end, e)
		found = true
	}
	if !found || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// covers reports whether every data channel has the cache time range
// [start, end) fully cached.
func (c *signalCache) covers(start, end float64) bool {
	for ch := range c.spans {
		rate := c.rates[ch]
		if rate == 0 {
			continue
		}
		slack := 0.5 / rate
		ok := false
		for _, s := range c.spans[ch] {
			if s.start <= start+slack && s.end >= end-slack {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c *signalCache) release() {
	for ch := range c.spans {
		c.spans[ch] = nil
	}
}

// SinkChannel describes one channel of a SignalSink.
type SinkChannel struct {
	SamplingRate    float64
	CapacitySamples int
}

// SignalSink is an optional zero-copy outlet for cached samples. It may
// be backed by process-local or shared memory; the reader mirrors every
// cache insert into it and publishes the covered bound afterwards, so a
// consumer never observes a partially written sample region.
type SignalSink interface {
	Init(channels []SinkChannel) error
	WriteRange(channel int, start CacheTime, samples []float64) error
	ReadRange(channel int, start, end CacheTime) ([]float64, error)
	SetUpdatedRange(channel int, start, end CacheTime) error
	UpdatedRange(channel int) (start, end CacheTime, ok bool)
}

// MemorySink is a process-local SignalSink. Writers append samples and
// publish the updated bound under the lock; readers only see samples
// inside the published range.
type MemorySink struct {
	mu       sync.Mutex
	channels []sinkChannel
}

type sinkChannel struct {
	rate     float64
	samples  []float64
	hasRange bool
	start    float64
	end      float64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Init(channels []SinkChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = make([]sinkChannel, len(channels))
	for i, ch := range channels {
		m.channels[i] = sinkChannel{
			rate:    ch.SamplingRate,
			samples: make([]float64, ch.CapacitySamples),
		}
	}
	return nil
}

func (m *MemorySink) WriteRange(channel int, start CacheTime, samples []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(channel)
	if err != nil {
		return err
	}
	off := sampleCount(float64(start), ch.rate)
	if off < 0 || off+len(samples) > len(ch.samples) {
		return fmt.Errorf("edf: sink write outside channel %d capacity", channel)
	}
	copy(ch.samples[off:], samples)
	return nil
}

func (m *MemorySink) ReadRange(channel int, start, end CacheTime) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(channel)
	if err != nil {
		return nil, err
	}
	if !ch.hasRange || float64(start) < ch.start || float64(end) > ch.end {
		return nil, fmt.Errorf("edf: sink read outside published range of channel %d", channel)
	}
	lo := sampleCount(float64(start), ch.rate)
	hi := sampleCount(float64(end), ch.rate)
	out := make([]float64, hi-lo)
	copy(out, ch.samples[lo:hi])
	return out, nil
}

func (m *MemorySink) SetUpdatedRange(channel int, start, end CacheTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(channel)
	if err != nil {
		return err
	}
	ch.hasRange = true
	ch.start = float64(start)
	ch.end = float64(end)
	return nil
}

func (m *MemorySink) UpdatedRange(channel int) (CacheTime, CacheTime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.channel(channel)
	if err != nil || !ch.hasRange {
		return 0, 0, false
	}
	return CacheTime(ch.start), CacheTime(ch.end), true
}

func (m *MemorySink) channel(i int) (*sinkChannel, error) {
	if i < 0 || i >= len(m.channels) {
		return nil, fmt.Errorf("edf: sink channel %d out of range", i)
	}
	return &m.channels[i], nil
}
