// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 The edf-reader authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import "errors"

// Sentinel errors returned by the reader. Wrapped errors carry the
// detail; match with errors.Is.
var (
	// ErrMalformedHeader marks an unsupported data format or a
	// missing/zero vital header field. Fatal to the open operation.
	ErrMalformedHeader = errors.New("edf: malformed header")

	// ErrMalformedAnnotation marks an unparseable TAL entry. The
	// enclosing chunk load fails; the sweep continues.
	ErrMalformedAnnotation = errors.New("edf: malformed annotation")

	// ErrShortRead is returned when a byte source yields fewer bytes
	// than requested.
	ErrShortRead = errors.New("edf: short read")

	// ErrOutOfRange rejects a time range outside the recording.
	ErrOutOfRange = errors.New("edf: range outside recording")

	// ErrNotInitialised rejects requests issued before setup completed.
	ErrNotInitialised = errors.New("edf: reader not initialised")

	// ErrAlreadyInitialised rejects a second study setup on a live reader.
	ErrAlreadyInitialised = errors.New("edf: reader already initialised")

	// ErrReleased rejects requests after Release.
	ErrReleased = errors.New("edf: reader released")

	// ErrCacheTooSmall rejects a whole-recording sweep whose widened
	// sample data would exceed the configured cache ceiling.
	ErrCacheTooSmall = errors.New("edf: recording exceeds cache size limit")
)
