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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesSource(t *testing.T) {
	src := NewBytesSource([]byte("0123456789"))
	assert.Equal(t, int64(10), src.Size())

	b, err := readRange(src, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(b))

	_, err = readRange(src, 8, 4)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.edf")
	require.NoError(t, os.WriteFile(path, []byte("hello recording"), 0o644))

	src, err := OpenFileSource(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, src.Close())
	})

	assert.Equal(t, int64(15), src.Size())
	b, err := readRange(src, 6, 9)
	require.NoError(t, err)
	assert.Equal(t, "recording", string(b))
}

func TestFileSourceMissing(t *testing.T) {
	_, err := OpenFileSource(filepath.Join(t.TempDir(), "absent.edf"))
	require.Error(t, err)
}

// rangeServer serves content with full Range support the way a static
// file host would.
func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "test.edf", time.Now(), bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceRangeReads(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	srv := rangeServer(t, content)

	src, err := OpenURLSource(srv.URL, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), src.Size())

	b, err := readRange(src, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, "quick", string(b))

	b, err = readRange(src, 40, 3)
	require.NoError(t, err)
	assert.Equal(t, "dog", string(b))

	_, err = readRange(src, 40, 10)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestHTTPSourceMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := OpenURLSource(srv.URL, srv.Client())
	require.Error(t, err)
}

func TestHTTPSourceNoRangeSupport(t *testing.T) {
	// A server that ignores Range headers still works for reads at
	// offset zero but rejects reads further in.
	content := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(content)
	}))
	t.Cleanup(srv.Close)

	src, err := OpenURLSource(srv.URL, srv.Client())
	require.NoError(t, err)

	b, err := readRange(src, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(b))

	_, err = readRange(src, 4, 4)
	require.Error(t, err)
}
