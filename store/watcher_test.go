// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchStalenessMarksStore(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()

	batches := make(chan []string, 1)
	w, err := s.WatchStaleness(context.Background(), root,
		func(changed []string) { batches <- changed },
		WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	require.False(t, s.IsStale())
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("x = 1\n"), 0o644))

	select {
	case changed := <-batches:
		assert.NotEmpty(t, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}
	assert.True(t, s.IsStale())
}

func TestWatchStalenessIgnoresVendorDirs(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	batches := make(chan []string, 1)
	w, err := s.WatchStaleness(context.Background(), root,
		func(changed []string) { batches <- changed },
		WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0o644))

	select {
	case changed := <-batches:
		t.Fatalf("ignored directory produced a batch: %v", changed)
	case <-time.After(300 * time.Millisecond):
	}
	assert.False(t, s.IsStale())
}
