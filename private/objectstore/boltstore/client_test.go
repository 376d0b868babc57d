// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package boltstore

import (
	"path/filepath"
	"testing"

	"storj.io/lsmstore/internal/testcontext"
	"storj.io/lsmstore/private/objectstore/testsuite"
)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dbname := filepath.Join(ctx.Dir("boltstore"), "bolt.db")
	store, err := New(dbname, "sstables")
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("failed to close db: %v", err)
		}
	}()

	testsuite.RunTests(t, store)
}
