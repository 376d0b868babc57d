// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"testing"

	"storj.io/lsmstore/private/objectstore/testsuite"
)

func TestSuite(t *testing.T) {
	store := New()
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	}()

	testsuite.RunTests(t, store)
}
