// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite contains contract tests that every object store
// backend must pass.
package testsuite

import (
	"bytes"
	"testing"

	"storj.io/lsmstore/internal/testcontext"
	"storj.io/lsmstore/private/objectstore"
)

// RunTests runs the contract tests against the given store.
func RunTests(t *testing.T, store objectstore.Store) {
	t.Run("UploadRead", func(t *testing.T) { testUploadRead(t, store) })
	t.Run("PartialRead", func(t *testing.T) { testPartialRead(t, store) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, store) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, store) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, store) })
}

func testUploadRead(t *testing.T, store objectstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	payloads := map[objectstore.FileID][]byte{
		1: []byte("\x00"),
		2: []byte("hello sorted file"),
		3: bytes.Repeat([]byte{0xab}, 1<<16),
	}
	for id, data := range payloads {
		if err := store.Upload(ctx, id, data); err != nil {
			t.Fatalf("failed to upload %v: %v", id, err)
		}
	}
	for id, data := range payloads {
		got, err := store.Read(ctx, id, 0, -1)
		if err != nil {
			t.Fatalf("failed to read %v: %v", id, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("invalid value for %v: got %d bytes expected %d", id, len(got), len(data))
		}
	}
}

func testPartialRead(t *testing.T, store objectstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	data := []byte("0123456789")
	if err := store.Upload(ctx, 10, data); err != nil {
		t.Fatal(err)
	}

	got, err := store.Read(ctx, 10, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("23456")) {
		t.Fatalf("invalid partial read: %q", got)
	}

	got, err = store.Read(ctx, 10, 7, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("789")) {
		t.Fatalf("invalid tail read: %q", got)
	}

	if _, err := store.Read(ctx, 10, 8, 5); err == nil {
		t.Fatal("expected out of range error")
	}
}

func testMissing(t *testing.T, store objectstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := store.Read(ctx, 424242, 0, -1)
	if !objectstore.ErrNotFound.Has(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testDelete(t *testing.T, store objectstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	if err := store.Upload(ctx, 20, []byte("doomed")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Read(ctx, 20, 0, -1); !objectstore.ErrNotFound.Has(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, 20); !objectstore.ErrNotFound.Has(err) {
		t.Fatalf("expected not found on double delete, got %v", err)
	}
}

func testOverwrite(t *testing.T, store objectstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	if err := store.Upload(ctx, 30, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := store.Upload(ctx, 30, []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Read(ctx, 30, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("two")) {
		t.Fatalf("expected overwritten value, got %q", got)
	}
}
