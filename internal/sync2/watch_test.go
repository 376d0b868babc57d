// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information

package sync2_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"storj.io/lsmstore/internal/sync2"
)

func TestWatch(t *testing.T) {
	t.Parallel()

	var watch sync2.Watch
	if watch.Value() != 0 {
		t.Fatalf("expected zero, got %d", watch.Value())
	}

	var group errgroup.Group
	for i := 0; i < 10; i++ {
		group.Go(func() error {
			return watch.Wait(context.Background(), 3)
		})
	}

	// wait a bit for the goroutines to block
	time.Sleep(10 * time.Millisecond)

	watch.Set(1)
	watch.Set(3)
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	// values never move backwards
	watch.Set(2)
	if watch.Value() != 3 {
		t.Fatalf("expected 3, got %d", watch.Value())
	}
}

func TestWatch_WaitCanceled(t *testing.T) {
	t.Parallel()

	var watch sync2.Watch
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := watch.Wait(ctx, 1); err != context.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestWatch_Late(t *testing.T) {
	t.Parallel()

	var watch sync2.Watch
	watch.Set(5)

	// a late waiter observes only the latest value
	if err := watch.Wait(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
}
