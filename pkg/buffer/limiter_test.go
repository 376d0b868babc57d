// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/internal/memory"
	"storj.io/lsmstore/pkg/buffer"
)

func TestLimiter(t *testing.T) {
	t.Parallel()

	limiter := buffer.NewLimiter(100)

	first := limiter.TryAcquire(60)
	require.NotNil(t, first)
	require.EqualValues(t, 60, limiter.Usage())

	second := limiter.TryAcquire(50)
	require.Nil(t, second)
	require.EqualValues(t, 60, limiter.Usage())

	third := limiter.TryAcquire(40)
	require.NotNil(t, third)
	require.EqualValues(t, 100, limiter.Usage())

	first.Release()
	require.EqualValues(t, 40, limiter.Usage())

	// double release must not give back bytes twice
	first.Release()
	require.EqualValues(t, 40, limiter.Usage())

	third.Release()
	require.EqualValues(t, 0, limiter.Usage())
}

func TestTracker(t *testing.T) {
	t.Parallel()

	tracker := buffer.NewTracker(100*memory.B, 0.8)
	require.EqualValues(t, 80, tracker.FlushThreshold())
	require.False(t, tracker.NeedMoreFlush())

	res := tracker.Limiter().TryAcquire(90)
	require.NotNil(t, res)
	require.True(t, tracker.NeedMoreFlush())

	// bytes covered by an in-flight upload do not count
	tracker.AddUploading(90)
	require.False(t, tracker.NeedMoreFlush())

	tracker.DoneUploading(90)
	require.True(t, tracker.NeedMoreFlush())

	res.Release()
	require.False(t, tracker.NeedMoreFlush())
}
