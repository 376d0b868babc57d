// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package conflict_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/pkg/conflict"
)

func TestDetector(t *testing.T) {
	t.Parallel()

	detector := conflict.New(true)
	require.NoError(t, detector.Check(1))

	detector.SetWatermark(3)
	require.Error(t, detector.Check(3))
	require.Error(t, detector.Check(2))
	require.NoError(t, detector.Check(4))

	// the watermark never moves backwards
	detector.SetWatermark(1)
	require.Error(t, detector.Check(3))
}

func TestDetectorDisabled(t *testing.T) {
	t.Parallel()

	detector := conflict.New(false)
	require.Nil(t, detector)
	require.NoError(t, detector.Check(0))
	detector.SetWatermark(10)
	require.NoError(t, detector.Check(0))
}
