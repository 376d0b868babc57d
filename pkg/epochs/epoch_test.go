// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package epochs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/pkg/epochs"
)

func TestEpochRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	epoch := epochs.FromTime(now)
	require.Equal(t, now.UnixNano()/int64(time.Millisecond), epoch.UnixMillis())
	require.True(t, now.Equal(epoch.Time()))
}

func TestEpochOrdering(t *testing.T) {
	early := epochs.FromUnixMillis(31_000)
	late := epochs.FromUnixMillis(32_000)
	require.True(t, early < late)

	// epochs within the same millisecond are distinguished by sequence
	require.True(t, early < early+1)
	require.Equal(t, early.UnixMillis(), (early + 1).UnixMillis())
}

func TestEpochSubSeconds(t *testing.T) {
	epoch := epochs.FromUnixMillis(32_000)
	require.Equal(t, epochs.FromUnixMillis(31_000), epoch.SubSeconds(1))
	require.Equal(t, epochs.Invalid, epoch.SubSeconds(32))
	require.Equal(t, epochs.Invalid, epoch.SubSeconds(100))
}
