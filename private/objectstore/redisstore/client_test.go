// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package redisstore

import (
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/require"

	"storj.io/lsmstore/private/objectstore/testsuite"
)

func TestSuite(t *testing.T) {
	redis, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer redis.Close()

	client, err := OpenClient(redis.Addr(), "", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { require.NoError(t, client.Close()) }()

	testsuite.RunTests(t, client)
}

func TestInvalidConnection(t *testing.T) {
	_, err := OpenClient("", "", 1)
	if err == nil {
		t.Fatal("expected connection error")
	}
}
