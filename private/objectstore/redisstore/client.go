// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisstore implements an object store backed by redis, for
// deployments that share a hot file cache between compute nodes.
package redisstore

import (
	"context"

	"github.com/go-redis/redis"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/lsmstore/private/objectstore"
)

var mon = monkit.Package()

// Client is the entrypoint into a redis-backed object store.
type Client struct {
	db *redis.Client
}

// OpenClient connects to the redis instance at address.
func OpenClient(address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	// ping here to verify we are able to connect with the provided info
	if err := client.db.Ping().Err(); err != nil {
		return nil, objectstore.Error.New("cannot connect to %q: %v", address, err)
	}

	return client, nil
}

func idKey(id objectstore.FileID) string { return "sst:" + id.String() }

// Upload stores data under id.
func (client *Client) Upload(ctx context.Context, id objectstore.FileID, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	return objectstore.Error.Wrap(client.db.Set(idKey(id), data, 0).Err())
}

// Read returns a slice of the stored object.
func (client *Client) Read(ctx context.Context, id objectstore.FileID, offset, length int64) (data []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err := client.db.Get(idKey(id)).Bytes()
	if err == redis.Nil {
		return nil, objectstore.ErrNotFound.New("%v", id)
	}
	if err != nil {
		return nil, objectstore.Error.Wrap(err)
	}
	return objectstore.Slice(value, offset, length)
}

// Delete removes the object.
func (client *Client) Delete(ctx context.Context, id objectstore.FileID) (err error) {
	defer mon.Task()(&ctx)(&err)
	removed, err := client.db.Del(idKey(id)).Result()
	if err != nil {
		return objectstore.Error.Wrap(err)
	}
	if removed == 0 {
		return objectstore.ErrNotFound.New("%v", id)
	}
	return nil
}

// Close closes the redis connection.
func (client *Client) Close() error {
	return objectstore.Error.Wrap(client.db.Close())
}
