// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package boltstore implements an object store backed by a bolt database
// file, for single-node deployments and tests.
package boltstore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/lsmstore/private/objectstore"
)

var mon = monkit.Package()

// Client is the entrypoint into a bolt-backed object store.
type Client struct {
	db     *bolt.DB
	Path   string
	Bucket []byte
}

const defaultFileMode = 0600

// New instantiates a new bolt-backed store at the given path.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, defaultFileMode, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, objectstore.Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, objectstore.Error.Wrap(err)
	}

	return &Client{
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
	}, nil
}

func idKey(id objectstore.FileID) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(id))
	return key[:]
}

// Upload stores data under id.
func (client *Client) Upload(ctx context.Context, id objectstore.FileID, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	return objectstore.Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(client.Bucket).Put(idKey(id), data)
	}))
}

// Read returns a slice of the stored object.
func (client *Client) Read(ctx context.Context, id objectstore.FileID, offset, length int64) (data []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	err = client.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(client.Bucket).Get(idKey(id))
		if value == nil {
			return objectstore.ErrNotFound.New("%v", id)
		}
		part, err := objectstore.Slice(value, offset, length)
		if err != nil {
			return err
		}
		// value is only valid inside the transaction
		data = make([]byte, len(part))
		copy(data, part)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the object.
func (client *Client) Delete(ctx context.Context, id objectstore.FileID) (err error) {
	defer mon.Task()(&ctx)(&err)
	return client.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(client.Bucket).Get(idKey(id)) == nil {
			return objectstore.ErrNotFound.New("%v", id)
		}
		return objectstore.Error.Wrap(tx.Bucket(client.Bucket).Delete(idKey(id)))
	})
}

// Close closes the bolt database.
func (client *Client) Close() error {
	return objectstore.Error.Wrap(client.db.Close())
}
