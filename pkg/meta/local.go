// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package meta

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storj.io/lsmstore/pkg/epochs"
	"storj.io/lsmstore/pkg/sstable"
	"storj.io/lsmstore/pkg/version"
	"storj.io/lsmstore/private/objectstore"
)

// LocalClient is an in-process metadata service for tests and
// single-node deployments. It owns the committed version, assigns file
// ids and broadcasts version payloads to subscribers.
type LocalClient struct {
	log *zap.Logger

	mu          sync.Mutex
	current     *version.Version
	nextFileID  objectstore.FileID
	unpinBefore uint64
	subscribers []chan version.Payload
}

// NewLocalClient creates a local metadata service starting at the empty
// version.
func NewLocalClient(log *zap.Logger) *LocalClient {
	return &LocalClient{
		log:        log,
		current:    version.Empty(),
		nextFileID: 1,
	}
}

// PinVersion returns the current committed version.
func (client *LocalClient) PinVersion(ctx context.Context) (*version.Version, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.current.Clone(), nil
}

// UnpinVersionBefore records that versions before id are unused.
func (client *LocalClient) UnpinVersionBefore(ctx context.Context, id uint64) error {
	client.mu.Lock()
	defer client.mu.Unlock()
	if id > client.unpinBefore {
		client.unpinBefore = id
	}
	return nil
}

// ReportCompactionTask acknowledges a compaction task.
func (client *LocalClient) ReportCompactionTask(ctx context.Context, taskID uint64, success bool) error {
	client.log.Debug("compaction task reported",
		zap.Uint64("task id", taskID), zap.Bool("success", success))
	return nil
}

// AllocateFileIDs reserves count consecutive file ids.
func (client *LocalClient) AllocateFileIDs(ctx context.Context, count int) (objectstore.FileID, error) {
	if count <= 0 {
		return 0, Error.New("invalid batch size %d", count)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	first := client.nextFileID
	client.nextFileID += objectstore.FileID(count)
	return first, nil
}

// CommitEpoch accepts the files of a synced epoch into a new committed
// version and broadcasts the delta. Committing at or below the current
// committed epoch is rejected.
func (client *LocalClient) CommitEpoch(ctx context.Context, epoch epochs.Epoch, files map[version.GroupID][]sstable.Info) (*version.Delta, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if epoch <= client.current.MaxCommittedEpoch {
		return nil, Error.New("epoch %d already committed, at %d", epoch, client.current.MaxCommittedEpoch)
	}

	delta := &version.Delta{
		PrevID:            client.current.ID,
		NewID:             client.current.ID + 1,
		MaxCommittedEpoch: epoch,
		Groups:            map[version.GroupID]version.GroupDelta{},
	}
	for group, infos := range files {
		delta.Groups[group] = version.GroupDelta{AddedFiles: infos}
	}
	client.current = client.current.Apply(delta)

	payload := version.Payload{Deltas: []*version.Delta{delta}}
	for _, sub := range client.subscribers {
		select {
		case sub <- payload:
		default:
			client.log.Warn("version subscriber lagging, dropping delta")
		}
	}
	return delta, nil
}

// Subscribe returns a channel of version payloads produced by commits.
func (client *LocalClient) Subscribe() <-chan version.Payload {
	client.mu.Lock()
	defer client.mu.Unlock()
	sub := make(chan version.Payload, 64)
	client.subscribers = append(client.subscribers, sub)
	return sub
}

// UnpinnedBefore returns the version id recorded by UnpinVersionBefore.
func (client *LocalClient) UnpinnedBefore() uint64 {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.unpinBefore
}
