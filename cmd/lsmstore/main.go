// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storj.io/lsmstore/pkg/meta"
	"storj.io/lsmstore/pkg/process"
	"storj.io/lsmstore/pkg/store"
	"storj.io/lsmstore/private/objectstore"
	"storj.io/lsmstore/private/objectstore/boltstore"
	"storj.io/lsmstore/private/objectstore/redisstore"
	"storj.io/lsmstore/private/objectstore/teststore"
)

var (
	rootCmd = &cobra.Command{
		Use:   "lsmstore",
		Short: "Shared-buffer node of the LSM state store",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the shared buffer event handler",
		RunE:  cmdRun,
	}

	runCfg struct {
		Store   store.Options
		Objects string `help:"object store url: mem:, bolt://<path> or redis://<addr>/<db>" default:"bolt://lsmstore.db"`
		Debug   bool   `help:"enable debug logging" default:"false"`
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
	process.Bind(runCmd, &runCfg)
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := process.NewLogger(runCfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := process.Ctx(cmd)
	defer cancel()

	objects, err := openObjectStore(runCfg.Objects)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := objects.Close(); closeErr != nil {
			log.Error("closing object store failed", zap.Error(closeErr))
		}
	}()

	metaClient := meta.NewLocalClient(log.Named("meta"))
	initial, err := metaClient.PinVersion(ctx)
	if err != nil {
		return err
	}

	handler := store.New(log.Named("store"), runCfg.Store, objects, metaClient, initial)

	// committed versions flow back into the event loop
	updates := metaClient.Subscribe()
	go func() {
		for {
			select {
			case payload := <-updates:
				if err := handler.Send(store.VersionUpdate{Payload: payload}); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		handler.Shutdown()
	}()

	log.Info("shared buffer running", zap.String("objects", runCfg.Objects))
	return handler.Run(context.Background())
}

func openObjectStore(url string) (objectstore.Store, error) {
	switch {
	case url == "mem:" || url == "memory":
		return teststore.New(), nil
	case strings.HasPrefix(url, "bolt://"):
		return boltstore.New(strings.TrimPrefix(url, "bolt://"), "sstables")
	case strings.HasPrefix(url, "redis://"):
		rest := strings.TrimPrefix(url, "redis://")
		addr, dbname := rest, "0"
		if i := strings.LastIndex(rest, "/"); i >= 0 {
			addr, dbname = rest[:i], rest[i+1:]
		}
		db, err := strconv.Atoi(dbname)
		if err != nil {
			return nil, objectstore.Error.New("invalid redis db %q", dbname)
		}
		return redisstore.OpenClient(addr, "", db)
	default:
		return nil, objectstore.Error.New("unsupported object store url %q", url)
	}
}

func main() {
	process.Exec(rootCmd)
}
