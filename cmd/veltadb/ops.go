package main

import (
	"fmt"

	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/commitlog"
	"github.com/cuemby/veltadb/pkg/config"
	"github.com/cuemby/veltadb/pkg/datastore"
	"github.com/cuemby/veltadb/pkg/snapshot"
)

func openDatastore(cfg config.Config) (*datastore.Datastore, error) {
	return datastore.Open(cfg, nil)
}

func verifySnapshot(dir string) error {
	return snapshot.Verify(dir)
}

func syncSnapshot(dstRoot, srcDir string) (string, error) {
	return snapshot.Sync(dstRoot, srcDir)
}

func latestSnapshot(root string) (string, uint64, error) {
	dir, manifest, err := snapshot.Latest(root)
	if err != nil {
		return "", 0, err
	}
	return dir, manifest.TxOffset, nil
}

func listCatalogTables(cfg config.Config) ([]*catalog.TableSchema, error) {
	store, err := catalog.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.ListTables()
}

func dumpCommitLog(cfg config.Config, fromOffset uint64) error {
	reader := commitlog.OpenReader(cfg.CommitLogDir())
	it, err := reader.TransactionsFrom(fromOffset)
	if err != nil {
		return fmt.Errorf("open commit log: %w", err)
	}
	count := 0
	for {
		commit, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("read commit log: %w", err)
		}
		if !ok {
			break
		}
		fmt.Printf("offset=%d bytes=%d\n", commit.Offset, len(commit.Payload))
		count++
	}
	fmt.Printf("%d commit(s)\n", count)
	return nil
}
