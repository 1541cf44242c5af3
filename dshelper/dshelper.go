// Package dshelper builds the transactional datastores used by the daemons.
package dshelper

import (
	"fmt"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/textileio/auctionhouse/dshelper/txndswrap"
)

// NewLevelDBTxnDatastore opens or creates a LevelDB datastore at path.
func NewLevelDBTxnDatastore(path string) (ds.TxnDatastore, error) {
	store, err := leveldb.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb datastore at %s: %s", path, err)
	}
	return store, nil
}

// NewInMemoryTxnDatastore returns a transactional in-memory datastore.
func NewInMemoryTxnDatastore() ds.TxnDatastore {
	return txndswrap.Wrap(dssync.MutexWrap(ds.NewMapDatastore()))
}
