package dedup

import (
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/vramfs/zram/common/digest"
	"github.com/vramfs/zram/pool"
)

var checksumBucket = []byte("checksum")

// boltIndex is an Index that mirrors its checksums into a bbolt database, for a
// long-lived device that wants the dedup table to survive a process restart even
// though the pages themselves never do (the pool is pure memory). Entry objects still
// live only in the in-memory map; the database holds just the checksum→length mapping,
// enough to let a restarted process discover which checksums were previously
// deduplicated, it does not by itself make the pages durable.
type boltIndex struct {
	mu  sync.Mutex
	db  *bbolt.DB
	mem map[digest.Digest]*pool.Entry
}

// OpenBolt opens (creating if necessary) a bbolt-backed dedup index at path.
func OpenBolt(path string) (Index, error) {
	db, err := bbolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("dedup: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checksumBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup: init buckets: %w", err)
	}
	return &boltIndex{db: db, mem: make(map[digest.Digest]*pool.Entry)}, nil
}

func (x *boltIndex) Close() error {
	return x.db.Close()
}

func (x *boltIndex) Find(d digest.Digest) *pool.Entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.mem[d]
}

func (x *boltIndex) Insert(e *pool.Entry) {
	x.mu.Lock()
	x.mem[e.Checksum] = e
	x.mu.Unlock()

	_ = x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checksumBucket).Put(e.Checksum[:], []byte(fmt.Sprintf("%d", e.Len)))
	})
}

func (x *boltIndex) Remove(d digest.Digest, e *pool.Entry) {
	x.mu.Lock()
	if cur, ok := x.mem[d]; ok && cur == e {
		delete(x.mem, d)
	} else {
		x.mu.Unlock()
		return
	}
	x.mu.Unlock()

	_ = x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checksumBucket).Delete(d[:])
	})
}
