package dedup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/vramfs/zram/common/digest"
	"github.com/vramfs/zram/pool"
)

func TestBoltIndexPersistsRegistration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")
	idx, err := OpenBolt(path)
	require.NoError(t, err)
	defer idx.Close()

	d := digest.Of([]byte("payload"))
	e := pool.NewDedupEntry(pool.Handle{}, 7, d)
	idx.Insert(e)
	require.Same(t, e, idx.Find(d))
	require.Equal(t, "7", string(storedLen(t, idx, d)))

	idx.Remove(d, e)
	require.Nil(t, idx.Find(d))
	require.Empty(t, storedLen(t, idx, d))
}

// storedLen returns the value the bbolt bucket holds for checksum d, or nil if none.
func storedLen(t *testing.T, idx Index, d digest.Digest) []byte {
	var v []byte
	require.NoError(t, idx.(*boltIndex).db.View(func(tx *bbolt.Tx) error {
		v = append([]byte(nil), tx.Bucket(checksumBucket).Get(d[:])...)
		return nil
	}))
	return v
}
