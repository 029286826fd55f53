package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vramfs/zram/common/digest"
	"github.com/vramfs/zram/pool"
)

func TestMapIndexFindInsertRemove(t *testing.T) {
	idx := New()
	d := digest.Of([]byte("payload"))
	require.Nil(t, idx.Find(d))

	e := pool.NewDedupEntry(pool.Handle{}, 7, d)
	idx.Insert(e)
	require.Same(t, e, idx.Find(d))

	idx.Remove(d, e)
	require.Nil(t, idx.Find(d))
}

func TestRemoveIgnoresStaleEntry(t *testing.T) {
	idx := New()
	d := digest.Of([]byte("payload"))
	e1 := pool.NewDedupEntry(pool.Handle{}, 7, d)
	e2 := pool.NewDedupEntry(pool.Handle{}, 7, d)
	idx.Insert(e1)
	idx.Insert(e2) // e2 now registered for d

	idx.Remove(d, e1) // stale: shouldn't remove e2's registration
	require.Same(t, e2, idx.Find(d))
}

func TestDisabledIndexNeverMatches(t *testing.T) {
	idx := Disabled()
	d := digest.Of([]byte("payload"))
	e := pool.NewDedupEntry(pool.Handle{}, 7, d)
	idx.Insert(e)
	require.Nil(t, idx.Find(d))
}
