// Copyright 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scalable

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShapes = map[string][]Option{
	"default": nil,
	"tiny": {
		WithMinConcurrency(1),
		WithSplitThreshold(4),
		WithMergeThreshold(4),
		WithDirectorySize(2),
	},
	"no-collapse": {
		WithMinConcurrency(4),
		WithSplitThreshold(3),
		WithMergeThreshold(3),
		WithDirectorySize(16),
		WithCollapse(false),
	},
	"wide": {
		WithMinConcurrency(2),
		WithSplitThreshold(8),
		WithDirectorySize(64),
	},
}

func TestRoundTripMatchesOracle(t *testing.T) {
	for name, opts := range testShapes {
		t.Run(name, func(t *testing.T) {
			runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
				rnd := rand.New(rand.NewSource(1))
				oracle := make(map[int]int)
				keys := rnd.Perm(300)
				for i, k := range keys {
					v := rnd.Int()
					mustRun(t, ctx, c, func(op client.TxnOperator) error {
						old, ok, err := m.Put(ctx, op, MustInline(k), MustInline(v))
						require.NoError(t, err)
						assert.False(t, ok)
						assert.True(t, old.IsNull())
						return nil
					})
					oracle[k] = v
					if i%50 == 0 {
						mustCheckOracle(t, ctx, c, m, oracle)
					}
				}
				mustCheckOracle(t, ctx, c, m, oracle)

				rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
				for i, k := range keys {
					mustRun(t, ctx, c, func(op client.TxnOperator) error {
						old, ok, err := m.Remove(ctx, op, MustInline(k))
						require.NoError(t, err)
						require.True(t, ok)
						var v int
						require.NoError(t, old.Decode(ctx, op, &v))
						assert.Equal(t, oracle[k], v)
						return nil
					})
					delete(oracle, k)
					if i%50 == 0 {
						mustCheckOracle(t, ctx, c, m, oracle)
					}
				}
				mustCheckOracle(t, ctx, c, m, oracle)
				mustRun(t, ctx, c, func(op client.TxnOperator) error {
					empty, err := m.IsEmpty(ctx, op)
					require.NoError(t, err)
					assert.True(t, empty)
					return nil
				})
			}, opts...)
		})
	}
}

func TestRemoveTwice(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			_, _, err := m.Put(ctx, op, MustInline("k"), MustInline("v"))
			return err
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			v, ok, err := m.Remove(ctx, op, MustInline("k"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v.String())

			v, ok, err = m.Remove(ctx, op, MustInline("k"))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.True(t, v.IsNull())

			n, err := m.Len(ctx, op)
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)
			return nil
		})
	})
}

func TestInsertAndRemoveByParity(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		for i := 0; i < 128; i++ {
			mustPut(t, ctx, c, m, i, i)
		}
		assert.Equal(t, int64(128), mustLen(t, ctx, c, m))
		for i := 0; i < 128; i += 2 {
			mustRemove(t, ctx, c, m, i)
		}
		assert.Equal(t, int64(64), mustLen(t, ctx, c, m))
		for i := 1; i < 128; i += 2 {
			mustRemove(t, ctx, c, m, i)
		}
		assert.Equal(t, int64(0), mustLen(t, ctx, c, m))
		mustCheck(t, ctx, c, m)
	})
}

func TestNoFalsePositives(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		for i := 4000; i < 4100; i++ {
			mustPut(t, ctx, c, m, i, i)
		}
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			for i := 0; i < 100; i++ {
				v, ok, err := m.Get(ctx, op, MustInline(i))
				require.NoError(t, err)
				assert.False(t, ok)
				assert.True(t, v.IsNull())
			}
			return nil
		})
	})
}

func TestIntegrityAfterEveryMutation(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		keys := make([]int, 50)
		for i := range keys {
			keys[i] = rnd.Int()
			mustPut(t, ctx, c, m, keys[i], i)
			mustCheck(t, ctx, c, m)
		}
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			for _, k := range keys {
				ok, err := m.ContainsKey(ctx, op, MustInline(k))
				require.NoError(t, err)
				assert.True(t, ok)
			}
			return nil
		})
		for _, k := range keys {
			mustRemove(t, ctx, c, m, k)
			mustCheck(t, ctx, c, m)
		}
	}, WithDirectorySize(16), WithSplitThreshold(4), WithMinConcurrency(1))
}

func TestReplaceValue(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		mustPut(t, ctx, c, m, 1, "a")
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			old, ok, err := m.Put(ctx, op, MustInline(1), MustInline("b"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "a", old.String())

			v, ok, err := m.Get(ctx, op, MustInline(1))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "b", v.String())
			return nil
		})
		assert.Equal(t, int64(1), mustLen(t, ctx, c, m))
	})
}

func TestNullKeyAndValue(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			v, ok, err := m.Get(ctx, op, Null())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.True(t, v.IsNull())

			_, ok, err = m.Put(ctx, op, Null(), Null())
			require.NoError(t, err)
			assert.False(t, ok)

			v, ok, err = m.Get(ctx, op, Null())
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, v.IsNull())

			ok, err = m.ContainsValue(ctx, op, Null())
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = m.ContainsKey(ctx, op, MustInline(0))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		assert.Equal(t, int64(1), mustLen(t, ctx, c, m))
	})
}

func TestContainsValue(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		for i := 0; i < 40; i++ {
			mustPut(t, ctx, c, m, i, i*10)
		}
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			ok, err := m.ContainsValue(ctx, op, MustInline(390))
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = m.ContainsValue(ctx, op, MustInline(391))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
	}, WithSplitThreshold(4))
}

func TestRefKeysMatchByIdentity(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		var key, same Value
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			var err error
			key, err = CreateObject(ctx, op, map[string]any{"name": "a", "id": 1})
			require.NoError(t, err)
			same, err = CreateObject(ctx, op, map[string]any{"id": 1, "name": "a"})
			require.NoError(t, err)
			_, _, err = m.Put(ctx, op, key, MustInline(1))
			return err
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			v, ok, err := m.Get(ctx, op, Ref(key.RefID()))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "1", v.String())

			// equal content is a different key
			_, ok, err = m.Get(ctx, op, same)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = m.Get(ctx, op, MustInline(map[string]any{"id": 1, "name": "a"}))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
	})
}

func TestDeadKeyIsNotAMatch(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		var key Value
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			var err error
			key, err = CreateObject(ctx, op, "dead")
			require.NoError(t, err)
			_, _, err = m.Put(ctx, op, key, MustInline(1))
			return err
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			return DeleteObject(ctx, op, key)
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			_, ok, err := m.Get(ctx, op, MustInline("dead"))
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = m.Put(ctx, op, MustInline("dead"), MustInline(2))
			require.NoError(t, err)
			assert.False(t, ok)

			// the dead key is still found by its id
			ok, err = m.ContainsKey(ctx, op, key)
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		})
		// the dead entry still counts until removed
		assert.Equal(t, int64(2), mustLen(t, ctx, c, m))
		mustCheck(t, ctx, c, m)
	})
}

func TestRemoveDeadKey(t *testing.T) {
	for name, opts := range testShapes {
		t.Run(name, func(t *testing.T) {
			runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
				keys := make([]Value, 0, 40)
				mustRun(t, ctx, c, func(op client.TxnOperator) error {
					for i := 0; i < 40; i++ {
						key, err := CreateObject(ctx, op, i)
						require.NoError(t, err)
						keys = append(keys, key)
						_, _, err = m.Put(ctx, op, key, MustInline(i))
						require.NoError(t, err)
					}
					return nil
				})
				mustRun(t, ctx, c, func(op client.TxnOperator) error {
					for _, key := range keys {
						require.NoError(t, DeleteObject(ctx, op, key))
					}
					return nil
				})
				for i, key := range keys {
					mustRun(t, ctx, c, func(op client.TxnOperator) error {
						v, ok, err := m.Remove(ctx, op, key)
						require.NoError(t, err)
						assert.True(t, ok)
						assert.Equal(t, MustInline(i).String(), v.String())

						_, ok, err = m.Remove(ctx, op, key)
						require.NoError(t, err)
						assert.False(t, ok)
						return nil
					})
					assert.Equal(t, int64(len(keys)-i-1), mustLen(t, ctx, c, m))
				}
				mustCheck(t, ctx, c, m)
			}, opts...)
		})
	}
}

func TestDeadValueIsReported(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		var value Value
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			var err error
			value, err = CreateObject(ctx, op, []int{1, 2, 3})
			require.NoError(t, err)
			_, _, err = m.Put(ctx, op, MustInline("k"), value)
			return err
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			v, ok, err := m.Get(ctx, op, MustInline("k"))
			require.NoError(t, err)
			require.True(t, ok)
			var x []int
			require.NoError(t, v.Decode(ctx, op, &x))
			assert.Equal(t, []int{1, 2, 3}, x)
			return DeleteObject(ctx, op, value)
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			_, _, err := m.Get(ctx, op, MustInline("k"))
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrReferentNotFound))
			_, _, err = m.Put(ctx, op, MustInline("k"), MustInline(1))
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrReferentNotFound))
			_, _, err = m.Remove(ctx, op, MustInline("k"))
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrReferentNotFound))

			ok, err := m.ContainsKey(ctx, op, MustInline("k"))
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		})

		// PutAll does not need the old value
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			src := NewPlain()
			_, _, err := src.Put(ctx, op, MustInline("k"), MustInline("fresh"))
			require.NoError(t, err)
			return m.PutAll(ctx, op, src)
		})
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			v, ok, err := m.Get(ctx, op, MustInline("k"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "fresh", v.String())
			return nil
		})
	})
}

func TestInvalidArguments(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		_, err := Inline(make(chan int))
		assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
		_, err = Inline(func() {})
		assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))

		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			_, _, err := m.Put(ctx, op, Ref(objstore.NilID), MustInline(1))
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
			_, _, err = m.Put(ctx, op, MustInline(1), Ref(objstore.NilID))
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
			return nil
		})
		assert.Equal(t, int64(0), mustLen(t, ctx, c, m))
	})
}

func TestNewWithInvalidOptions(t *testing.T) {
	ctx := context.Background()
	c := client.NewTxnClient(objstore.NewMemEngine())
	defer func() {
		assert.NoError(t, c.Close())
	}()

	cases := [][]Option{
		{WithMinConcurrency(0)},
		{WithMinConcurrency(-1)},
		{WithSplitThreshold(0)},
		{WithSplitThreshold(-5)},
		{WithDirectorySize(-3)},
		{WithDirectorySize(0)},
		{WithSplitThreshold(10), WithMergeThreshold(11)},
		{WithMergeThreshold(-1)},
	}
	for _, opts := range cases {
		err := c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			_, err := New(ctx, op, opts...)
			return err
		})
		assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
	}
	n, err := c.Engine().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestShape(t *testing.T) {
	assert.Equal(t, 0, minDepthFor(1))
	assert.Equal(t, 1, minDepthFor(2))
	assert.Equal(t, 5, minDepthFor(32))
	assert.Equal(t, 6, minDepthFor(33))

	assert.Equal(t, 1, directoryBitsFor(1))
	assert.Equal(t, 1, directoryBitsFor(2))
	assert.Equal(t, 2, directoryBitsFor(3))
	assert.Equal(t, 5, directoryBitsFor(32))
	assert.Equal(t, 6, directoryBitsFor(33))

	h, err := newOptions().shape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, h.MinDepth)
	assert.Equal(t, 98, h.SplitThreshold)
	assert.Equal(t, 32, h.MergeThreshold)
	assert.Equal(t, 5, h.DirectoryBits)
	assert.True(t, h.Collapse)
	assert.Equal(t, 60, h.maxLeafDepth())
}

func TestMinimalTreeRecords(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		opts    []Option
		records int
	}{
		// handle, size counter and a single root leaf
		{opts: []Option{WithMinConcurrency(1)}, records: 3},
		// one directory over 32 leaves
		{opts: nil, records: 2 + 1 + 32},
		// 4 leaves aliased by a directory of 16 slots
		{opts: []Option{WithMinConcurrency(4), WithDirectorySize(16)}, records: 2 + 1 + 4},
		// two levels of binary directories over 8 leaves
		{opts: []Option{WithMinConcurrency(8), WithDirectorySize(2)}, records: 2 + 7 + 8},
	}
	for _, tc := range cases {
		e := objstore.NewMemEngine()
		c := client.NewTxnClient(e)
		var m *Map
		require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			var err error
			m, err = New(ctx, op, tc.opts...)
			return err
		}))
		n, err := e.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.records, n)
		mustCheck(t, ctx, c, m)
		require.NoError(t, c.Close())
	}
}

func TestSplitAndMergeChangeTheTree(t *testing.T) {
	for _, collapse := range []bool{true, false} {
		e := objstore.NewMemEngine()
		c := client.NewTxnClient(e)
		ctx := context.Background()
		var m *Map
		require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			var err error
			m, err = New(ctx, op,
				WithMinConcurrency(1),
				WithSplitThreshold(2),
				WithMergeThreshold(2),
				WithDirectorySize(4),
				WithCollapse(collapse))
			return err
		}))
		base, err := e.Count(ctx)
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			mustPut(t, ctx, c, m, i, i)
		}
		mustCheck(t, ctx, c, m)
		peak, err := e.Count(ctx)
		require.NoError(t, err)
		assert.Greater(t, peak, base+100/2)

		for i := 0; i < 100; i++ {
			mustRemove(t, ctx, c, m, i)
			if i%10 == 0 {
				mustCheck(t, ctx, c, m)
			}
		}
		mustCheck(t, ctx, c, m)
		after, err := e.Count(ctx)
		require.NoError(t, err)
		assert.Less(t, after, peak)
		require.NoError(t, c.Close())
	}
}

func TestConcurrentPuts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.NewTxnClient(objstore.NewMemEngine(), client.WithMaxRetries(10000))
	defer func() {
		assert.NoError(t, c.Close())
	}()
	var m *Map
	require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var err error
		m, err = New(ctx, op, WithSplitThreshold(8), WithMinConcurrency(4))
		return err
	}))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				k := w*1000 + i
				err := c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
					_, _, err := m.Put(ctx, op, MustInline(k), MustInline(w))
					return err
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int64(400), mustLen(t, ctx, c, m))
	mustCheck(t, ctx, c, m)
}

func TestWorkBudgetBoundsPointOperations(t *testing.T) {
	ctx := context.Background()
	c := client.NewTxnClient(objstore.NewMemEngine())
	defer func() {
		assert.NoError(t, c.Close())
	}()
	var m *Map
	require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var err error
		m, err = New(ctx, op, WithSplitThreshold(4))
		return err
	}))
	for i := 0; i < 500; i++ {
		mustPut(t, ctx, c, m, i, i)
	}
	// handle, counter, directories, leaves, neighbors: far below the map size
	for i := 500; i < 600; i++ {
		require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			_, _, err := m.Put(ctx, op, MustInline(i), MustInline(i))
			return err
		}, client.WithTxnWorkBudget(16)))
	}
	assert.Equal(t, int64(600), mustLen(t, ctx, c, m))
}

func TestOpenReadsGeometryFromHandle(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		for i := 0; i < 20; i++ {
			mustPut(t, ctx, c, m, i, i)
		}
		// options of Open never change the stored shape
		other := Open(m.ID(), WithSplitThreshold(1000), WithDirectorySize(2))
		assert.Equal(t, int64(20), mustLen(t, ctx, c, other))
		mustCheck(t, ctx, c, other)
	}, WithSplitThreshold(3), WithDirectorySize(8))
}

func runMapTest(t *testing.T, fn func(ctx context.Context, c client.TxnClient, m *Map), opts ...Option) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c := client.NewTxnClient(objstore.NewMemEngine())
	defer func() {
		assert.NoError(t, c.Close())
	}()
	var m *Map
	require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var err error
		m, err = New(ctx, op, opts...)
		return err
	}))
	fn(ctx, c, m)
}

func mustRun(t *testing.T, ctx context.Context, c client.TxnClient, fn func(op client.TxnOperator) error) {
	require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		return fn(op)
	}))
}

func mustPut(t *testing.T, ctx context.Context, c client.TxnClient, m *Map, k, v any) {
	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		_, _, err := m.Put(ctx, op, MustInline(k), MustInline(v))
		return err
	})
}

func mustRemove(t *testing.T, ctx context.Context, c client.TxnClient, m *Map, k any) {
	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		_, ok, err := m.Remove(ctx, op, MustInline(k))
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
}

func mustLen(t *testing.T, ctx context.Context, c client.TxnClient, m *Map) int64 {
	var n int64
	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		var err error
		n, err = m.Len(ctx, op)
		return err
	})
	return n
}

func mustCheck(t *testing.T, ctx context.Context, c client.TxnClient, m *Map) {
	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		return m.Check(ctx, op)
	})
}

func mustCheckOracle(t *testing.T, ctx context.Context, c client.TxnClient, m *Map, oracle map[int]int) {
	mustCheck(t, ctx, c, m)
	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		n, err := m.Len(ctx, op)
		require.NoError(t, err)
		require.Equal(t, int64(len(oracle)), n)
		for k, want := range oracle {
			v, ok, err := m.Get(ctx, op, MustInline(k))
			require.NoError(t, err)
			require.True(t, ok)
			var got int
			require.NoError(t, v.Decode(ctx, op, &got))
			require.Equal(t, want, got)
		}
		return nil
	})
}
