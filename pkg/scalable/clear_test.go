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
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/taskservice"
	mock_taskservice "github.com/matrixorigin/scalable/pkg/taskservice/test"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestClearReclaimsEveryRecord(t *testing.T) {
	stubs := gostub.Stub(&clearBatchSize, 8)
	defer stubs.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	e := objstore.NewMemEngine()
	c := client.NewTxnClient(e)
	defer func() {
		assert.NoError(t, c.Close())
	}()
	runner := taskservice.NewTaskRunner("clear-test", c)
	cleared := make(chan objstore.ID, 1)
	RegisterExecutors(runner, WithClearDone(func(id objstore.ID) {
		cleared <- id
	}))
	require.NoError(t, runner.Start())
	defer func() {
		require.NoError(t, runner.Stop())
	}()

	var m *Map
	require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var err error
		m, err = New(ctx, op, WithScheduler(runner), WithSplitThreshold(16))
		return err
	}))
	baseline, err := e.Count(ctx)
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for batch := 0; batch < 8; batch++ {
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			for i := 0; i < 128; i++ {
				if _, _, err := m.Put(ctx, op, MustInline(rnd.Int63()), MustInline(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	populated, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Greater(t, populated, baseline)

	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		return m.Clear(ctx, op)
	})
	assert.Equal(t, int64(0), mustLen(t, ctx, c, m))
	mustCheck(t, ctx, c, m)

	select {
	case id := <-cleared:
		assert.Equal(t, m.ID(), id)
	case <-ctx.Done():
		require.Fail(t, "clear not finished")
	}
	require.NoError(t, runner.WaitIdle(ctx))
	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, baseline, n)

	// the map is usable right away
	mustPut(t, ctx, c, m, 1, 1)
	assert.Equal(t, int64(1), mustLen(t, ctx, c, m))
}

func TestClearSubmitsAfterCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var payload []byte
	scheduler := mock_taskservice.NewMockScheduler(ctrl)
	scheduler.EXPECT().Submit(gomock.Any(), ClearTaskCode, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uint32, p []byte) (string, error) {
			payload = p
			return "t1", nil
		}).Times(1)

	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		for i := 0; i < 10; i++ {
			mustPut(t, ctx, c, m, i, i)
		}

		// rolled back clear submits nothing and changes nothing
		err := c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			require.NoError(t, m.Clear(ctx, op))
			return moerr.NewInternalError(ctx, "abort")
		})
		require.Error(t, err)
		assert.Nil(t, payload)
		assert.Equal(t, int64(10), mustLen(t, ctx, c, m))

		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			return m.Clear(ctx, op)
		})
		require.NotNil(t, payload)
		var p clearPayload
		require.NoError(t, msgpack.Unmarshal(payload, &p))
		assert.Equal(t, m.ID(), p.MapID)
		assert.Len(t, p.Dirs, 1)
		assert.False(t, p.Leaf.IsNil())
		assert.Equal(t, int64(0), mustLen(t, ctx, c, m))
	}, WithScheduler(scheduler))
}

func TestClearWithoutScheduler(t *testing.T) {
	runMapTest(t, func(ctx context.Context, c client.TxnClient, m *Map) {
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			err := m.Clear(ctx, op)
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
			err = m.Destroy(ctx, op)
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
			return nil
		})
	})
}

func TestClearStepsAreBounded(t *testing.T) {
	stubs := gostub.Stub(&clearBatchSize, 4)
	defer stubs.Reset()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var payload []byte
	scheduler := mock_taskservice.NewMockScheduler(ctrl)
	scheduler.EXPECT().Submit(gomock.Any(), ClearTaskCode, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uint32, p []byte) (string, error) {
			payload = p
			return "t1", nil
		}).Times(1)

	var done []objstore.ID
	runner := mock_taskservice.NewMockTaskRunner(ctrl)
	var execute taskservice.TaskExecutor
	runner.EXPECT().RegisterExecutor(ClearTaskCode, gomock.Any()).
		Do(func(_ uint32, fn taskservice.TaskExecutor) {
			execute = fn
		}).Times(1)
	RegisterExecutors(runner, WithClearDone(func(id objstore.ID) {
		done = append(done, id)
	}))
	require.NotNil(t, execute)

	e := objstore.NewMemEngine()
	runMapTestOn(t, e, func(ctx context.Context, c client.TxnClient, m *Map) {
		baseline, err := e.Count(ctx)
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			mustPut(t, ctx, c, m, i, i)
		}
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			return m.Clear(ctx, op)
		})

		steps := 0
		for payload != nil {
			task := taskservice.Task{ID: "t1", Code: ClearTaskCode, Payload: payload, Step: steps}
			mustRun(t, ctx, c, func(op client.TxnOperator) error {
				next, err := execute(ctx, op, task)
				payload = next
				return err
			})
			steps++
			if payload != nil {
				assert.Empty(t, done)
			}
		}
		assert.Greater(t, steps, 5)
		assert.Equal(t, []objstore.ID{m.ID()}, done)

		n, err := e.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, baseline, n)
	}, WithScheduler(scheduler), WithSplitThreshold(4), WithDirectorySize(4), WithMinConcurrency(4))
}

func TestClearTaskWithBadPayload(t *testing.T) {
	ctx := context.Background()
	c := client.NewTxnClient(objstore.NewMemEngine())
	defer func() {
		assert.NoError(t, c.Close())
	}()
	e := &clearExecutor{}
	err := c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		_, err := e.execute(ctx, op, taskservice.Task{ID: "t1", Payload: []byte{0xc1}})
		return err
	})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidTask))
}

func TestDestroyReclaimsEverything(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	e := objstore.NewMemEngine()
	c := client.NewTxnClient(e)
	defer func() {
		assert.NoError(t, c.Close())
	}()
	runner := taskservice.NewTaskRunner("destroy-test", c)
	RegisterExecutors(runner)
	require.NoError(t, runner.Start())
	defer func() {
		require.NoError(t, runner.Stop())
	}()

	s := mustNewSet(t, ctx, c, WithScheduler(runner), WithSplitThreshold(4))
	for i := 0; i < 200; i++ {
		mustRun(t, ctx, c, func(op client.TxnOperator) error {
			_, err := s.Add(ctx, op, MustInline(i))
			return err
		})
	}
	mustRun(t, ctx, c, func(op client.TxnOperator) error {
		return s.Destroy(ctx, op)
	})
	require.NoError(t, runner.WaitIdle(ctx))
	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func runMapTestOn(t *testing.T, e objstore.Engine, fn func(ctx context.Context, c client.TxnClient, m *Map), opts ...Option) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c := client.NewTxnClient(e)
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

func mustNewSet(t *testing.T, ctx context.Context, c client.TxnClient, opts ...Option) *Set {
	var s *Set
	require.NoError(t, c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var err error
		s, err = NewSet(ctx, op, opts...)
		return err
	}))
	return s
}
