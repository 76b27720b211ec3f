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

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/taskservice"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	v2 "github.com/matrixorigin/scalable/pkg/util/metric/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ClearTaskCode is the task code of clear continuations.
const ClearTaskCode uint32 = 1001

// clearBatchSize max nodes reclaimed by one continuation step.
var clearBatchSize = 64

// clearPayload is the serialized state of a clear continuation. Directories
// are reclaimed from an explicit stack, leaves through the old chain.
type clearPayload struct {
	MapID objstore.ID   `msgpack:"map"`
	Dirs  []objstore.ID `msgpack:"dirs,omitempty"`
	Leaf  objstore.ID   `msgpack:"leaf,omitempty"`
}

func (p *clearPayload) done() bool {
	return len(p.Dirs) == 0 && p.Leaf.IsNil()
}

// reclaim submits a continuation reclaiming the tree under root after the
// current transaction commits.
func (m *Map) reclaim(s *session, root objstore.ID) error {
	n, err := readNode(s.ctx, s.op, root)
	if err != nil {
		return err
	}
	p := clearPayload{MapID: m.id}
	if n.Leaf {
		p.Leaf = root
	} else {
		p.Dirs = []objstore.ID{root}
		if p.Leaf, err = s.firstLeaf(root); err != nil {
			return err
		}
	}
	payload, err := msgpack.Marshal(&p)
	if err != nil {
		return err
	}

	scheduler, logger := m.scheduler, m.logger
	s.op.AppendEventCallback(client.CommitEvent, func(meta client.TxnMeta) {
		id, err := scheduler.Submit(context.Background(), ClearTaskCode, payload)
		if err != nil {
			logger.Error("failed to submit clear task",
				zap.String("txn", meta.ID),
				zap.Error(err))
			return
		}
		logger.Debug("clear task submitted",
			zap.String("txn", meta.ID),
			zap.String("task", id))
	})
	v2.CollectionClearCounter.Inc()
	return nil
}

// ExecutorOption option of the clear executor
type ExecutorOption func(*clearExecutor)

// WithClearDone set the callback fired after the last step of a clear
// continuation committed.
func WithClearDone(fn func(mapID objstore.ID)) ExecutorOption {
	return func(e *clearExecutor) {
		e.done = fn
	}
}

// WithExecutorLogger set the logger of the clear executor
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *clearExecutor) {
		e.logger = logger
	}
}

type clearExecutor struct {
	logger *zap.Logger
	done   func(objstore.ID)
}

// RegisterExecutors installs the executors of the map continuations.
func RegisterExecutors(runner taskservice.TaskRunner, opts ...ExecutorOption) {
	e := &clearExecutor{}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logutil.Adjust(e.logger).Named("scalable-clear")
	runner.RegisterExecutor(ClearTaskCode, e.execute)
}

func (e *clearExecutor) execute(ctx context.Context, op client.TxnOperator, task taskservice.Task) ([]byte, error) {
	var p clearPayload
	if err := msgpack.Unmarshal(task.Payload, &p); err != nil {
		return nil, moerr.NewInvalidTask(ctx, "clear", task.ID)
	}

	leaves, dirs := 0, 0
	budget := clearBatchSize
	for budget > 0 && len(p.Dirs) > 0 {
		id := p.Dirs[len(p.Dirs)-1]
		p.Dirs = p.Dirs[:len(p.Dirs)-1]
		n, err := readNodeIfLive(ctx, op, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		for _, slot := range n.Slots {
			if slot.Dir {
				p.Dirs = append(p.Dirs, slot.ID)
			}
		}
		if err := op.Delete(ctx, id); err != nil {
			return nil, err
		}
		dirs++
		budget--
	}
	for budget > 0 && !p.Leaf.IsNil() {
		n, err := readNodeIfLive(ctx, op, p.Leaf)
		if err != nil {
			return nil, err
		}
		if n == nil {
			p.Leaf = objstore.NilID
			break
		}
		if err := op.Delete(ctx, p.Leaf); err != nil {
			return nil, err
		}
		p.Leaf = n.Next
		leaves++
		budget--
	}

	op.AppendEventCallback(client.CommitEvent, func(client.TxnMeta) {
		v2.CollectionReclaimLeafCounter.Add(float64(leaves))
		v2.CollectionReclaimDirectoryCounter.Add(float64(dirs))
	})
	if !p.done() {
		return msgpack.Marshal(&p)
	}

	e.logger.Debug("clear finished",
		zap.Uint64("map", uint64(p.MapID)),
		zap.String("task", task.ID),
		zap.Int("steps", task.Step+1))
	if e.done != nil {
		mapID := p.MapID
		op.AppendEventCallback(client.CommitEvent, func(client.TxnMeta) {
			e.done(mapID)
		})
	}
	return nil, nil
}
