// Copyright 2022 Matrix Origin
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

package taskservice

import (
	"context"
	"time"

	"github.com/matrixorigin/scalable/pkg/txn/client"
)

// Task is one unit of asynchronous work. A task runs as a sequence of steps,
// each step in its own transaction. Payload is the serialized state of the
// next step.
type Task struct {
	ID       string
	Code     uint32
	Payload  []byte
	Step     int
	CreateAt time.Time
}

// TaskExecutor executes one step of a task inside op. It returns the payload
// of the next step, or nil when the task is finished. The runner commits op
// and submits the next step only after the commit succeeded, so a step that
// fails or conflicts is retried from the same payload.
type TaskExecutor func(ctx context.Context, op client.TxnOperator, task Task) ([]byte, error)

// Scheduler accepts serialized units of work to run later in independent
// transactions.
type Scheduler interface {
	// Submit schedules a new task and returns its id.
	Submit(ctx context.Context, code uint32, payload []byte) (string, error)
}

// TaskRunner runs submitted tasks on a worker pool.
type TaskRunner interface {
	Scheduler

	// Start the runner
	Start() error
	// Stop the runner. Tasks not yet finished are dropped.
	Stop() error
	// Parallelism returns the max number of steps running at the same time
	Parallelism() int
	// RegisterExecutor register the task executor for the code
	RegisterExecutor(code uint32, executor TaskExecutor)
	// WaitIdle blocks until no submitted task is waiting, running or
	// retrying.
	WaitIdle(ctx context.Context) error
}
