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
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	v2 "github.com/matrixorigin/scalable/pkg/util/metric/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// RunnerOption option for create task runner
type RunnerOption func(*taskRunner)

// WithRunnerLogger set logger
func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *taskRunner) {
		r.logger = logger
	}
}

// WithRunnerParallelism set the parallelism for execute tasks.
func WithRunnerParallelism(parallelism int) RunnerOption {
	return func(r *taskRunner) {
		r.options.parallelism = parallelism
	}
}

// WithRunnerRetryInterval set retry interval duration for failed steps
func WithRunnerRetryInterval(interval time.Duration) RunnerOption {
	return func(r *taskRunner) {
		r.options.retryInterval = interval
	}
}

// WithRunnerMaxRetryTimes set how many times a failed step is retried
func WithRunnerMaxRetryTimes(n uint32) RunnerOption {
	return func(r *taskRunner) {
		r.options.maxRetryTimes = n
	}
}

// WithRunnerStepTimeout set the timeout of one step
func WithRunnerStepTimeout(timeout time.Duration) RunnerOption {
	return func(r *taskRunner) {
		r.options.stepTimeout = timeout
	}
}

type taskRunner struct {
	logger    *zap.Logger
	runnerID  string
	txnClient client.TxnClient
	pool      *ants.Pool
	notifyC   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu struct {
		sync.RWMutex
		started   bool
		stopped   bool
		executors map[uint32]TaskExecutor
		waitTasks []runningTask
		pending   int
		idleC     chan struct{}
		timers    map[string]*time.Timer
	}

	options struct {
		parallelism   int
		retryInterval time.Duration
		maxRetryTimes uint32
		stepTimeout   time.Duration
	}
}

// NewTaskRunner new task runner. Every step of a task runs in a fresh
// transaction created by txnClient.
func NewTaskRunner(runnerID string, txnClient client.TxnClient, opts ...RunnerOption) TaskRunner {
	r := &taskRunner{
		runnerID:  runnerID,
		txnClient: txnClient,
	}
	r.mu.executors = make(map[uint32]TaskExecutor)
	r.mu.timers = make(map[string]*time.Timer)
	r.mu.idleC = make(chan struct{})
	close(r.mu.idleC)
	for _, opt := range opts {
		opt(r)
	}
	r.adjust()

	r.logger = logutil.Adjust(r.logger).Named("task-runner").With(zap.String("runner-id", r.runnerID))
	r.notifyC = make(chan struct{}, 1)
	pool, err := ants.NewPool(r.options.parallelism,
		ants.WithExpiryDuration(time.Millisecond*100),
		ants.WithPanicHandler(func(v interface{}) {
			r.logger.Error("panic in task pool", zap.Error(moerr.ConvertPanicError(context.Background(), v)))
		}))
	if err != nil {
		panic(err)
	}
	r.pool = pool
	return r
}

func (r *taskRunner) adjust() {
	if r.options.parallelism == 0 {
		r.options.parallelism = runtime.NumCPU() / 16
		if r.options.parallelism == 0 {
			r.options.parallelism = 1
		}
	}
	if r.options.retryInterval == 0 {
		r.options.retryInterval = time.Millisecond * 100
	}
	if r.options.maxRetryTimes == 0 {
		r.options.maxRetryTimes = 10
	}
	if r.options.stepTimeout == 0 {
		r.options.stepTimeout = time.Second * 30
	}
}

func (r *taskRunner) ID() string {
	return r.runnerID
}

func (r *taskRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mu.started {
		return nil
	}
	if r.mu.stopped {
		return moerr.NewInvalidStateNoCtx("task runner %s stopped", r.runnerID)
	}
	r.mu.started = true
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.dispatch(r.ctx)
	}()
	return nil
}

func (r *taskRunner) Stop() error {
	r.mu.Lock()
	if !r.mu.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.started = false
	r.mu.stopped = true
	for id, timer := range r.mu.timers {
		timer.Stop()
		delete(r.mu.timers, id)
	}
	r.mu.waitTasks = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.pool.Release()

	r.mu.Lock()
	for r.mu.pending > 0 {
		r.removePendingLocked()
	}
	r.mu.Unlock()
	return nil
}

func (r *taskRunner) Parallelism() int {
	return r.options.parallelism
}

func (r *taskRunner) RegisterExecutor(code uint32, executor TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mu.executors[code]; !ok {
		r.logger.Debug("executor registered", zap.Uint32("code", code))
		r.mu.executors[code] = executor
	}
}

func (r *taskRunner) Submit(ctx context.Context, code uint32, payload []byte) (string, error) {
	if _, err := r.getExecutor(ctx, code); err != nil {
		return "", err
	}
	rt := runningTask{task: Task{
		ID:       uuid.New().String(),
		Code:     code,
		Payload:  payload,
		CreateAt: time.Now(),
	}}
	if !r.addPending() {
		return "", moerr.NewInvalidState(ctx, "task runner %s not started", r.runnerID)
	}
	if !r.addToWait(rt) {
		r.removePending()
		return "", moerr.NewInvalidTask(ctx, r.runnerID, rt.task.ID)
	}
	return rt.task.ID, nil
}

func (r *taskRunner) WaitIdle(ctx context.Context) error {
	r.mu.RLock()
	c := r.mu.idleC
	r.mu.RUnlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c:
		return nil
	}
}

// addToWait never blocks, so a worker handing over a continuation can not
// deadlock with the dispatcher waiting for a free worker.
func (r *taskRunner) addToWait(rt runningTask) bool {
	r.mu.Lock()
	if !r.mu.started {
		r.mu.Unlock()
		return false
	}
	r.mu.waitTasks = append(r.mu.waitTasks, rt)
	r.mu.Unlock()

	select {
	case r.notifyC <- struct{}{}:
	default:
	}
	r.logger.Debug("task added",
		zap.String("task", rt.task.ID),
		zap.Int("step", rt.task.Step))
	return true
}

func (r *taskRunner) popWaitTask() (runningTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.mu.waitTasks) == 0 {
		return runningTask{}, false
	}
	rt := r.mu.waitTasks[0]
	r.mu.waitTasks[0] = runningTask{}
	r.mu.waitTasks = r.mu.waitTasks[1:]
	return rt, true
}

func (r *taskRunner) dispatch(ctx context.Context) {
	r.logger.Info("dispatch task started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("dispatch task stopped")
			return
		case <-r.notifyC:
			for {
				for taskFrameworkDisabled() {
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Millisecond * 10):
					}
				}
				rt, ok := r.popWaitTask()
				if !ok {
					break
				}
				r.runTask(ctx, rt)
			}
		}
	}
}

func (r *taskRunner) runTask(ctx context.Context, rt runningTask) {
	// Submit blocks while all workers are busy
	if err := r.pool.Submit(func() { r.run(ctx, rt) }); err != nil {
		r.logger.Error("submit task to pool failed",
			zap.String("task", rt.task.ID),
			zap.Error(err))
		r.removePending()
	}
}

func (r *taskRunner) run(ctx context.Context, rt runningTask) {
	start := time.Now()
	r.logger.Debug("task step start execute",
		zap.String("task", rt.task.ID),
		zap.Int("step", rt.task.Step))
	defer r.logger.Debug("task step execute completed",
		zap.String("task", rt.task.ID),
		zap.Int("step", rt.task.Step),
		zap.Duration("cost", time.Since(start)))

	next, err := r.execute(ctx, rt.task)
	if err == nil {
		v2.TaskStepSuccessCounter.Inc()
		if next == nil {
			r.removePending()
			return
		}
		rt.task.Payload = next
		rt.task.Step++
		rt.retryTimes = 0
		if !r.addToWait(rt) {
			r.removePending()
		}
		return
	}

	// step failed
	r.logger.Error("run task step failed",
		zap.String("task", rt.task.ID),
		zap.Int("step", rt.task.Step),
		zap.Uint32("retry-times", rt.retryTimes),
		zap.Error(err))
	if ctx.Err() == nil && rt.canRetry(r.options.maxRetryTimes) {
		v2.TaskStepRetryCounter.Inc()
		rt.retryTimes++
		r.addRetryTask(rt)
		return
	}
	v2.TaskStepFailedCounter.Inc()
	r.removePending()
}

func (r *taskRunner) execute(ctx context.Context, task Task) (next []byte, err error) {
	executor, err := r.getExecutor(ctx, task.Code)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.options.stepTimeout)
	defer cancel()
	defer func() {
		if e := recover(); e != nil {
			next, err = nil, moerr.ConvertPanicError(ctx, e)
		}
	}()

	err = r.txnClient.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var e error
		next, e = executor(ctx, op, task)
		return e
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *taskRunner) addRetryTask(rt runningTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.stopped {
		r.removePendingLocked()
		return
	}
	id := rt.task.ID
	r.mu.timers[id] = time.AfterFunc(r.options.retryInterval, func() {
		r.mu.Lock()
		delete(r.mu.timers, id)
		r.mu.Unlock()
		if !r.addToWait(rt) {
			r.removePending()
		}
	})
}

func (r *taskRunner) addPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mu.started {
		return false
	}
	if r.mu.pending == 0 {
		r.mu.idleC = make(chan struct{})
	}
	r.mu.pending++
	v2.TaskRunningGauge.Inc()
	return true
}

func (r *taskRunner) removePending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePendingLocked()
}

func (r *taskRunner) removePendingLocked() {
	if r.mu.pending == 0 {
		return
	}
	r.mu.pending--
	v2.TaskRunningGauge.Dec()
	if r.mu.pending == 0 {
		close(r.mu.idleC)
	}
}

func (r *taskRunner) getExecutor(ctx context.Context, code uint32) (TaskExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if executor, ok := r.mu.executors[code]; ok {
		return executor, nil
	}
	return nil, moerr.NewTaskExecutorAbsent(ctx, code)
}

type runningTask struct {
	task       Task
	retryTimes uint32
}

func (rt runningTask) canRetry(maxRetryTimes uint32) bool {
	return rt.retryTimes < maxRetryTimes
}
