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

package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// leakChecker is used to detect leak txn which is not committed or aborted.
type leakChecker struct {
	sync.RWMutex
	logger         *zap.Logger
	actives        []activeTxn
	maxActiveAges  time.Duration
	leakHandleFunc func(txnID string, createAt time.Time)
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func newLeakCheck(
	maxActiveAges time.Duration,
	leakHandleFunc func(txnID string, createAt time.Time)) *leakChecker {
	return &leakChecker{
		maxActiveAges:  maxActiveAges,
		leakHandleFunc: leakHandleFunc,
	}
}

func (lc *leakChecker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	lc.cancel = cancel
	lc.wg.Add(1)
	go func() {
		defer lc.wg.Done()
		lc.check(ctx)
	}()
}

func (lc *leakChecker) close() {
	if lc.cancel != nil {
		lc.cancel()
	}
	lc.wg.Wait()
}

func (lc *leakChecker) txnOpened(txnID string) {
	lc.Lock()
	defer lc.Unlock()
	lc.actives = append(lc.actives, activeTxn{
		id:       txnID,
		createAt: time.Now(),
	})
}

func (lc *leakChecker) txnClosed(txnID string) {
	lc.Lock()
	defer lc.Unlock()
	values := lc.actives[:0]
	for idx, txn := range lc.actives {
		if txn.id == txnID {
			values = append(values, lc.actives[idx+1:]...)
			break
		}
		values = append(values, txn)
	}
	lc.actives = values
}

func (lc *leakChecker) check(ctx context.Context) {
	timer := time.NewTicker(lc.maxActiveAges)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			lc.doCheck()
		}
	}
}

func (lc *leakChecker) doCheck() {
	lc.RLock()
	defer lc.RUnlock()

	now := time.Now()
	for _, txn := range lc.actives {
		if now.Sub(txn.createAt) >= lc.maxActiveAges {
			if lc.logger != nil {
				lc.logger.Warn("found leak txn",
					zap.String("txn", txn.id),
					zap.Time("create-at", txn.createAt))
			}
			if lc.leakHandleFunc != nil {
				lc.leakHandleFunc(txn.id, txn.createAt)
			}
		}
	}
}

type activeTxn struct {
	id       string
	createAt time.Time
}
