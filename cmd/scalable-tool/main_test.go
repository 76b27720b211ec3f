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

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBench(t *testing.T) {
	out, err := runCommand(t, "bench", "-n", "300", "-w", "3", "-b", "7", "--scan", "32")
	require.NoError(t, err)
	assert.Contains(t, out, "put 300 entries")
	assert.Contains(t, out, "scanned 300 entries")
	assert.Contains(t, out, "removed 150 entries")
	assert.Contains(t, out, "cleared in")
}

func TestBenchInvalidArgs(t *testing.T) {
	_, err := runCommand(t, "bench", "-n", "0")
	require.Error(t, err)
}

func TestCheckMissingMap(t *testing.T) {
	_, err := runCommand(t, "check", "42")
	require.Error(t, err)

	_, err = runCommand(t, "check", "not-a-number")
	require.Error(t, err)
}

func TestParallelRangeStopsOnFirstError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	e := &env{engine: objstore.NewMemEngine()}
	e.client = client.NewTxnClient(e.engine)
	defer func() {
		assert.NoError(t, e.client.Close())
	}()

	arg := &benchArg{workers: 4, batch: 2}
	failed := moerr.NewInternalErrorNoCtx("write failed")
	err := arg.parallelRange(ctx, e, 0, 100, func(ctx context.Context, _ client.TxnOperator, i int) error {
		if i == 0 {
			return failed
		}
		// other writers only stop once the failure cancels them
		<-ctx.Done()
		return ctx.Err()
	})
	require.Equal(t, error(failed), err)
	require.NoError(t, ctx.Err())
}
