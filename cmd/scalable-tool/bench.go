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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/scalable"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	v2 "github.com/matrixorigin/scalable/pkg/util/metric/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type benchArg struct {
	entries int
	workers int
	batch   int
	scan    int
	timeout time.Duration
}

func benchCommand() *cobra.Command {
	arg := &benchArg{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load, scan, remove and clear entries of a new map",
		RunE: func(cmd *cobra.Command, args []string) error {
			if arg.entries <= 0 || arg.workers <= 0 || arg.batch <= 0 || arg.scan <= 0 {
				return moerr.NewInvalidArgNoCtx("bench", "entries, workers, batch and scan must be positive")
			}
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = e.close()
			}()
			ctx, cancel := context.WithTimeout(cmd.Context(), arg.timeout)
			defer cancel()
			return arg.run(ctx, e, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&arg.entries, "entries", "n", 10000, "number of entries")
	cmd.Flags().IntVarP(&arg.workers, "workers", "w", 4, "concurrent writers")
	cmd.Flags().IntVarP(&arg.batch, "batch", "b", 16, "entries written per transaction")
	cmd.Flags().IntVar(&arg.scan, "scan", 256, "entries read per transaction by the scan")
	cmd.Flags().DurationVar(&arg.timeout, "timeout", 10*time.Minute, "timeout of the whole bench")
	return cmd
}

func (arg *benchArg) run(ctx context.Context, e *env, out io.Writer) error {
	var m *scalable.Map
	if err := e.run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		var err error
		m, err = scalable.New(ctx, op, e.mapOptions()...)
		return err
	}); err != nil {
		return err
	}
	baseline, err := e.engine.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "map %d created, %d records\n", m.ID(), baseline)

	start := time.Now()
	if err := arg.parallel(ctx, e, func(ctx context.Context, op client.TxnOperator, i int) error {
		_, _, err := m.Put(ctx, op, scalable.MustInline(i), scalable.MustInline(i))
		return err
	}); err != nil {
		return err
	}
	records, err := e.engine.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "put %d entries in %s, %d records\n", arg.entries, time.Since(start), records)

	if err := e.run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		return m.Check(ctx, op)
	}); err != nil {
		return err
	}

	start = time.Now()
	n, err := arg.scanAll(ctx, e, m)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "scanned %d entries in %s\n", n, time.Since(start))

	start = time.Now()
	half := arg.entries / 2
	if err := arg.parallelRange(ctx, e, 0, half, func(ctx context.Context, op client.TxnOperator, i int) error {
		_, _, err := m.Remove(ctx, op, scalable.MustInline(i))
		return err
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "removed %d entries in %s\n", half, time.Since(start))

	start = time.Now()
	if err := e.run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		return m.Clear(ctx, op)
	}); err != nil {
		return err
	}
	select {
	case <-e.cleared:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := e.runner.WaitIdle(ctx); err != nil {
		return err
	}
	records, err = e.engine.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "cleared in %s, %d records\n", time.Since(start), records)
	if records != baseline {
		e.logger.Warn("records left after clear",
			zap.Int("baseline", baseline),
			zap.Int("records", records))
	}
	return printMetrics(out)
}

func (arg *benchArg) parallel(ctx context.Context, e *env, fn func(context.Context, client.TxnOperator, int) error) error {
	return arg.parallelRange(ctx, e, 0, arg.entries, fn)
}

// parallelRange applies fn to [from, to) with arg.workers writers, arg.batch
// keys per transaction. The first failure cancels the other writers.
func (arg *benchArg) parallelRange(ctx context.Context, e *env, from, to int,
	fn func(context.Context, client.TxnOperator, int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < arg.workers; w++ {
		w := w
		g.Go(func() error {
			for lo := from + w*arg.batch; lo < to; lo += arg.workers * arg.batch {
				hi := lo + arg.batch
				if hi > to {
					hi = to
				}
				if err := e.run(ctx, func(ctx context.Context, op client.TxnOperator) error {
					for i := lo; i < hi; i++ {
						if err := fn(ctx, op, i); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// scanAll counts entries with a cursor resumed in a new transaction every
// arg.scan entries.
func (arg *benchArg) scanAll(ctx context.Context, e *env, m *scalable.Map) (int, error) {
	var cursor []byte
	if err := e.run(ctx, func(ctx context.Context, op client.TxnOperator) error {
		it, err := m.Iterator(ctx, op)
		if err != nil {
			return err
		}
		cursor, err = it.MarshalBinary()
		return err
	}); err != nil {
		return 0, err
	}

	total := 0
	for {
		n, done := 0, false
		if err := e.run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			n, done = 0, false
			it, err := scalable.ResumeIterator(cursor)
			if err != nil {
				return err
			}
			for n < arg.scan {
				ok, err := it.HasNext(ctx, op)
				if err != nil {
					return err
				}
				if !ok {
					done = true
					break
				}
				if _, err := it.Next(ctx, op); err != nil {
					return err
				}
				n++
			}
			cursor, err = it.MarshalBinary()
			return err
		}); err != nil {
			return 0, err
		}
		total += n
		if done {
			return total, nil
		}
	}
}

func printMetrics(out io.Writer) error {
	families, err := v2.GetPrometheusGatherer().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := ""
			for _, l := range metric.GetLabel() {
				labels += fmt.Sprintf("%s=%s ", l.GetName(), l.GetValue())
			}
			switch {
			case metric.GetCounter() != nil:
				fmt.Fprintf(out, "%s %s%.0f\n", mf.GetName(), labels, metric.GetCounter().GetValue())
			case metric.GetGauge() != nil:
				fmt.Fprintf(out, "%s %s%.0f\n", mf.GetName(), labels, metric.GetGauge().GetValue())
			}
		}
	}
	return nil
}
