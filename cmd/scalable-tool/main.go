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
	"os"
	"sync"

	"github.com/matrixorigin/scalable/pkg/config"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/scalable"
	"github.com/matrixorigin/scalable/pkg/taskservice"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "scalable-tool",
		Short:        "Tools for scalable maps",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("cfg", "c", "", "toml configuration file")
	root.AddCommand(benchCommand())
	root.AddCommand(checkCommand())
	return root
}

// env is the stack every command runs on.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  objstore.Engine
	client  client.TxnClient
	runner  taskservice.TaskRunner
	cleared chan objstore.ID

	closeOnce sync.Once
}

func newEnv(cmd *cobra.Command) (*env, error) {
	file, err := cmd.Flags().GetString("cfg")
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{}
	if file != "" {
		if cfg, err = config.Parse(file); err != nil {
			return nil, err
		}
	} else {
		cfg.Adjust()
	}
	logutil.SetupLogger(&cfg.Log)
	logger := logutil.GetGlobalLogger().Named("scalable-tool")

	engine, err := cfg.OpenEngine(logger)
	if err != nil {
		return nil, err
	}
	e := &env{
		cfg:     cfg,
		logger:  logger,
		engine:  engine,
		cleared: make(chan objstore.ID, 16),
	}
	e.client = client.NewTxnClient(engine, cfg.TxnClientOptions(logger)...)
	e.runner = taskservice.NewTaskRunner("scalable-tool", e.client, cfg.RunnerOptions(logger)...)
	scalable.RegisterExecutors(e.runner,
		scalable.WithExecutorLogger(logger),
		scalable.WithClearDone(func(id objstore.ID) {
			select {
			case e.cleared <- id:
			default:
			}
		}))
	if err := e.runner.Start(); err != nil {
		_ = e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) mapOptions() []scalable.Option {
	return append(e.cfg.MapOptions(),
		scalable.WithScheduler(e.runner),
		scalable.WithLogger(e.logger))
}

func (e *env) run(ctx context.Context, fn func(context.Context, client.TxnOperator) error) error {
	return e.client.Run(ctx, fn)
}

func (e *env) close() (err error) {
	e.closeOnce.Do(func() {
		if e.runner != nil {
			if stopErr := e.runner.Stop(); stopErr != nil {
				err = stopErr
			}
		}
		if e.client != nil {
			if closeErr := e.client.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		if closeErr := e.engine.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return
}
