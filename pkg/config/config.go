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

package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/scalable"
	"github.com/matrixorigin/scalable/pkg/taskservice"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	tomlutil "github.com/matrixorigin/scalable/pkg/util/toml"
	"go.uber.org/zap"
)

const (
	// EngineMem keeps records in memory
	EngineMem = "mem"
	// EnginePebble keeps records in a pebble store
	EnginePebble = "pebble"

	defaultTaskParallelism   = 4
	defaultTaskRetryInterval = 100 * time.Millisecond
	defaultTaskMaxRetryTimes = 10
	defaultTaskStepTimeout   = 30 * time.Second
	defaultTxnMaxRetries     = 64
	defaultLeakCheckDuration = time.Minute
)

// Config is the configuration of a process embedding scalable maps.
type Config struct {
	Log   logutil.LogConfig `toml:"log"`
	Store StoreConfig       `toml:"store"`
	Txn   TxnConfig         `toml:"txn"`
	Map   MapConfig         `toml:"map"`
	Task  TaskConfig        `toml:"task"`
}

// StoreConfig record engine config
type StoreConfig struct {
	// Engine is mem or pebble.
	Engine string `toml:"engine"`
	// Dir is the pebble data dir, empty means an in memory pebble.
	Dir string `toml:"dir"`
	// Sync fsyncs every pebble commit.
	Sync bool `toml:"sync"`
}

// TxnConfig transaction config
type TxnConfig struct {
	// WorkBudget max distinct records a txn can touch, 0 means unlimited.
	WorkBudget int `toml:"work-budget"`
	// MaxRetries max retries of a txn on write conflicts.
	MaxRetries int `toml:"max-retries"`
	// EnableLeakCheck reports txns kept open for longer than MaxActiveAges.
	EnableLeakCheck bool              `toml:"enable-leak-check"`
	MaxActiveAges   tomlutil.Duration `toml:"max-active-ages"`
}

// MapConfig default shape of new maps. Zero values keep the map defaults.
type MapConfig struct {
	MinConcurrency  int  `toml:"min-concurrency"`
	SplitThreshold  int  `toml:"split-threshold"`
	MergeThreshold  int  `toml:"merge-threshold"`
	DirectorySize   int  `toml:"directory-size"`
	DisableCollapse bool `toml:"disable-collapse"`
}

// TaskConfig task runner config
type TaskConfig struct {
	Parallelism   int               `toml:"parallelism"`
	RetryInterval tomlutil.Duration `toml:"retry-interval"`
	MaxRetryTimes uint32            `toml:"max-retry-times"`
	StepTimeout   tomlutil.Duration `toml:"step-timeout"`
}

// Parse decodes the toml file, then adjusts and validates it.
func Parse(file string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(file, cfg); err != nil {
		return nil, moerr.NewBadConfigNoCtx("decode %s: %v", file, err)
	}
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Adjust fills the defaults.
func (c *Config) Adjust() {
	c.Store.Engine = strings.ToLower(c.Store.Engine)
	if c.Store.Engine == "" {
		c.Store.Engine = EngineMem
	}
	if c.Txn.MaxRetries == 0 {
		c.Txn.MaxRetries = defaultTxnMaxRetries
	}
	if c.Txn.MaxActiveAges.Duration == 0 {
		c.Txn.MaxActiveAges.Duration = defaultLeakCheckDuration
	}
	if c.Task.Parallelism == 0 {
		c.Task.Parallelism = defaultTaskParallelism
	}
	if c.Task.RetryInterval.Duration == 0 {
		c.Task.RetryInterval.Duration = defaultTaskRetryInterval
	}
	if c.Task.MaxRetryTimes == 0 {
		c.Task.MaxRetryTimes = defaultTaskMaxRetryTimes
	}
	if c.Task.StepTimeout.Duration == 0 {
		c.Task.StepTimeout.Duration = defaultTaskStepTimeout
	}
}

// Validate rejects invalid values with ErrBadConfig.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return moerr.NewBadConfigNoCtx("unknown log format %q", c.Log.Format)
	}
	switch c.Store.Engine {
	case EngineMem, EnginePebble:
	default:
		return moerr.NewBadConfigNoCtx("unknown store engine %q", c.Store.Engine)
	}
	if c.Txn.WorkBudget < 0 {
		return moerr.NewBadConfigNoCtx("negative txn work budget %d", c.Txn.WorkBudget)
	}
	if c.Txn.MaxRetries < 0 {
		return moerr.NewBadConfigNoCtx("negative txn max retries %d", c.Txn.MaxRetries)
	}
	if c.Map.MinConcurrency < 0 || c.Map.SplitThreshold < 0 ||
		c.Map.MergeThreshold < 0 || c.Map.DirectorySize < 0 {
		return moerr.NewBadConfigNoCtx("negative map shape %+v", c.Map)
	}
	if c.Map.MergeThreshold > 0 && c.Map.SplitThreshold > 0 &&
		c.Map.MergeThreshold > c.Map.SplitThreshold {
		return moerr.NewBadConfigNoCtx("merge threshold %d above split threshold %d",
			c.Map.MergeThreshold, c.Map.SplitThreshold)
	}
	if c.Task.Parallelism < 0 {
		return moerr.NewBadConfigNoCtx("negative task parallelism %d", c.Task.Parallelism)
	}
	return nil
}

// OpenEngine opens the configured record engine.
func (c *Config) OpenEngine(logger *zap.Logger) (objstore.Engine, error) {
	if c.Store.Engine == EngineMem {
		return objstore.NewMemEngine(), nil
	}
	opts := []objstore.PebbleOption{
		objstore.WithPebbleLogger(logger),
		objstore.WithPebbleSync(c.Store.Sync),
	}
	dir := c.Store.Dir
	if dir == "" {
		dir = "scalable"
		opts = append(opts, objstore.WithPebbleInMemory())
	}
	return objstore.NewPebbleEngine(dir, opts...)
}

// TxnClientOptions returns the options of the txn client.
func (c *Config) TxnClientOptions(logger *zap.Logger) []client.TxnClientCreateOption {
	opts := []client.TxnClientCreateOption{
		client.WithLogger(logger),
		client.WithMaxRetries(c.Txn.MaxRetries),
		client.WithWorkBudget(c.Txn.WorkBudget),
	}
	if c.Txn.EnableLeakCheck {
		opts = append(opts, client.WithTxnLeakCheck(c.Txn.MaxActiveAges.Duration,
			func(txnID string, createAt time.Time) {
				logger.Error("found leak txn",
					zap.String("txn", txnID),
					zap.Time("create-at", createAt))
			}))
	}
	return opts
}

// RunnerOptions returns the options of the task runner.
func (c *Config) RunnerOptions(logger *zap.Logger) []taskservice.RunnerOption {
	return []taskservice.RunnerOption{
		taskservice.WithRunnerLogger(logger),
		taskservice.WithRunnerParallelism(c.Task.Parallelism),
		taskservice.WithRunnerRetryInterval(c.Task.RetryInterval.Duration),
		taskservice.WithRunnerMaxRetryTimes(c.Task.MaxRetryTimes),
		taskservice.WithRunnerStepTimeout(c.Task.StepTimeout.Duration),
	}
}

// MapOptions returns the options of new maps.
func (c *Config) MapOptions() []scalable.Option {
	var opts []scalable.Option
	if c.Map.MinConcurrency > 0 {
		opts = append(opts, scalable.WithMinConcurrency(c.Map.MinConcurrency))
	}
	if c.Map.SplitThreshold > 0 {
		opts = append(opts, scalable.WithSplitThreshold(c.Map.SplitThreshold))
	}
	if c.Map.MergeThreshold > 0 {
		opts = append(opts, scalable.WithMergeThreshold(c.Map.MergeThreshold))
	}
	if c.Map.DirectorySize > 0 {
		opts = append(opts, scalable.WithDirectorySize(c.Map.DirectorySize))
	}
	if c.Map.DisableCollapse {
		opts = append(opts, scalable.WithCollapse(false))
	}
	return opts
}
