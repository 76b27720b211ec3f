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

package objstore

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/logutil"
	"github.com/pierrec/lz4"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = 'r'

	flagRaw        byte = 0
	flagCompressed byte = 1
	flagTombstone  byte = 2

	// payloads shorter than this are stored raw.
	compressThreshold = 128
)

var (
	metaNextIDKey = []byte("m/next-id")
	metaSeqKey    = []byte("m/seq")
)

var _ Engine = (*PebbleEngine)(nil)

// PebbleOption options for the pebble engine
type PebbleOption func(*PebbleEngine)

// WithPebbleLogger set logger
func WithPebbleLogger(logger *zap.Logger) PebbleOption {
	return func(e *PebbleEngine) {
		e.logger = logger
	}
}

// WithPebbleInMemory keep all pebble files in memory
func WithPebbleInMemory() PebbleOption {
	return func(e *PebbleEngine) {
		e.fs = vfs.NewMem()
	}
}

// WithPebbleSync sync the wal on every commit
func WithPebbleSync(sync bool) PebbleOption {
	return func(e *PebbleEngine) {
		e.sync = sync
	}
}

// PebbleEngine is an Engine persisted in a pebble instance. A record is stored
// under 'r' + big endian id as version(8) + flag(1) + payload, with payloads
// above compressThreshold lz4 block compressed when that saves space.
// Tombstones carry no payload.
type PebbleEngine struct {
	logger *zap.Logger
	dir    string
	fs     vfs.FS
	sync   bool
	db     *pebble.DB

	mu struct {
		sync.Mutex
		closed bool
		seq    uint64
		nextID uint64
	}
}

// NewPebbleEngine opens or creates a pebble engine in dir.
func NewPebbleEngine(dir string, options ...PebbleOption) (*PebbleEngine, error) {
	e := &PebbleEngine{dir: dir}
	for _, opt := range options {
		opt(e)
	}
	e.logger = logutil.Adjust(e.logger).Named("pebble-engine")
	if e.fs == nil {
		e.fs = vfs.Default
	}

	db, err := pebble.Open(dir, &pebble.Options{FS: e.fs})
	if err != nil {
		return nil, err
	}
	e.db = db

	if e.mu.nextID, err = e.loadMeta(metaNextIDKey); err != nil {
		_ = db.Close()
		return nil, err
	}
	if e.mu.seq, err = e.loadMeta(metaSeqKey); err != nil {
		_ = db.Close()
		return nil, err
	}
	e.logger.Info("pebble engine opened",
		zap.String("dir", dir),
		zap.Uint64("next-id", e.mu.nextID),
		zap.Uint64("seq", e.mu.seq))
	return e, nil
}

func (e *PebbleEngine) Get(ctx context.Context, id ID) (Record, error) {
	return e.get(id)
}

func (e *PebbleEngine) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mu.seq
}

func (e *PebbleEngine) AllocID(ctx context.Context) (ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return NilID, moerr.NewInvalidState(ctx, "pebble engine closed")
	}
	next := e.mu.nextID + 1
	if err := e.db.Set(metaNextIDKey, encodeUint64(next), e.writeOptions()); err != nil {
		return NilID, err
	}
	e.mu.nextID = next
	return ID(next), nil
}

func (e *PebbleEngine) Commit(ctx context.Context, b Batch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return moerr.NewInvalidState(ctx, "pebble engine closed")
	}

	var loadErr error
	if err := validateReads(ctx, b.Reads, func(id ID) uint64 {
		rec, err := e.get(id)
		if err != nil {
			loadErr = err
			return 0
		}
		return rec.Version
	}); err != nil {
		return err
	}
	if loadErr != nil {
		return loadErr
	}
	if len(b.Writes) == 0 {
		return nil
	}

	seq := e.mu.seq + 1
	staged, err := stageWrites(ctx, seq, b.Writes, e.get)
	if err != nil {
		return err
	}

	batch := e.db.NewBatch()
	defer batch.Close()
	for _, s := range staged {
		if err := batch.Set(recordKey(s.id), encodeRecord(s.record), nil); err != nil {
			return err
		}
	}
	if err := batch.Set(metaSeqKey, encodeUint64(seq), nil); err != nil {
		return err
	}
	if err := batch.Commit(e.writeOptions()); err != nil {
		return err
	}
	e.mu.seq = seq
	return nil
}

func (e *PebbleEngine) Count(ctx context.Context) (int, error) {
	iter := e.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{recordKeyPrefix},
		UpperBound: []byte{recordKeyPrefix + 1},
	})
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if v := iter.Value(); len(v) > 8 && v[8] != flagTombstone {
			n++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *PebbleEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return nil
	}
	e.mu.closed = true
	return e.db.Close()
}

func (e *PebbleEngine) writeOptions() *pebble.WriteOptions {
	if e.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (e *PebbleEngine) get(id ID) (Record, error) {
	v, closer, err := e.db.Get(recordKey(id))
	if err == pebble.ErrNotFound {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(v)
}

func (e *PebbleEngine) loadMeta(key []byte) (uint64, error) {
	v, closer, err := e.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, moerr.NewInvalidStateNoCtx("bad meta value for %s", string(key))
	}
	return binary.BigEndian.Uint64(v), nil
}

func recordKey(id ID) []byte {
	key := make([]byte, 9)
	key[0] = recordKeyPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	return key
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func encodeRecord(rec Record) []byte {
	if !rec.Live {
		buf := make([]byte, 9)
		binary.BigEndian.PutUint64(buf, rec.Version)
		buf[8] = flagTombstone
		return buf
	}
	if len(rec.Data) >= compressThreshold {
		dst := make([]byte, 9+binary.MaxVarintLen64+lz4.CompressBlockBound(len(rec.Data)))
		binary.BigEndian.PutUint64(dst, rec.Version)
		dst[8] = flagCompressed
		n := 9 + binary.PutUvarint(dst[9:], uint64(len(rec.Data)))
		hashTable := make([]int, 1<<16)
		size, err := lz4.CompressBlock(rec.Data, dst[n:], hashTable)
		// size 0 means the payload is incompressible.
		if err == nil && size > 0 && n+size < 9+len(rec.Data) {
			return dst[:n+size]
		}
	}
	buf := make([]byte, 9+len(rec.Data))
	binary.BigEndian.PutUint64(buf, rec.Version)
	buf[8] = flagRaw
	copy(buf[9:], rec.Data)
	return buf
}

func decodeRecord(v []byte) (Record, error) {
	if len(v) < 9 {
		return Record{}, moerr.NewUnexpectedEOFNoCtx("record header")
	}
	rec := Record{Version: binary.BigEndian.Uint64(v), Live: true}
	switch v[8] {
	case flagTombstone:
		rec.Live = false
	case flagRaw:
		rec.Data = make([]byte, len(v)-9)
		copy(rec.Data, v[9:])
	case flagCompressed:
		size, n := binary.Uvarint(v[9:])
		if n <= 0 {
			return Record{}, moerr.NewUnexpectedEOFNoCtx("record length")
		}
		rec.Data = make([]byte, size)
		m, err := lz4.UncompressBlock(v[9+n:], rec.Data)
		if err != nil {
			return Record{}, moerr.NewInvalidStateNoCtx("bad compressed record: %v", err)
		}
		if uint64(m) != size {
			return Record{}, moerr.NewInvalidStateNoCtx("bad compressed record size %d, expect %d", m, size)
		}
	default:
		return Record{}, moerr.NewInvalidStateNoCtx("unknown record flag %d", v[8])
	}
	return rec, nil
}
