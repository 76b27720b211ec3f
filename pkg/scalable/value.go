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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind is the representation of a key or value.
type Kind uint8

const (
	// KindNull is the null key or value. It is distinct from absent.
	KindNull Kind = iota
	// KindInline is plain data owned by the map, kept in canonical msgpack form.
	KindInline
	// KindRef is a reference to a record owned by someone else.
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInline:
		return "inline"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// nullHash is the hash of the null key.
const nullHash uint64 = 0x9e3779b97f4a7c15

// Value is a key or value stored in the map. The zero Value is null.
type Value struct {
	kind Kind
	data []byte
	ref  objstore.ID
}

// Null returns the null value.
func Null() Value {
	return Value{}
}

// Inline encodes v as an inline value. Types without a msgpack encoding fail
// with ErrInvalidArg.
func Inline(v any) (Value, error) {
	data, err := encodeCanonical(v)
	if err != nil {
		return Value{}, moerr.NewInvalidArgNoCtx("inline value", fmt.Sprintf("%T", v))
	}
	return Value{kind: KindInline, data: data}, nil
}

// MustInline is like Inline but panics on error. It is meant for constants
// and tests.
func MustInline(v any) Value {
	value, err := Inline(v)
	if err != nil {
		panic(err)
	}
	return value
}

// Ref returns a value referring to the record id.
func Ref(id objstore.ID) Value {
	return Value{kind: KindRef, ref: id}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// RefID returns the referenced record, or NilID for non ref values.
func (v Value) RefID() objstore.ID {
	return v.ref
}

// Bytes returns the canonical encoding of an inline value.
func (v Value) Bytes() []byte {
	return v.data
}

// Decode decodes the value into dst. A ref value is resolved through op and
// fails with ErrReferentNotFound if the referent is gone. Decoding null leaves
// dst untouched.
func (v Value) Decode(ctx context.Context, op client.TxnOperator, dst any) error {
	switch v.kind {
	case KindNull:
		return nil
	case KindInline:
		return msgpack.Unmarshal(v.data, dst)
	default:
		data, err := op.Read(ctx, v.ref)
		if err != nil {
			return err
		}
		return msgpack.Unmarshal(data, dst)
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindRef:
		return fmt.Sprintf("ref(%d)", v.ref)
	default:
		var x any
		if err := msgpack.Unmarshal(v.data, &x); err != nil {
			return fmt.Sprintf("inline(%x)", v.data)
		}
		return fmt.Sprint(x)
	}
}

func (v Value) validate(ctx context.Context, what string) error {
	switch v.kind {
	case KindNull:
		return nil
	case KindInline:
		if len(v.data) == 0 {
			return moerr.NewInvalidArg(ctx, what, "empty inline value")
		}
		return nil
	case KindRef:
		if v.ref.IsNil() {
			return moerr.NewInvalidArg(ctx, what, "nil reference")
		}
		return nil
	default:
		return moerr.NewInvalidArg(ctx, what, v.kind)
	}
}

// identity is the representation based identity of a value, used to order
// entries with equal hashes and to find an entry again without resolving it.
func (v Value) identity() []byte {
	switch v.kind {
	case KindInline:
		buf := make([]byte, 1+len(v.data))
		buf[0] = byte(v.kind)
		copy(buf[1:], v.data)
		return buf
	case KindRef:
		buf := make([]byte, 9)
		buf[0] = byte(v.kind)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.ref))
		return buf
	default:
		return []byte{byte(v.kind)}
	}
}

// CreateObject stores v as a new record in canonical form and returns a ref
// to it. The caller owns the record.
func CreateObject(ctx context.Context, op client.TxnOperator, v any) (Value, error) {
	data, err := encodeCanonical(v)
	if err != nil {
		return Value{}, moerr.NewInvalidArg(ctx, "object", fmt.Sprintf("%T", v))
	}
	id, err := op.Create(ctx, data)
	if err != nil {
		return Value{}, err
	}
	return Ref(id), nil
}

// DeleteObject deletes the referent of a ref value.
func DeleteObject(ctx context.Context, op client.TxnOperator, v Value) error {
	if v.kind != KindRef {
		return moerr.NewInvalidArg(ctx, "object", v.kind)
	}
	return op.Delete(ctx, v.ref)
}

// Comparison is the outcome of comparing a matcher with a stored candidate.
type Comparison int

const (
	// CompareNotEqual the candidate does not match
	CompareNotEqual Comparison = iota
	// CompareEqual the candidate matches
	CompareEqual
	// CompareReferentGone the candidate is a ref whose referent was deleted
	CompareReferentGone
)

func (c Comparison) String() string {
	switch c {
	case CompareEqual:
		return "equal"
	case CompareNotEqual:
		return "not-equal"
	default:
		return "referent-gone"
	}
}

// keyHash hashes a key by identity. A ref key hashes its id, so it can be
// found again after its referent is deleted.
func keyHash(v Value) uint64 {
	switch v.kind {
	case KindNull:
		return nullHash
	case KindInline:
		return xxhash.Sum64(v.data)
	default:
		return xxhash.Sum64(v.identity())
	}
}

// matcher is a resolved value ready to be compared with stored ones.
type matcher struct {
	value   Value
	content []byte
	hash    uint64
}

// newMatcher resolves v. A ref whose referent is gone fails with
// ErrReferentNotFound, since the caller asked for that specific object.
func newMatcher(ctx context.Context, op client.TxnOperator, v Value) (*matcher, error) {
	p := &matcher{value: v}
	switch v.kind {
	case KindNull:
		p.hash = nullHash
		return p, nil
	case KindInline:
		p.content = v.data
	default:
		data, err := op.Read(ctx, v.ref)
		if err != nil {
			return nil, err
		}
		p.content = data
	}
	p.hash = xxhash.Sum64(p.content)
	return p, nil
}

// compare compares the matcher with a stored candidate by content. Refs to the
// same record are equal without resolving. A candidate ref that can not be
// resolved is reported as CompareReferentGone instead of an error.
func (p *matcher) compare(ctx context.Context, op client.TxnOperator, candidate Value) (Comparison, error) {
	if p.value.kind == KindNull || candidate.kind == KindNull {
		if p.value.kind == candidate.kind {
			return CompareEqual, nil
		}
		return CompareNotEqual, nil
	}
	if p.value.kind == KindRef && candidate.kind == KindRef && p.value.ref == candidate.ref {
		return CompareEqual, nil
	}

	content := candidate.data
	if candidate.kind == KindRef {
		data, err := op.Read(ctx, candidate.ref)
		if moerr.IsMoErrCode(err, moerr.ErrReferentNotFound) {
			return CompareReferentGone, nil
		}
		if err != nil {
			return CompareNotEqual, err
		}
		content = data
	}
	if bytes.Equal(p.content, content) {
		return CompareEqual, nil
	}
	return CompareNotEqual, nil
}

// checkLive fails with ErrReferentNotFound if v is a ref to a deleted record.
func checkLive(ctx context.Context, op client.TxnOperator, v Value) error {
	if v.kind != KindRef {
		return nil
	}
	ok, err := op.Exists(ctx, v.ref)
	if err != nil {
		return err
	}
	if !ok {
		return moerr.NewReferentNotFound(ctx, uint64(v.ref))
	}
	return nil
}

// contentHash returns the hash of the content of v, resolving refs.
func contentHash(ctx context.Context, op client.TxnOperator, v Value) (uint64, error) {
	p, err := newMatcher(ctx, op, v)
	if err != nil {
		return 0, err
	}
	return p.hash, nil
}

func encodeCanonical(v any) (data []byte, err error) {
	defer func() {
		if e := recover(); e != nil {
			data, err = nil, moerr.ConvertPanicError(context.Background(), e)
		}
	}()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
