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

package moerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMoErrCode(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		err      error
		code     uint16
		expected bool
	}{
		{
			name:     "nil error is ok",
			err:      nil,
			code:     Ok,
			expected: true,
		},
		{
			name:     "nil error is not a failure",
			err:      nil,
			code:     ErrInternal,
			expected: false,
		},
		{
			name:     "referent not found",
			err:      NewReferentNotFound(ctx, 42),
			code:     ErrReferentNotFound,
			expected: true,
		},
		{
			name:     "wrapped moerr",
			err:      fmt.Errorf("wrap: %w", NewInvalidIteratorState(ctx, "remove twice")),
			code:     ErrInvalidIteratorState,
			expected: true,
		},
		{
			name:     "different code",
			err:      NewInvalidArgNoCtx("key", "chan"),
			code:     ErrReferentNotFound,
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("some error"),
			code:     ErrInternal,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsMoErrCode(tt.err, tt.code))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, "referent 7 not found", NewReferentNotFound(ctx, 7).Error())
	require.Equal(t, "invalid argument split-threshold, bad value 0", NewInvalidArg(ctx, "split-threshold", 0).Error())
	require.Equal(t, "txn abc exceeded its work budget of 10 records", NewTxnBudgetExceeded(ctx, "abc", 10).Error())
}

func TestConvertGoError(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, ConvertGoError(ctx, nil))

	me := NewInvalidStateNoCtx("x")
	require.Equal(t, error(me), ConvertGoError(ctx, me))

	require.True(t, IsMoErrCode(ConvertGoError(ctx, io.EOF), ErrUnexpectedEOF))
	require.True(t, IsMoErrCode(ConvertGoError(ctx, errors.New("boom")), ErrInternal))
}

func TestConvertPanicError(t *testing.T) {
	ctx := context.Background()
	me := NewInternalErrorNoCtx("inner")
	require.Equal(t, me, ConvertPanicError(ctx, me))
	require.Equal(t, ErrInternal, ConvertPanicError(ctx, "boom").ErrorCode())
}

func TestCodeTable(t *testing.T) {
	codes := []uint16{
		ErrInternal, ErrInvalidArg, ErrBadConfig,
		ErrInvalidState, ErrUnexpectedEOF, ErrInvalidTask,
		ErrReferentNotFound, ErrInvalidIteratorState, ErrNoSuchElement,
		ErrTxnClosed, ErrTxnWriteConflict, ErrTxnBudgetExceeded,
		ErrTxnError, ErrTaskExecutorAbsent,
	}
	// every code has a message, and the table holds nothing else
	require.Len(t, errorMsgRefer, len(codes)+2)
	for _, code := range codes {
		msg, ok := errorMsgRefer[code]
		require.True(t, ok, "code %d", code)
		assert.NotEmpty(t, msg)
		assert.True(t, code > ErrStart && code < ErrEnd)
	}
}
