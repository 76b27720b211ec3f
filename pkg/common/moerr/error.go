// Copyright 2021 - 2022 Matrix Origin
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
)

const (
	// 0 - 99 is OK. They do not contain info.
	Ok uint16 = 0

	OkMax uint16 = 99

	// Group 1: Internal errors
	ErrStart    uint16 = 20100
	ErrInternal uint16 = 20101

	// Group 2: arguments
	ErrInvalidArg uint16 = 20203

	// Group 3: invalid input
	ErrBadConfig uint16 = 20300

	// Group 4: unexpected state and io errors
	ErrInvalidState         uint16 = 20400
	ErrUnexpectedEOF        uint16 = 20407
	ErrInvalidTask          uint16 = 20427
	ErrReferentNotFound     uint16 = 20470
	ErrInvalidIteratorState uint16 = 20471
	ErrNoSuchElement        uint16 = 20472

	// Group 5: txn
	ErrTxnClosed          uint16 = 20600
	ErrTxnWriteConflict   uint16 = 20601
	ErrTxnBudgetExceeded  uint16 = 20602
	ErrTxnError           uint16 = 20603
	ErrTaskExecutorAbsent uint16 = 20604

	// ErrEnd, the max value of MOErrorCode
	ErrEnd uint16 = 65535
)

var errorMsgRefer = map[uint16]string{
	ErrStart:    "internal error: error code start",
	ErrInternal: "internal error: %s",

	ErrInvalidArg: "invalid argument %s, bad value %s",

	ErrBadConfig: "invalid configuration: %s",

	ErrInvalidState:         "invalid state %s",
	ErrUnexpectedEOF:        "unexpected end of file %s",
	ErrInvalidTask:          "invalid task, task runner %s, id %s",
	ErrReferentNotFound:     "referent %d not found",
	ErrInvalidIteratorState: "invalid iterator state: %s",
	ErrNoSuchElement:        "no such element: %s",

	ErrTxnClosed:          "the transaction %s has been committed or aborted",
	ErrTxnWriteConflict:   "txn write conflict %s",
	ErrTxnBudgetExceeded:  "txn %s exceeded its work budget of %d records",
	ErrTxnError:           "transaction error: %s",
	ErrTaskExecutorAbsent: "executor with code %d not exists",

	ErrEnd: "internal error: end of errcode code",
}

func newError(ctx context.Context, code uint16, args ...any) *Error {
	format, has := errorMsgRefer[code]
	if !has {
		panic(NewInternalError(ctx, "not exist MOErrorCode: %d", code))
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{
		code:    code,
		message: msg,
	}
}

type Error struct {
	code    uint16
	message string
	detail  string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Detail() string {
	return e.detail
}

func (e *Error) Display() string {
	if len(e.detail) == 0 {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.detail)
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) Succeeded() bool {
	return e.code < OkMax
}

// IsMoErrCode reports whether err (or an error it wraps) carries the code rc.
func IsMoErrCode(e error, rc uint16) bool {
	if e == nil {
		return rc == Ok
	}

	var me *Error
	if !errors.As(e, &me) {
		// This is not a moerr
		return false
	}
	return me.code == rc
}

// ConvertPanicError converts a runtime panic to internal error.
func ConvertPanicError(ctx context.Context, v interface{}) *Error {
	if e, ok := v.(*Error); ok {
		return e
	}
	return newError(ctx, ErrInternal, fmt.Sprintf("panic %v", v))
}

// ConvertGoError converts a go error into mo error.
// Note here we must return error, because nil error
// is the same as nil *Error -- Go strangeness.
func ConvertGoError(ctx context.Context, err error) error {
	// nil is nil
	if err == nil {
		return err
	}

	// already a moerr, return it as is
	if _, ok := err.(*Error); ok {
		return err
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// if io.EOF reaches here, we believe it is not expected.
		return NewUnexpectedEOF(ctx, err.Error())
	}

	return NewInternalError(ctx, "convert go error to mo error %v", err)
}

func NewInternalError(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInternal, xmsg)
}

func NewInvalidArg(ctx context.Context, arg string, val any) *Error {
	return newError(ctx, ErrInvalidArg, arg, fmt.Sprintf("%v", val))
}

func NewBadConfig(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrBadConfig, xmsg)
}

func NewInvalidState(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidState, xmsg)
}

func NewUnexpectedEOF(ctx context.Context, f string) *Error {
	return newError(ctx, ErrUnexpectedEOF, f)
}

func NewInvalidTask(ctx context.Context, runner string, id string) *Error {
	return newError(ctx, ErrInvalidTask, runner, id)
}

func NewReferentNotFound(ctx context.Context, id uint64) *Error {
	return newError(ctx, ErrReferentNotFound, id)
}

func NewInvalidIteratorState(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidIteratorState, xmsg)
}

func NewNoSuchElement(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNoSuchElement, xmsg)
}

func NewTxnClosed(ctx context.Context, txnID string) *Error {
	return newError(ctx, ErrTxnClosed, txnID)
}

func NewTxnWriteConflict(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrTxnWriteConflict, xmsg)
}

func NewTxnBudgetExceeded(ctx context.Context, txnID string, budget int) *Error {
	return newError(ctx, ErrTxnBudgetExceeded, txnID, budget)
}

func NewTxnError(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrTxnError, xmsg)
}

func NewTaskExecutorAbsent(ctx context.Context, code uint32) *Error {
	return newError(ctx, ErrTaskExecutorAbsent, code)
}
