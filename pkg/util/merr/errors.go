// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一定义在这里。
// WARN: 新增错误前请先确认下面已有的错误是否可以复用。
// 命名规则：Err + 相关前缀 + 错误名
var (
	// Service 相关
	ErrServiceNotReady    = newMatchError("service not ready", 1, true)
	ErrServiceUnavailable = newMatchError("service unavailable", 2, true)
	ErrServiceInternal    = newMatchError("service internal error", 5, false)

	// Provider 相关
	ErrProviderUnavailable = newMatchError("online provider unavailable", 100, false)
	ErrProviderUnknown     = newMatchError("unknown online provider", 101, false)

	// Session 相关
	ErrSessionExists       = newMatchError("session already exists", 200, false)
	ErrSessionNotFound     = newMatchError("session not found", 201, false)
	ErrSessionFull         = newMatchError("session is full", 202, false)
	ErrSessionNotJoinable  = newMatchError("session not joinable", 203, false)
	ErrSessionStateInvalid = newMatchError("session state invalid", 204, false)
	ErrSessionConflict     = newMatchError("session modified concurrently", 205, true)
	ErrAlreadyInSession    = newMatchError("already in session", 206, false)
	ErrNoAddress           = newMatchError("could not retrieve session address", 207, false)

	// Request 相关
	ErrRequestInFlight = newMatchError("request already in flight", 300, false)

	// IO 相关
	ErrIoKeyNotFound = newMatchError("key not found", 1000, false)
	ErrIoFailed      = newMatchError("IO failed", 1001, true)

	// Parameter 相关
	ErrParameterInvalid = newMatchError("invalid parameter", 1100, false)
	ErrParameterMissing = newMatchError("missing parameter", 1101, false)

	// 不要导出，仅用于把未知错误转换成 matchError
	errUnexpected = newMatchError("unexpected error", (1<<16)-1, false)

	// General
	ErrOperationNotSupported = newMatchError("unsupported operation", 3000, false)
)

type errorOption func(*matchError)

func WithErrorType(etype ErrorType) errorOption {
	return func(err *matchError) {
		err.errType = etype
	}
}

type matchError struct {
	msg       string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newMatchError(msg string, code int32, retriable bool, options ...errorOption) matchError {
	err := matchError{
		msg:       msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e matchError) code() int32 {
	return e.errCode
}

func (e matchError) Error() string {
	return e.msg
}

func (e matchError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(matchError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
