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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case matchError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

// IsRetryableErr 判断错误是否可以重试，包装过的错误按其根因判断。
func IsRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if merr, ok := errors.Cause(err).(matchError); ok {
		return merr.retriable
	}
	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(matchError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

func GetErrorType(err error) ErrorType {
	if merr, ok := err.(matchError); ok {
		return merr.errType
	}

	return SystemError
}

// Service 相关错误封装。
func WrapErrServiceNotReady(role string, state string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceNotReady,
		state,
		value("role", role),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceUnavailable, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Provider 相关错误封装。
func WrapErrProviderUnavailable(op string, msg ...string) error {
	err := wrapFields(ErrProviderUnavailable, value("op", op))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrProviderUnknown(kind string, msg ...string) error {
	err := wrapFields(ErrProviderUnknown, value("kind", kind))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Session 相关错误封装。
func WrapErrSessionExists(name string, msg ...string) error {
	return wrapSessionErr(ErrSessionExists, name, msg...)
}

func WrapErrSessionNotFound(name string, msg ...string) error {
	return wrapSessionErr(ErrSessionNotFound, name, msg...)
}

func WrapErrSessionFull(sessionID string, open, max uint32) error {
	return wrapFields(ErrSessionFull,
		value("session", sessionID),
		value("open", open),
		value("max", max),
	)
}

func WrapErrSessionNotJoinable(sessionID string, reason string) error {
	return wrapFieldsWithDesc(ErrSessionNotJoinable, reason, value("session", sessionID))
}

func WrapErrSessionStateInvalid(name string, expected, actual any) error {
	return wrapFields(ErrSessionStateInvalid,
		value("session", name),
		value("expected", expected),
		value("actual", actual),
	)
}

func WrapErrSessionConflict(sessionID string, msg ...string) error {
	return wrapSessionErr(ErrSessionConflict, sessionID, msg...)
}

func WrapErrAlreadyInSession(name string, msg ...string) error {
	return wrapSessionErr(ErrAlreadyInSession, name, msg...)
}

func WrapErrNoAddress(name string, msg ...string) error {
	return wrapSessionErr(ErrNoAddress, name, msg...)
}

func wrapSessionErr(mErr matchError, name string, msg ...string) error {
	err := wrapFields(mErr, value("session", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Request 相关错误封装。
func WrapErrRequestInFlight(op string, name string) error {
	return wrapFields(ErrRequestInFlight, value("op", op), value("session", name))
}

// IO 相关错误封装。
func WrapErrIoKeyNotFound(key string, msg ...string) error {
	err := wrapFields(ErrIoKeyNotFound, value("key", key))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

func WrapErrIoFailedReason(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrIoFailed, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Parameter 相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidRange[T any](lower, upper, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		bound("value", actual, lower, upper),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrOperationNotSupported(op string, msg ...string) error {
	err := wrapFields(ErrOperationNotSupported, value("op", op))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err matchError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	return err
}

func wrapFieldsWithDesc(err matchError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
