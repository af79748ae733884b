// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperr defines the error taxonomy shared by every layer of the
// daemon. Transport layers (HTTP, the tool-calling protocol) map a Code to
// their own status representation; nothing below the transport layer needs
// to know about HTTP status codes or RPC error shapes.
package apperr

import "fmt"

// Code identifies a class of failure.
type Code string

const (
	NotFound       Code = "not_found"
	AlreadyExists  Code = "already_exists"
	Unauthorized   Code = "unauthorized"
	Invalid        Code = "invalid"
	Conflict       Code = "conflict"
	BackendFailure Code = "backend_failure"
	Timeout        Code = "timeout"
	Transient      Code = "transient"
)

// Error is a coded, wrapped error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a coded error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a coded error wrapping an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, defaulting to Transient for untyped
// errors since those are, by construction, unexpected I/O hiccups.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if asError(err, &appErr) {
		return appErr.Code
	}
	return Transient
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func IsNotFound(err error) bool      { return CodeOf(err) == NotFound }
func IsAlreadyExists(err error) bool { return CodeOf(err) == AlreadyExists }
func IsInvalid(err error) bool       { return CodeOf(err) == Invalid }
func IsConflict(err error) bool      { return CodeOf(err) == Conflict }
