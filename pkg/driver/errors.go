// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package driver

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies driver errors
type Code int

// Code values
const (
	CodeBackendAPI Code = iota
	CodeNotFound
	CodeInvalidInput
	CodeNotSupported
	CodeTimeout
	CodeAuth
	CodeBusy
	CodeCapacity
)

var codeNames = map[Code]string{
	CodeBackendAPI:   "BackendAPI",
	CodeNotFound:     "NotFound",
	CodeInvalidInput: "InvalidInput",
	CodeNotSupported: "NotSupported",
	CodeTimeout:      "Timeout",
	CodeAuth:         "Auth",
	CodeBusy:         "Busy",
	CodeCapacity:     "Capacity",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return codeNames[CodeBackendAPI]
}

// Error is returned by drivers
type Error struct {
	Code       Code
	Op         string
	Backend    string
	VendorCode string
	Message    string
	Err        error
}

// Sentinel errors for use with errors.Is; they match any Error with the same code
var (
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrNotSupported = &Error{Code: CodeNotSupported}
	ErrTimeout      = &Error{Code: CodeTimeout}
	ErrBusy         = &Error{Code: CodeBusy}
	ErrCapacity     = &Error{Code: CodeCapacity}
)

// NewError returns an Error
func NewError(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Message: msg}
}

// WrapError returns an Error wrapping err
func WrapError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Backend != "" {
		b.WriteString(e.Backend)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" && e.Err == nil {
		msg = e.Code.String()
	}
	b.WriteString(msg)
	if e.VendorCode != "" {
		fmt.Fprintf(&b, " (code %s)", e.VendorCode)
	}
	if e.Err != nil {
		if msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel errors by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Message == "" && t.Err == nil
}

// WithBackend sets the backend name if the error is an Error
func WithBackend(err error, backend string) error {
	var e *Error
	if errors.As(err, &e) && e.Backend == "" {
		e.Backend = backend
	}
	return err
}

// CodeOf returns the code of a driver error; other errors are BackendAPI
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeBackendAPI
}

// IsNotFound reports whether err is a NotFound driver error
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the operation may succeed if repeated
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeBusy, CodeTimeout:
		return true
	}
	return false
}
