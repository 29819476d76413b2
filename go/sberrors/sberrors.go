// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sberrors defines the bridge's error taxonomy. Every failure is
// assigned a stable code so callers and logs can tell connection failures,
// execution failures, transaction-state misuse, and internal faults apart.
// Across the native boundary errors travel as flat text; the code survives
// inside the message.
package sberrors

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code string

const (
	// CodeConnection covers malformed connection strings and
	// authentication or network failures during connect.
	CodeConnection Code = "SB01000"

	// CodeExecution covers server-side statement failures: malformed SQL,
	// constraint violations, type-mapping failures.
	CodeExecution Code = "SB02000"

	// CodeTransaction covers transaction-state misuse: begin while a
	// transaction is already open, commit or rollback with none open.
	CodeTransaction Code = "SB03000"

	// CodeInternal covers faults inside the bridge itself, including
	// recovered panics in the execution worker.
	CodeInternal Code = "SB04000"
)

// Error is a coded error. It wraps an underlying cause when there is one.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a coded error with a fixed message.
func New(code Code, msg string) error {
	return &Error{Code: code, Err: errors.New(msg)}
}

// Errorf returns a coded error with a formatted message. The format
// specifiers support %w wrapping.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a code to an existing error. Returns nil for a nil error;
// an already-coded error keeps its original code.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the code from an error, or CodeInternal when the error
// carries none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
