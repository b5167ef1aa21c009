// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package derrors defines internal error values to categorize the different
// types error semantics.
package derrors

import (
	"errors"
	"fmt"
	"runtime"

	"cloud.google.com/go/errorreporting"
)

//lint:file-ignore ST1012 prefixing error values with Err would stutter

var (
	// NotFound indicates that a requested entity was not found (HTTP 404).
	NotFound = errors.New("not found")

	// InvalidArgument indicates that the input into the request is invalid in
	// some way (HTTP 400).
	InvalidArgument = errors.New("invalid argument")

	// InvalidConfiguration indicates that the monitor or worker was
	// constructed with an unusable configuration, such as artifact upload
	// enabled without a destination.
	InvalidConfiguration = errors.New("invalid configuration")

	// DiagnosticIO indicates a failure to produce a diagnostic artifact:
	// the dump directory is missing or unwritable, or the dump mechanism
	// itself is unavailable.
	DiagnosticIO = errors.New("diagnostic I/O error")

	// UploadError is used to capture failures while copying a diagnostic
	// artifact to its remote destination. The local artifact is kept, so
	// the upload can be retried.
	UploadError = errors.New("artifact upload error")

	// ProfileInProgress indicates that a profiling capture was requested
	// while another capture was still running. Only one capture may be in
	// flight at a time.
	ProfileInProgress = errors.New("profiling capture already in progress")

	// BigQueryError is used to capture server errors returned by BigQuery.
	BigQueryError = errors.New("BigQuery error")
)

// Wrap adds context to the error and allows
// unwrapping the result to recover the original error.
//
// Example:
//
//	defer derrors.Wrap(&err, "DumpHeapTo(%s)", dir)
//
// See WrapStack for an equivalent function that also captures a stack trace.
func Wrap(errp *error, format string, args ...interface{}) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
	}
}

// WrapStack is like Wrap, but adds a stack trace if there isn't one already.
func WrapStack(errp *error, format string, args ...interface{}) {
	if *errp != nil {
		if se := (*StackError)(nil); !errors.As(*errp, &se) {
			*errp = NewStackError(*errp)
		}
		Wrap(errp, format, args...)
	}
}

// StackError wraps an error and adds a stack trace.
type StackError struct {
	Stack []byte
	err   error
}

// NewStackError returns a StackError, capturing a stack trace.
func NewStackError(err error) *StackError {
	// Limit the stack trace to 16K. Same value used in the errorreporting client,
	// cloud.google.com/go@v0.66.0/errorreporting/errors.go.
	var buf [16 * 1024]byte
	n := runtime.Stack(buf[:], false)
	return &StackError{
		err:   err,
		Stack: buf[:n],
	}
}

func (e *StackError) Error() string {
	return e.err.Error() // ignore the stack
}

func (e *StackError) Unwrap() error {
	return e.err
}

// WrapAndReport calls Wrap followed by Report.
func WrapAndReport(errp *error, format string, args ...interface{}) {
	Wrap(errp, format, args...)
	if *errp != nil {
		Report(*errp)
	}
}

var repClient *errorreporting.Client

// SetReportingClient sets an errorreporting client, for use by Report.
func SetReportingClient(c *errorreporting.Client) {
	repClient = c
}

// Report uses the errorreporting API to report an error.
func Report(err error) {
	if repClient != nil {
		repClient.Report(errorreporting.Entry{Error: err})
	}
}

// CategorizeError returns the category for a given error.
func CategorizeError(err error) string {
	switch {
	case errors.Is(err, InvalidConfiguration):
		return "CONFIG"
	case errors.Is(err, DiagnosticIO):
		return "DIAGNOSTIC IO"
	case errors.Is(err, UploadError):
		return "UPLOAD"
	case errors.Is(err, ProfileInProgress):
		return "PROFILE IN PROGRESS"
	case errors.Is(err, BigQueryError):
		return "BIGQUERY"
	}
	return ""
}
