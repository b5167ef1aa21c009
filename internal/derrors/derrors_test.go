// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package derrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	var err error = fmt.Errorf("%w: no such directory", DiagnosticIO)
	Wrap(&err, "DumpHeapTo(%q)", "/bad/dir")
	if got, want := err.Error(), `DumpHeapTo("/bad/dir"): diagnostic I/O error: no such directory`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(err, DiagnosticIO) {
		t.Error("wrapped error lost its category")
	}

	// Wrap must leave a nil error alone.
	err = nil
	Wrap(&err, "whatever")
	if err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestWrapStack(t *testing.T) {
	var err error = errors.New("bad")
	WrapStack(&err, "outer")
	var se *StackError
	if !errors.As(err, &se) {
		t.Fatal("no StackError in chain")
	}
	if len(se.Stack) == 0 {
		t.Error("empty stack trace")
	}

	// A second WrapStack must not add another StackError.
	before := se
	WrapStack(&err, "outer2")
	var se2 *StackError
	if !errors.As(err, &se2) {
		t.Fatal("no StackError in chain after second wrap")
	}
	if se2 != before {
		t.Error("second WrapStack added a new StackError")
	}
}

func TestCategorizeError(t *testing.T) {
	for _, test := range []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", InvalidConfiguration), "CONFIG"},
		{fmt.Errorf("x: %w", DiagnosticIO), "DIAGNOSTIC IO"},
		{fmt.Errorf("x: %w", UploadError), "UPLOAD"},
		{ProfileInProgress, "PROFILE IN PROGRESS"},
		{fmt.Errorf("x: %w", BigQueryError), "BIGQUERY"},
		{errors.New("unrelated"), ""},
	} {
		if got := CategorizeError(test.err); got != test.want {
			t.Errorf("CategorizeError(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}
