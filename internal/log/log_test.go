// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/exp/slog"
)

func TestLineHandler(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewContext(context.Background(), slog.New(NewLineHandler(&buf)))

	Infof(ctx, "memory monitor running: interval=%dms", 10)
	Warn(ctx, "GC thrashing detected", "fraction", 97.5)
	Errorf(ctx, errors.New("disk full"), "heap dump failed")

	got := buf.String()
	if n := strings.Count(got, "\n"); n != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", n, got)
	}
	for _, want := range []string{
		"INFO memory monitor running: interval=10ms",
		"WARN GC thrashing detected fraction=97.5",
		"ERROR heap dump failed",
		"disk full",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext of a bare context is not the default logger")
	}
}

func TestGCPReplaceAttr(t *testing.T) {
	for _, test := range []struct {
		key, want string
	}{
		{"msg", "message"},
		{"level", "severity"},
		{"traceID", "logging.googleapis.com/trace"},
		{"fraction", "fraction"},
	} {
		a := gcpReplaceAttr(nil, slog.String(test.key, "v"))
		if a.Key != test.want {
			t.Errorf("gcpReplaceAttr(%q) key = %q, want %q", test.key, a.Key, test.want)
		}
	}
}
