// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFilename(t *testing.T) {
	at := time.Date(2022, 1, 1, 1, 2, 3, 0, time.UTC)
	for _, test := range []struct {
		kind Kind
		n    int64
		want string
	}{
		{HeapDump, 1, "20220101010203-heap_dump-w1-1.hprof"},
		{Profile, 7, "20220101010203-jfr_profile-w1-7.jfr"},
	} {
		got := Filename(at, test.kind, "w1", test.n)
		if got != test.want {
			t.Errorf("Filename(%v, %d): got %q, want %q", test.kind, test.n, got, test.want)
		}
	}
}

func TestCutGSPath(t *testing.T) {
	for _, test := range []struct {
		dest           string
		bucket, prefix string
		ok             bool
	}{
		{"gs://bucket/dumps/prod", "bucket", "dumps/prod", true},
		{"gs://bucket", "bucket", "", true},
		{"gs://", "", "", false},
		{"/tmp/dumps", "", "", false},
		{"", "", "", false},
	} {
		bucket, prefix, ok := cutGSPath(test.dest)
		if bucket != test.bucket || prefix != test.prefix || ok != test.ok {
			t.Errorf("cutGSPath(%q) = %q, %q, %t; want %q, %q, %t",
				test.dest, bucket, prefix, ok, test.bucket, test.prefix, test.ok)
		}
	}
}

func TestDirUploader(t *testing.T) {
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "local.hprof")
	contents := []byte("heap snapshot bytes")
	if err := os.WriteFile(local, contents, 0644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "remote")

	u, err := ForDest(ctx, dest)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Upload(ctx, local, "copy.hprof"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "copy.hprof"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(contents, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
	// The local artifact stays put for retries.
	if _, err := os.Stat(local); err != nil {
		t.Error(err)
	}
}

func TestForDestEmpty(t *testing.T) {
	if _, err := ForDest(context.Background(), ""); err == nil {
		t.Error("ForDest(\"\") succeeded, want error")
	}
}
