// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bigquery

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestEpisodeTableRegistered(t *testing.T) {
	if TableSchema(EpisodeTableName) == nil {
		t.Fatalf("no schema registered for %q", EpisodeTableName)
	}
	found := false
	for _, id := range Tables() {
		if id == EpisodeTableName {
			found = true
		}
	}
	if !found {
		t.Errorf("Tables() does not include %q", EpisodeTableName)
	}
}

func TestEpisodeSetUploadTime(t *testing.T) {
	e := &EpisodeRow{WorkerID: "w1"}
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	e.SetUploadTime(now)
	if !e.InsertedAt.Equal(now) {
		t.Errorf("InsertedAt = %v, want %v", e.InsertedAt, now)
	}
}

func TestEpisodeStamp(t *testing.T) {
	e := &EpisodeRow{
		WorkerID:     "w1",
		StartedAt:    time.Date(2023, 6, 1, 23, 59, 0, 0, time.UTC),
		HeapDumpFile: NullString("/tmp/memwatch/dump.hprof"),
	}
	e.stamp()
	if want := (civil.Date{Year: 2023, Month: time.June, Day: 1}); e.Day != want {
		t.Errorf("Day = %v, want %v", e.Day, want)
	}
	if want := SchemaVersion(TableSchema(EpisodeTableName)); e.SchemaVersion != want {
		t.Errorf("SchemaVersion = %q, want %q", e.SchemaVersion, want)
	}
	if !e.HeapDumpFile.Valid {
		t.Error("HeapDumpFile built by NullString is not valid")
	}
}
