// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Track GC thrashing episodes observed by worker memory monitors.

package bigquery

import (
	"context"
	"time"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"golang.org/x/memwatch/internal/derrors"
)

const EpisodeTableName = "episodes"

// An EpisodeRow is one contiguous period of GC thrashing on one worker.
type EpisodeRow struct {
	WorkerID       string        `bigquery:"worker_id"`
	Day            civil.Date    `bigquery:"day"` // day the episode started, for partitioning
	StartedAt      time.Time     `bigquery:"started_at"`
	EndedAt        time.Time     `bigquery:"ended_at"`
	PeakGCFraction float64       `bigquery:"peak_gc_fraction"`
	HeapDumpFile   bq.NullString `bigquery:"heap_dump_file"` // null if the dump failed
	SchemaVersion  string        `bigquery:"schema_version"`
	InsertedAt     time.Time     `bigquery:"inserted_at"`
}

func init() {
	s, err := bq.InferSchema(EpisodeRow{})
	if err != nil {
		panic(err)
	}
	AddTable(EpisodeTableName, s)
}

// SetUploadTime is used by Client.Upload.
func (e *EpisodeRow) SetUploadTime(t time.Time) { e.InsertedAt = t }

// stamp fills the columns derived from the episode itself.
func (e *EpisodeRow) stamp() {
	e.Day = civil.DateOf(e.StartedAt)
	e.SchemaVersion = SchemaVersion(TableSchema(EpisodeTableName))
}

// WriteEpisode uploads one thrashing episode.
func (c *Client) WriteEpisode(ctx context.Context, e *EpisodeRow) (err error) {
	defer derrors.Wrap(&err, "WriteEpisode(%q)", e.WorkerID)
	e.stamp()
	return c.Upload(ctx, EpisodeTableName, e)
}

// ReadLatestEpisodes returns the most recent thrashing episode for each
// worker.
func (c *Client) ReadLatestEpisodes(ctx context.Context) (_ []*EpisodeRow, err error) {
	defer derrors.Wrap(&err, "ReadLatestEpisodes")
	q := PartitionQuery{
		Table:       c.FullTableName(EpisodeTableName),
		PartitionOn: "worker_id",
		OrderBy:     "ended_at DESC",
	}
	iter, err := c.Query(ctx, q.String())
	if err != nil {
		return nil, err
	}
	return All[EpisodeRow](iter)
}
