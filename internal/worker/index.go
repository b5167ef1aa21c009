// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worker

import (
	"net/http"
	"time"

	"golang.org/x/memwatch/internal/bigquery"
	"golang.org/x/memwatch/internal/derrors"
	"golang.org/x/memwatch/internal/gcstats"
	"golang.org/x/memwatch/internal/log"
)

type IndexPage struct {
	WorkerID       string
	Uptime         time.Duration
	Thrashing      bool
	HeapAllocBytes uint64
	NumGC          int64
	DumpDir        string
	Episodes       []*bigquery.EpisodeRow
}

func (s *Server) handleIndexPage(w http.ResponseWriter, r *http.Request) error {
	if r.URL.Path != "/" {
		return derrors.NotFound
	}
	tmpl, err := s.maybeLoadTemplate(indexTemplate)
	if err != nil {
		return err
	}
	return renderPage(r.Context(), w, s.createIndexPage(r), tmpl)
}

func (s *Server) createIndexPage(r *http.Request) *IndexPage {
	page := &IndexPage{
		WorkerID:       s.cfg.WorkerID,
		Uptime:         time.Since(s.startTime).Round(time.Second),
		Thrashing:      s.monitor.IsThrashing(),
		HeapAllocBytes: gcstats.CurrHeapUsage(),
		NumGC:          gcstats.NumGC(),
		DumpDir:        s.cfg.DumpDir,
	}
	if s.bqClient != nil {
		eps, err := s.bqClient.ReadLatestEpisodes(r.Context())
		if err != nil {
			// The page is still useful without episode history.
			log.Errorf(r.Context(), err, "reading latest episodes")
		} else {
			page.Episodes = eps
		}
	}
	return page
}
