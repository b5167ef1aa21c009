// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worker runs the HTTP surface of a memwatch worker: it hosts the
// memory monitor and exposes its state and diagnostic actions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/errorreporting"
	"github.com/google/safehtml/template"
	"golang.org/x/memwatch/internal/artifacts"
	"golang.org/x/memwatch/internal/bigquery"
	"golang.org/x/memwatch/internal/config"
	"golang.org/x/memwatch/internal/derrors"
	"golang.org/x/memwatch/internal/gcstats"
	"golang.org/x/memwatch/internal/log"
	"golang.org/x/memwatch/internal/monitor"
)

type Server struct {
	cfg      *config.Config
	bqClient *bigquery.Client
	monitor  *monitor.MemoryMonitor

	staticPath template.TrustedSource
	startTime  time.Time

	devMode   bool
	mu        sync.Mutex
	templates map[string]*template.Template
}

func NewServer(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	defer derrors.WrapAndReport(&err, "NewServer")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var bq *bigquery.Client
	if strings.EqualFold(cfg.BigQueryDataset, "disable") {
		log.Infof(ctx, "BigQuery disabled")
	} else {
		bq, err = bigquery.NewClientCreate(ctx, cfg.ProjectID, cfg.BigQueryDataset)
		if err != nil {
			return nil, err
		}
		created, err := bq.CreateOrUpdateTable(ctx, bigquery.EpisodeTableName)
		if err != nil {
			return nil, err
		}
		verb := "updated"
		if created {
			verb = "created"
		}
		log.Infof(ctx, "%s table %s in dataset %s", verb, bigquery.EpisodeTableName, bq.Dataset().DatasetID)
	}

	var uploader artifacts.Uploader
	if cfg.UploadDiagnostics {
		uploader, err = artifacts.ForDest(ctx, cfg.UploadDest)
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(cfg.DumpDir, 0755); err != nil {
		return nil, err
	}

	var sink monitor.EpisodeSink
	if bq != nil {
		sink = &bqEpisodeSink{client: bq}
	}
	m, err := monitor.New(monitor.Options{
		Provider:          gcstats.Runtime{},
		PollInterval:      cfg.PollInterval(),
		ThresholdPercent:  cfg.GCThrashingPercent,
		Enabled:           cfg.MonitorEnabled,
		UploadDiagnostics: cfg.UploadDiagnostics,
		Uploader:          uploader,
		DumpDir:           cfg.DumpDir,
		WorkerID:          cfg.WorkerID,
		ProfileDuration:   cfg.ProfileDuration,
		Episodes:          sink,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		bqClient:   bq,
		monitor:    m,
		devMode:    cfg.DevMode,
		staticPath: cfg.StaticPath,
		startTime:  time.Now(),
	}
	if err := s.loadTemplates(); err != nil {
		return nil, err
	}

	if cfg.UseErrorReporting {
		reportingClient, err := errorreporting.NewClient(ctx, cfg.ProjectID, errorreporting.Config{
			ServiceName: cfg.ServiceID,
			OnError: func(err error) {
				log.Errorf(ctx, err, "error reporting failed")
			},
		})
		if err != nil {
			return nil, err
		}
		derrors.SetReportingClient(reportingClient)
	}

	s.handle("/healthz", s.handleHealthz)
	s.handle("/dumpheap", s.handleDumpHeap)
	s.handle("/jfrprofile", s.handleJfrProfile)
	s.handle("/", s.handleIndexPage)
	return s, nil
}

// Monitor returns the server's memory monitor. The caller is responsible
// for running its poll loop.
func (s *Server) Monitor() *monitor.MemoryMonitor {
	return s.monitor
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(pattern string, handler handlerFunc) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		log.Infof(ctx, "starting %s", r.URL.Path)

		w2 := &responseWriter{ResponseWriter: w}
		if err := handler(w2, r); err != nil {
			derrors.Report(err)
			s.serveError(ctx, w2, r, err)
		}
		log.Infof(ctx, "request end: %s latency=%v status=%d",
			r.URL.Path, time.Since(start), translateStatus(w2.status))
	})
	http.Handle(pattern, h)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) error {
	fmt.Fprintln(w, "ok")
	return nil
}

// handleDumpHeap synchronously writes a heap dump and, if upload is
// enabled, copies it to the upload destination.
func (s *Server) handleDumpHeap(w http.ResponseWriter, r *http.Request) error {
	path, err := s.monitor.DumpHeap()
	if err != nil {
		return err
	}
	uploaded := s.monitor.TryUploadHeapDumpIfItExists(r.Context())
	fmt.Fprintf(w, "wrote %s (uploaded=%t)\n", path, uploaded)
	return nil
}

// handleJfrProfile starts a time-boxed profiling capture and waits for it
// to complete.
func (s *Server) handleJfrProfile(w http.ResponseWriter, r *http.Request) error {
	run := s.monitor.RunJfrProfileOnHeapThrashing(r.Context())
	if err := run.Wait(r.Context()); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s\n", run.Path())
	return nil
}

// bqEpisodeSink records thrashing episodes in BigQuery.
type bqEpisodeSink struct {
	client *bigquery.Client
}

func (s *bqEpisodeSink) RecordEpisode(ctx context.Context, e *monitor.Episode) {
	row := &bigquery.EpisodeRow{
		WorkerID:       e.WorkerID,
		StartedAt:      e.Start,
		EndedAt:        e.End,
		PeakGCFraction: e.PeakGCFraction,
	}
	if e.HeapDumpFile != "" {
		row.HeapDumpFile = bigquery.NullString(e.HeapDumpFile)
	}
	if err := s.client.WriteEpisode(ctx, row); err != nil {
		log.Errorf(ctx, err, "recording thrashing episode for %s", e.WorkerID)
	}
}

type serverError struct {
	status int   // HTTP status code
	err    error // wrapped error
}

func (s *serverError) Error() string {
	return fmt.Sprintf("%d (%s): %v", s.status, http.StatusText(s.status), s.err)
}

func (s *Server) serveError(ctx context.Context, w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, derrors.InvalidArgument) {
		err = &serverError{err: err, status: http.StatusBadRequest}
	}
	if errors.Is(err, derrors.NotFound) {
		err = &serverError{err: err, status: http.StatusNotFound}
	}
	if errors.Is(err, derrors.InvalidConfiguration) {
		err = &serverError{err: err, status: http.StatusPreconditionFailed}
	}
	if errors.Is(err, derrors.ProfileInProgress) {
		err = &serverError{err: err, status: http.StatusConflict}
	}
	serr, ok := err.(*serverError)
	if !ok {
		serr = &serverError{status: http.StatusInternalServerError, err: err}
	}
	if serr.status == http.StatusInternalServerError {
		log.Errorf(ctx, serr.err, "internal server error")
	} else if cat := derrors.CategorizeError(serr.err); cat != "" {
		log.Warnf(ctx, "returning %d for %s error: %v", serr.status, cat, serr.err)
	} else {
		log.Warnf(ctx, "returning %v", err)
	}
	http.Error(w, serr.err.Error(), serr.status)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func translateStatus(code int) int64 {
	if code == 0 {
		return http.StatusOK
	}
	return int64(code)
}

var locNewYork *time.Location

func init() {
	var err error
	locNewYork, err = time.LoadLocation("America/New_York")
	if err != nil {
		log.Errorf(context.Background(), err, "time.LoadLocation")
		os.Exit(1)
	}
}

// FormatTime formats a time for the status page.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(locNewYork).Format("2006-01-02 15:04:05")
}
