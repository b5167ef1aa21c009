// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor implements a background watchdog for GC thrashing.
//
// A MemoryMonitor polls cumulative garbage-collection time at a fixed
// interval and compares the fraction of wall-clock time spent in GC against
// a configured threshold. While the fraction is at or above the threshold
// the worker is considered to be thrashing: goroutines that call
// WaitForResources block until the condition clears. On the transition into
// thrashing the monitor captures diagnostic artifacts (a heap dump, and
// optionally a time-boxed execution profile) and uploads them to the
// configured destination.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/memwatch/internal/artifacts"
	"golang.org/x/memwatch/internal/derrors"
	"golang.org/x/memwatch/internal/log"
)

// A GCStatsProvider reports cumulative garbage-collection time.
// Implementations must be monotonically non-decreasing.
type GCStatsProvider interface {
	TotalGCTimeMilliseconds() int64
}

// A Clock supplies the current time, so tests can fix it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock { return fixedClock{t} }

// An EpisodeSink records completed thrashing episodes.
type EpisodeSink interface {
	RecordEpisode(ctx context.Context, e *Episode)
}

// An Episode describes one contiguous period of GC thrashing.
type Episode struct {
	WorkerID       string
	Start, End     time.Time
	PeakGCFraction float64 // percent of wall time spent in GC at the worst poll
	HeapDumpFile   string  // local path of the dump taken at the start, if any
}

// Options configures a MemoryMonitor.
type Options struct {
	// Provider is the source of cumulative GC time. Required.
	Provider GCStatsProvider

	// PollInterval is the time between GC statistics polls. Required.
	PollInterval time.Duration

	// ThresholdPercent is the maximum share of each poll interval that may
	// be spent in GC before the monitor declares thrashing. Required.
	ThresholdPercent float64

	// Enabled determines whether the monitor tracks thrashing at all.
	// A disabled monitor stops its poll loop immediately and never blocks
	// callers.
	Enabled bool

	// UploadDiagnostics enables copying diagnostic artifacts to Uploader.
	UploadDiagnostics bool

	// Uploader receives diagnostic artifacts. Required if UploadDiagnostics
	// is set.
	Uploader artifacts.Uploader

	// DumpDir is the local directory for diagnostic artifacts. Required.
	DumpDir string

	// WorkerID identifies this worker in artifact names.
	WorkerID string

	// ProfileDuration bounds the execution-profile capture triggered on a
	// thrashing transition. Zero disables profiling capture.
	ProfileDuration time.Duration

	// Clock supplies the current time for poll measurement and artifact
	// naming. Defaults to the system clock.
	Clock Clock

	// Episodes, if non-nil, receives a record for each completed thrashing
	// episode.
	Episodes EpisodeSink
}

// MemoryMonitor is a watchdog for sustained GC pressure. Create one with
// New, run its poll loop on a dedicated goroutine with Run, and stop it
// with Stop.
type MemoryMonitor struct {
	opts Options

	stopOnce sync.Once
	stopc    chan struct{}

	mu            sync.Mutex
	cond          *sync.Cond
	running       bool
	thrashing     bool
	lastGCTimeMS  int64
	lastPoll      time.Time
	lastDump      string // most recent local heap dump not yet uploaded
	episodeStart  time.Time
	episodeDump   string
	peakFraction  float64
	profileActive bool
}

// artifactSeq disambiguates artifact names created within the same clock
// second, including by distinct monitors sharing a dump directory.
var artifactSeq atomic.Int64

// New creates a MemoryMonitor. The poll loop does not start until Run is
// called. New fails with derrors.InvalidConfiguration if a required option
// is missing, in particular if diagnostic upload is enabled without an
// uploader.
func New(opts Options) (_ *MemoryMonitor, err error) {
	defer derrors.Wrap(&err, "monitor.New")
	if opts.Provider == nil {
		return nil, fmt.Errorf("%w: missing GC stats provider", derrors.InvalidConfiguration)
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("%w: poll interval must be positive", derrors.InvalidConfiguration)
	}
	if opts.ThresholdPercent <= 0 || opts.ThresholdPercent > 100 {
		return nil, fmt.Errorf("%w: threshold percent must be in (0, 100]", derrors.InvalidConfiguration)
	}
	if opts.DumpDir == "" {
		return nil, fmt.Errorf("%w: missing dump directory", derrors.InvalidConfiguration)
	}
	if opts.UploadDiagnostics && opts.Uploader == nil {
		return nil, fmt.Errorf("%w: diagnostic upload enabled without a destination", derrors.InvalidConfiguration)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	m := &MemoryMonitor{
		opts:  opts,
		stopc: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m, nil
}

// Run executes the poll loop. It should be called on a dedicated goroutine
// and returns when Stop is called, ctx is canceled, or the monitor is
// disabled. A disabled monitor marks itself running, so WaitForRunning
// still returns, and then exits without ever declaring thrashing.
func (m *MemoryMonitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.lastGCTimeMS = m.opts.Provider.TotalGCTimeMilliseconds()
	m.lastPoll = m.opts.Clock.Now()
	m.cond.Broadcast()
	m.mu.Unlock()

	if !m.opts.Enabled {
		log.Infof(ctx, "memory monitor disabled; stopping")
		return
	}
	log.Infof(ctx, "memory monitor running: interval=%v threshold=%.1f%%",
		m.opts.PollInterval, m.opts.ThresholdPercent)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopc:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Stop signals the poll loop to exit after its current iteration. It is
// idempotent and does not interrupt an in-flight diagnostic action.
func (m *MemoryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopc) })
}

// poll reads GC statistics once and updates the thrashing state.
func (m *MemoryMonitor) poll(ctx context.Context) {
	gcTimeMS := m.opts.Provider.TotalGCTimeMilliseconds()
	now := m.opts.Clock.Now()

	m.mu.Lock()
	elapsedMS := float64(now.Sub(m.lastPoll)) / float64(time.Millisecond)
	if elapsedMS <= 0 {
		// A fixed or backward clock; record the reading and wait for the
		// next interval.
		m.lastGCTimeMS = gcTimeMS
		m.lastPoll = now
		m.mu.Unlock()
		return
	}
	deltaGC := gcTimeMS - m.lastGCTimeMS
	if deltaGC < 0 {
		deltaGC = 0
	}
	fraction := 100 * float64(deltaGC) / elapsedMS
	wasThrashing := m.thrashing
	isThrashing := fraction >= m.opts.ThresholdPercent
	m.thrashing = isThrashing
	m.lastGCTimeMS = gcTimeMS
	m.lastPoll = now
	if isThrashing {
		if !wasThrashing {
			m.episodeStart = now
			m.peakFraction = 0
		}
		if fraction > m.peakFraction {
			m.peakFraction = fraction
		}
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	switch {
	case isThrashing && !wasThrashing:
		log.Warnf(ctx, "GC thrashing detected: %.1f%% of the last %.0fms spent in GC", fraction, elapsedMS)
		m.onThrashingStart(ctx)
	case !isThrashing && wasThrashing:
		log.Infof(ctx, "GC thrashing cleared: %.1f%% of the last %.0fms spent in GC", fraction, elapsedMS)
		m.onThrashingEnd(ctx, now)
	}
}

// onThrashingStart fires the diagnostic side effects for a Normal→Thrashing
// transition. Failures are logged, never propagated; a diagnostic problem
// must not kill the monitor.
func (m *MemoryMonitor) onThrashingStart(ctx context.Context) {
	dump, err := m.DumpHeap()
	if err != nil {
		log.Errorf(ctx, err, "heap dump on thrashing failed")
	} else {
		log.Infof(ctx, "wrote heap dump %s", dump)
		m.mu.Lock()
		m.episodeDump = dump
		m.mu.Unlock()
		m.TryUploadHeapDumpIfItExists(ctx)
	}
	if m.opts.ProfileDuration > 0 {
		run := m.RunJfrProfileOnHeapThrashing(ctx)
		go func() {
			if err := run.Wait(ctx); err != nil {
				log.Errorf(ctx, err, "profiling capture on thrashing failed")
			} else {
				log.Infof(ctx, "wrote profiling capture %s", run.Path())
			}
		}()
	}
}

// onThrashingEnd records the completed episode.
func (m *MemoryMonitor) onThrashingEnd(ctx context.Context, end time.Time) {
	if m.opts.Episodes == nil {
		return
	}
	m.mu.Lock()
	e := &Episode{
		WorkerID:       m.opts.WorkerID,
		Start:          m.episodeStart,
		End:            end,
		PeakGCFraction: m.peakFraction,
		HeapDumpFile:   m.episodeDump,
	}
	m.episodeDump = ""
	m.mu.Unlock()
	// Recording may touch the network; keep it off the poll goroutine.
	go m.opts.Episodes.RecordEpisode(ctx, e)
}

// WaitForRunning blocks until the poll loop has started. It is intended for
// startup synchronization and has no timeout.
func (m *MemoryMonitor) WaitForRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.running {
		m.cond.Wait()
	}
}

// WaitForResources blocks the caller while the monitor considers the worker
// to be thrashing, and returns immediately otherwise. All blocked callers
// are released together when the state flips back to normal. The tag is
// used only for logging.
func (m *MemoryMonitor) WaitForResources(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.thrashing {
		return
	}
	log.Debugf(context.Background(), "%s waiting for resources", tag)
	for m.thrashing {
		m.cond.Wait()
	}
	log.Debugf(context.Background(), "%s done waiting for resources", tag)
}

// WaitForThrashingState blocks until the thrashing flag equals want.
// It exists for synchronization in tests.
func (m *MemoryMonitor) WaitForThrashingState(want bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.thrashing != want {
		m.cond.Wait()
	}
}

// IsThrashing reports whether the monitor currently considers the worker to
// be thrashing.
func (m *MemoryMonitor) IsThrashing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thrashing
}

// DumpHeap writes a heap snapshot to the configured dump directory and
// remembers it for TryUploadHeapDumpIfItExists.
func (m *MemoryMonitor) DumpHeap() (path string, err error) {
	path, err = m.DumpHeapTo(m.opts.DumpDir)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.lastDump = path
	m.mu.Unlock()
	return path, nil
}

// DumpHeapTo writes a heap snapshot to dir and returns the created file's
// path. Every call produces a distinct file; the name embeds the clock time
// and a sequence number, and creation retries on collision rather than
// overwrite. It fails with derrors.DiagnosticIO if dir is not writable.
func (m *MemoryMonitor) DumpHeapTo(dir string) (path string, err error) {
	defer derrors.Wrap(&err, "DumpHeapTo(%q)", dir)
	f, path, err := createArtifact(dir, m.opts.Clock.Now(), artifacts.HeapDump, m.opts.WorkerID)
	if err != nil {
		return "", err
	}
	err = pprof.Lookup("heap").WriteTo(f, 0)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", derrors.DiagnosticIO, err)
	}
	return path, nil
}

// createArtifact creates a new, distinctly named artifact file in dir.
func createArtifact(dir string, now time.Time, kind artifacts.Kind, workerID string) (*os.File, string, error) {
	for {
		name := artifacts.Filename(now, kind, workerID, artifactSeq.Add(1))
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", derrors.DiagnosticIO, err)
		}
		return f, path, nil
	}
}

// TryUploadHeapDumpIfItExists uploads the most recent heap dump if upload
// is enabled and the dump has not been uploaded yet. It reports whether an
// upload happened. A dump is uploaded at most once; producing a new dump
// re-arms the upload. Failures are logged and leave the local dump in place
// for a later retry.
func (m *MemoryMonitor) TryUploadHeapDumpIfItExists(ctx context.Context) bool {
	if !m.opts.UploadDiagnostics || m.opts.Uploader == nil {
		return false
	}
	m.mu.Lock()
	path := m.lastDump
	m.mu.Unlock()
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		log.Errorf(ctx, err, "heap dump %s disappeared before upload", path)
		return false
	}
	if err := m.opts.Uploader.Upload(ctx, path, filepath.Base(path)); err != nil {
		log.Errorf(ctx, err, "uploading heap dump %s", path)
		return false
	}
	m.mu.Lock()
	if m.lastDump == path {
		m.lastDump = ""
	}
	m.mu.Unlock()
	log.Infof(ctx, "uploaded heap dump %s", path)
	return true
}

// A ProfileRun is a handle on an in-flight profiling capture. It resolves
// only after the capture's artifact is fully written and, if upload is
// enabled, uploaded.
type ProfileRun struct {
	done chan struct{}
	path string
	err  error
}

// Wait blocks until the capture completes or ctx is canceled, and returns
// the capture's error, if any.
func (r *ProfileRun) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return r.err
	}
}

// Path returns the local path of the capture's artifact. It is valid only
// after Wait returns successfully.
func (r *ProfileRun) Path() string { return r.path }

func resolvedRun(err error) *ProfileRun {
	r := &ProfileRun{done: make(chan struct{}), err: err}
	close(r.done)
	return r
}

// RunJfrProfileOnHeapThrashing starts a time-boxed execution-profile
// capture and returns a handle for its eventual completion. The capture's
// duration is bounded by its own timer, independent of Stop. Only one
// capture may be in flight at a time; a second request resolves immediately
// with derrors.ProfileInProgress.
func (m *MemoryMonitor) RunJfrProfileOnHeapThrashing(ctx context.Context) *ProfileRun {
	if m.opts.ProfileDuration <= 0 {
		return resolvedRun(fmt.Errorf("%w: no profile duration configured", derrors.InvalidConfiguration))
	}
	m.mu.Lock()
	if m.profileActive {
		m.mu.Unlock()
		return resolvedRun(derrors.ProfileInProgress)
	}
	m.profileActive = true
	m.mu.Unlock()

	r := &ProfileRun{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer func() {
			m.mu.Lock()
			m.profileActive = false
			m.mu.Unlock()
		}()
		r.path, r.err = m.captureProfile(ctx)
	}()
	return r
}

func (m *MemoryMonitor) captureProfile(ctx context.Context) (path string, err error) {
	// The capture runs on its own goroutine, so keep a stack trace with any
	// failure that surfaces later through the handle.
	defer derrors.WrapStack(&err, "captureProfile")
	f, path, err := createArtifact(m.opts.DumpDir, m.opts.Clock.Now(), artifacts.Profile, m.opts.WorkerID)
	if err != nil {
		return "", err
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: %v", derrors.DiagnosticIO, err)
	}
	// trace.Stop waits until all buffered events are flushed to f.
	time.Sleep(m.opts.ProfileDuration)
	trace.Stop()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", derrors.DiagnosticIO, err)
	}
	if m.opts.UploadDiagnostics && m.opts.Uploader != nil {
		if err := m.opts.Uploader.Upload(ctx, path, filepath.Base(path)); err != nil {
			return path, err
		}
	}
	return path, nil
}
