// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcstats reports garbage-collection statistics from the Go runtime.
package gcstats

import (
	"runtime"
	"runtime/debug"
)

// Runtime reads cumulative GC statistics from the Go runtime.
// The zero value is ready to use.
type Runtime struct{}

// TotalGCTimeMilliseconds returns the cumulative wall-clock time spent in
// stop-the-world GC pauses since the process started. It is monotonically
// non-decreasing.
func (Runtime) TotalGCTimeMilliseconds() int64 {
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	return stats.PauseTotal.Milliseconds()
}

// CurrHeapUsage computes currently allocated heap bytes.
func CurrHeapUsage() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// NumGC returns the number of garbage collections since the process started.
func NumGC() int64 {
	var stats debug.GCStats
	debug.ReadGCStats(&stats)
	return stats.NumGC
}
