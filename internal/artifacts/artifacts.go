// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package artifacts names diagnostic artifact files and copies them to
// their upload destination.
//
// Artifact names follow the pattern
//
//	<timestamp>-<kind>-<worker-id>-<n>.<ext>
//
// where n disambiguates artifacts created within the same clock second.
package artifacts

import (
	"fmt"
	"time"
)

// A Kind is a category of diagnostic artifact.
type Kind struct {
	name string
	ext  string
}

var (
	// HeapDump is a point-in-time snapshot of live heap memory.
	HeapDump = Kind{"heap_dump", "hprof"}

	// Profile is a time-bounded recording of runtime execution events.
	Profile = Kind{"jfr_profile", "jfr"}
)

func (k Kind) String() string { return k.name }

// timestampFormat is a sortable, separator-free rendering of the artifact
// creation time, e.g. "20220101010203".
const timestampFormat = "20060102150405"

// Filename returns the name for an artifact of the given kind created at t
// by the given worker. Consecutive calls must pass distinct n values to
// guarantee distinct names even under a fixed clock.
func Filename(t time.Time, kind Kind, workerID string, n int64) string {
	return fmt.Sprintf("%s-%s-%s-%d.%s", t.UTC().Format(timestampFormat), kind.name, workerID, n, kind.ext)
}
