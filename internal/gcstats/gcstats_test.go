// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcstats

import (
	"runtime"
	"testing"
)

func TestTotalGCTimeMonotone(t *testing.T) {
	var p Runtime
	prev := p.TotalGCTimeMilliseconds()
	if prev < 0 {
		t.Fatalf("negative GC time %d", prev)
	}
	for i := 0; i < 5; i++ {
		runtime.GC()
		cur := p.TotalGCTimeMilliseconds()
		if cur < prev {
			t.Fatalf("GC time decreased: %d then %d", prev, cur)
		}
		prev = cur
	}
}

func TestNumGC(t *testing.T) {
	before := NumGC()
	runtime.GC()
	if after := NumGC(); after <= before {
		t.Errorf("NumGC = %d after runtime.GC, want > %d", after, before)
	}
}

func TestCurrHeapUsage(t *testing.T) {
	if got := CurrHeapUsage(); got == 0 {
		t.Error("CurrHeapUsage = 0, want > 0")
	}
}
