// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/safehtml/template"
	"golang.org/x/memwatch/internal/config"
	"golang.org/x/memwatch/internal/derrors"
)

// newServer builds a Server once; NewServer registers its handlers on the
// default mux, so it can run only once per process.
func newServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		StaticPath:         template.TrustedSourceFromConstant("../../static"),
		BigQueryDataset:    "disable",
		MonitorEnabled:     true,
		PollIntervalMillis: 10,
		GCThrashingPercent: 50,
		DumpDir:            t.TempDir(),
		WorkerID:           "test-worker",
	}
	s, err := NewServer(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestServer(t *testing.T) {
	s := newServer(t)
	ts := httptest.NewServer(http.DefaultServeMux)
	defer ts.Close()

	get := func(t *testing.T, path string) (int, string) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode, string(body)
	}

	t.Run("healthz", func(t *testing.T) {
		status, body := get(t, "/healthz")
		if status != http.StatusOK || !strings.Contains(body, "ok") {
			t.Errorf("got %d %q", status, body)
		}
	})

	t.Run("index", func(t *testing.T) {
		status, body := get(t, "/")
		if status != http.StatusOK {
			t.Fatalf("got status %d", status)
		}
		if !strings.Contains(body, "test-worker") {
			t.Errorf("index page does not mention the worker ID:\n%s", body)
		}
	})

	t.Run("not found", func(t *testing.T) {
		status, _ := get(t, "/nope")
		if status != http.StatusNotFound {
			t.Errorf("got status %d, want 404", status)
		}
	})

	t.Run("dumpheap", func(t *testing.T) {
		status, body := get(t, "/dumpheap")
		if status != http.StatusOK {
			t.Fatalf("got %d %q", status, body)
		}
		files, err := os.ReadDir(s.cfg.DumpDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(files) == 0 {
			t.Error("no dump file created")
		}
	})

	t.Run("jfrprofile unconfigured", func(t *testing.T) {
		// No profile duration is configured, so the capture must be
		// rejected rather than hang.
		status, _ := get(t, "/jfrprofile")
		if status != http.StatusPreconditionFailed {
			t.Errorf("got status %d, want 412", status)
		}
	})
}

func TestServeError(t *testing.T) {
	s := &Server{}
	ctx := context.Background()
	for _, test := range []struct {
		err  error
		want int
	}{
		{derrors.NotFound, http.StatusNotFound},
		{fmt.Errorf("bad request: %w", derrors.InvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("no destination: %w", derrors.InvalidConfiguration), http.StatusPreconditionFailed},
		{derrors.ProfileInProgress, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		w := httptest.NewRecorder()
		s.serveError(ctx, w, nil, test.err)
		if w.Code != test.want {
			t.Errorf("serveError(%v) wrote status %d, want %d", test.err, w.Code, test.want)
		}
	}
}

func TestServeErrorStatus(t *testing.T) {
	if got := translateStatus(0); got != http.StatusOK {
		t.Errorf("translateStatus(0) = %d, want 200", got)
	}
	if got := translateStatus(http.StatusTeapot); got != http.StatusTeapot {
		t.Errorf("translateStatus(418) = %d, want 418", got)
	}
}
