// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command worker runs the memwatch worker server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/exp/slog"
	"golang.org/x/memwatch/internal/config"
	"golang.org/x/memwatch/internal/log"
	"golang.org/x/memwatch/internal/worker"
	"golang.org/x/sync/errgroup"
)

var (
	devMode   = flag.Bool("dev", false, "enable developer mode (reload templates on each page load)")
	port      = flag.String("port", config.GetEnv("PORT", "8080"), "port to listen to")
	dataset   = flag.String("dataset", "", "dataset (overrides MEMWATCH_BIGQUERY_DATASET env var); use 'disable' for no BQ")
	disabled  = flag.Bool("disable-monitor", false, "run without tracking GC thrashing")
	threshold = flag.Float64("threshold", 0, "GC thrashing threshold percent (overrides MEMWATCH_GC_THRASHING_PERCENT env var)")
	// flag used in call to safehtml/template.TrustedSourceFromFlag
	_ = flag.String("static", "static", "path to folder containing static files served")
)

func main() {
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintln(out, "usage:")
		fmt.Fprintln(out, "worker FLAGS")
		fmt.Fprintln(out, "  run as a server, listening at the PORT env var")
		flag.PrintDefaults()
	}

	flag.Parse()
	ctx := context.Background()
	var h slog.Handler
	if config.OnCloudRun() || *devMode {
		h = log.NewGoogleCloudHandler()
	} else {
		h = log.NewLineHandler(os.Stderr)
	}
	slog.SetDefault(slog.New(h))
	if err := runServer(ctx); err != nil {
		log.Error(ctx, "fail", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.Init(ctx)
	if err != nil {
		return err
	}
	cfg.DevMode = *devMode
	if *dataset != "" {
		cfg.BigQueryDataset = *dataset
	}
	if *disabled {
		cfg.MonitorEnabled = false
	}
	if *threshold != 0 {
		cfg.GCThrashingPercent = *threshold
	}
	if err := cfg.Dump(os.Stdout); err != nil {
		return err
	}
	log.Infof(ctx, "config: project=%s, dataset=%s, worker=%s", cfg.ProjectID, cfg.BigQueryDataset, cfg.WorkerID)

	s, err := worker.NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	addr := ":" + *port

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Monitor().Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Infof(ctx, "Listening on addr http://localhost%s", addr)
		defer s.Monitor().Stop()
		return fmt.Errorf("listening: %v", http.ListenAndServe(addr, nil))
	})
	return g.Wait()
}
