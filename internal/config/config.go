// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config resolves shared configuration for the memwatch worker, and
// provides functions to access this configuration.
package config

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/safehtml/template"
	"golang.org/x/memwatch/internal/derrors"
	"golang.org/x/net/context/ctxhttp"
)

// Config holds configuration information for the worker server and its
// memory monitor.
type Config struct {
	// ProjectID is the Google Cloud ProjectID where the resources live.
	ProjectID string

	// VersionID is the identifier for the version currently running.
	// We do not use the version ID from Cloud Run (see
	// https://cloud.google.com/run/docs/reference/container-contract).
	// Instead, we use the DOCKER_IMAGE environment variable, set
	// in the Cloud Build deploy file.
	VersionID string

	// LocationID is the location for the GCP project.
	LocationID string

	// ServiceID names the Cloud Run service.
	ServiceID string

	// StaticPath is the directory containing static files.
	StaticPath template.TrustedSource

	// ServiceAccount is the email of the service account that this process
	// is running as when on GCP.
	ServiceAccount string

	// UseErrorReporting determines whether errors go to the Error Reporting API.
	UseErrorReporting bool

	// BigQueryDataset is the BigQuery dataset to write thrashing episodes to.
	// The value "disable" turns off episode reporting.
	BigQueryDataset string

	// DevMode indicates whether the server is running in development mode.
	DevMode bool

	// MonitorEnabled determines whether the memory monitor actually tracks
	// GC thrashing. A disabled monitor stops itself on its first poll.
	MonitorEnabled bool

	// PollIntervalMillis is the interval, in milliseconds, between
	// polls of the GC statistics.
	PollIntervalMillis int

	// GCThrashingPercent is the maximum amount of time, as a percentage of
	// each poll interval, that may be spent in garbage collection before the
	// monitor declares the worker to be thrashing.
	GCThrashingPercent float64

	// UploadDiagnostics determines whether diagnostic artifacts (heap dumps,
	// profiling captures) are uploaded to UploadDest.
	UploadDiagnostics bool

	// UploadDest is the destination for uploaded diagnostic artifacts:
	// either a gs://bucket/prefix URL or a local directory.
	UploadDest string

	// DumpDir is the local directory where diagnostic artifacts are written.
	DumpDir string

	// WorkerID identifies this worker in artifact names and episode records.
	WorkerID string

	// ProfileDuration bounds the execution-profile capture started when
	// thrashing is first detected. Zero disables profiling capture.
	ProfileDuration time.Duration
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// Init resolves all configuration values provided by the config package. It
// must be called before any configuration values are used.
func Init(ctx context.Context) (_ *Config, err error) {
	defer derrors.Wrap(&err, "config.Init(ctx)")
	// Build a Config from the execution environment, loading some values
	// from environment variables.

	var ts template.TrustedSource
	if f := flag.Lookup("static"); f != nil {
		ts = template.TrustedSourceFromFlag(f.Value)
	}
	workerID := os.Getenv("MEMWATCH_WORKER_ID")
	if workerID == "" {
		workerID, _ = os.Hostname()
	}
	cfg := &Config{
		ProjectID:          os.Getenv("GOOGLE_CLOUD_PROJECT"),
		ServiceID:          os.Getenv("MEMWATCH_SERVICE_ID"),
		VersionID:          os.Getenv("DOCKER_IMAGE"),
		LocationID:         "us-central1",
		StaticPath:         ts,
		BigQueryDataset:    GetEnv("MEMWATCH_BIGQUERY_DATASET", "disable"),
		MonitorEnabled:     GetEnvBool("MEMWATCH_MONITOR_ENABLED", true),
		PollIntervalMillis: GetEnvInt("MEMWATCH_POLL_INTERVAL_MILLIS", "15000", 15000),
		GCThrashingPercent: GetEnvFloat("MEMWATCH_GC_THRASHING_PERCENT", "50", 50),
		UploadDiagnostics:  GetEnvBool("MEMWATCH_UPLOAD_DIAGNOSTICS", false),
		UploadDest:         os.Getenv("MEMWATCH_UPLOAD_DEST"),
		DumpDir:            GetEnv("MEMWATCH_DUMP_DIR", "/tmp/memwatch"),
		WorkerID:           workerID,
		ProfileDuration:    GetEnvDuration("MEMWATCH_PROFILE_DURATION", 0),
	}
	if OnCloudRun() {
		sa, err := gceMetadata(ctx, "instance/service-accounts/default/email")
		if err != nil {
			return nil, err
		}
		cfg.ServiceAccount = sa
		// Only enable error reporting for prod. The configuration name is the
		// Cloud Run service name: "dev-memwatch-worker" or "prod-memwatch-worker".
		cfg.UseErrorReporting = strings.HasPrefix(os.Getenv("K_CONFIGURATION"), "prod-")
	}
	return cfg, nil
}

// OnCloudRun reports whether the current process is running on Cloud Run.
func OnCloudRun() bool {
	// Use the presence of the environment variables provided by Cloud Run.
	// See https://cloud.google.com/run/docs/reference/container-contract.
	for _, ev := range []string{"K_SERVICE", "K_REVISION", "K_CONFIGURATION"} {
		if os.Getenv(ev) == "" {
			return false
		}
	}
	return true
}

func (c *Config) Validate() (err error) {
	defer derrors.Wrap(&err, "Config.Validate")
	if c.PollIntervalMillis <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", derrors.InvalidConfiguration)
	}
	if c.GCThrashingPercent <= 0 || c.GCThrashingPercent > 100 {
		return fmt.Errorf("%w: GC thrashing percent must be in (0, 100]", derrors.InvalidConfiguration)
	}
	if c.UploadDiagnostics && c.UploadDest == "" {
		return fmt.Errorf("%w: diagnostic upload enabled without a destination", derrors.InvalidConfiguration)
	}
	if c.WorkerID == "" {
		return fmt.Errorf("%w: missing worker ID", derrors.InvalidConfiguration)
	}
	if c.BigQueryDataset != "disable" && c.ProjectID == "" {
		return fmt.Errorf("%w: BigQuery enabled without a project", derrors.InvalidConfiguration)
	}
	return nil
}

// Dump outputs the current config information to the given Writer.
func (c *Config) Dump(w io.Writer) error {
	fmt.Fprint(w, "config: ")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(c)
}

// GetEnv looks up the given key from the environment, returning its value if
// it exists, and otherwise returning the given fallback value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt performs GetEnv(key, fallback) and parses the
// result as int. If parsing fails, returns errVal.
func GetEnvInt(key, fallback string, errVal int) int {
	v := GetEnv(key, fallback)
	i, err := strconv.Atoi(v)
	if err != nil {
		return errVal
	}
	return i
}

// GetEnvFloat performs GetEnv(key, fallback) and parses the
// result as float64. If parsing fails, returns errVal.
func GetEnvFloat(key, fallback string, errVal float64) float64 {
	v := GetEnv(key, fallback)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return errVal
	}
	return f
}

// GetEnvBool looks up the given key from the environment and parses it as a
// boolean, returning fallback if the key is unset or unparseable.
func GetEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// GetEnvDuration looks up the given key from the environment and parses it
// with time.ParseDuration, returning fallback if the key is unset or
// unparseable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// gceMetadata reads a metadata value from GCE.
// For the possible values of name, see
// https://cloud.google.com/appengine/docs/standard/java/accessing-instance-metadata.
func gceMetadata(ctx context.Context, name string) (_ string, err error) {
	defer derrors.Wrap(&err, "gceMetadata(ctx, %q)", name)

	const metadataURL = "http://metadata.google.internal/computeMetadata/v1/"
	req, err := http.NewRequest("GET", metadataURL+name, nil)
	if err != nil {
		return "", fmt.Errorf("http.NewRequest: %v", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")
	resp, err := ctxhttp.Do(ctx, nil, req)
	if err != nil {
		return "", fmt.Errorf("ctxhttp.Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}
	bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("io.ReadAll: %v", err)
	}
	return string(bytes), nil
}
