// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/memwatch/internal/derrors"
)

func validConfig() *Config {
	return &Config{
		PollIntervalMillis: 15000,
		GCThrashingPercent: 50,
		WorkerID:           "w1",
		BigQueryDataset:    "disable",
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.PollIntervalMillis = 0 }, true},
		{"threshold too large", func(c *Config) { c.GCThrashingPercent = 101 }, true},
		{"upload without dest", func(c *Config) { c.UploadDiagnostics = true }, true},
		{"upload with dest", func(c *Config) {
			c.UploadDiagnostics = true
			c.UploadDest = "gs://bucket/dumps"
		}, false},
		{"no worker ID", func(c *Config) { c.WorkerID = "" }, true},
		{"bigquery without project", func(c *Config) { c.BigQueryDataset = "episodes" }, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := validConfig()
			test.modify(c)
			err := c.Validate()
			if (err != nil) != test.wantErr {
				t.Fatalf("got %v, wantErr %t", err, test.wantErr)
			}
			if err != nil && !errors.Is(err, derrors.InvalidConfiguration) {
				t.Errorf("got %v, want InvalidConfiguration", err)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("MEMWATCH_TEST_BOOL", "true")
	if !GetEnvBool("MEMWATCH_TEST_BOOL", false) {
		t.Error(`GetEnvBool("true") = false`)
	}
	if GetEnvBool("MEMWATCH_TEST_BOOL_UNSET", false) {
		t.Error("GetEnvBool fallback not used for unset key")
	}
	t.Setenv("MEMWATCH_TEST_BOOL", "junk")
	if GetEnvBool("MEMWATCH_TEST_BOOL", false) {
		t.Error("GetEnvBool fallback not used for bad value")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("MEMWATCH_TEST_DUR", "90s")
	if got := GetEnvDuration("MEMWATCH_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
	if got := GetEnvDuration("MEMWATCH_TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("got %v, want fallback 1m", got)
	}
}

func TestPollInterval(t *testing.T) {
	c := &Config{PollIntervalMillis: 10}
	if got := c.PollInterval(); got != 10*time.Millisecond {
		t.Errorf("got %v, want 10ms", got)
	}
}
