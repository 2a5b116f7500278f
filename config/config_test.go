/*
Copyright 2025 Rentora Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "billing.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"project_name":"test"}`), 0644))

	require.NoError(t, InitConfig(file))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, 10, cnf.Queue.BatchSize)
	assert.Equal(t, 5, cnf.Queue.MaxConcurrentJobs)
	assert.Equal(t, 5*time.Second, cnf.Queue.ProcessingDelay())
	assert.Equal(t, 3, cnf.Processor.RetryAttempts)
	assert.Equal(t, time.Second, cnf.Processor.RetryDelay())
	assert.Equal(t, 30*time.Second, cnf.Processor.MaxRetryDelay())
	assert.Equal(t, []int{1, 3, 7, 14}, cnf.Dunning.RetryScheduleDays)
	assert.Equal(t, 4, cnf.Dunning.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cnf.Dunning.GracePeriod())
	assert.Equal(t, 60*time.Second, cnf.Scheduler.ProcessingInterval())
	assert.Equal(t, 24*time.Hour, cnf.Scheduler.CleanupInterval())
}

func TestInitConfigMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("BILLING_QUEUE_BATCH_SIZE", "25")
	t.Setenv("BILLING_SERVER_PORT", "6001")

	require.NoError(t, InitConfig(filepath.Join(t.TempDir(), "missing.json")))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, 25, cnf.Queue.BatchSize)
	assert.Equal(t, "6001", cnf.Server.Port)
}

func TestSchedulerIntervalMinimums(t *testing.T) {
	cases := []struct {
		name    string
		cfg     SchedulerConfig
		wantErr bool
	}{
		{"defaults are valid", SchedulerConfig{ProcessingIntervalSec: 60, CleanupIntervalSec: 86400}, false},
		{"processing below 10s rejected", SchedulerConfig{ProcessingIntervalSec: 5, CleanupIntervalSec: 86400}, true},
		{"cleanup below 1h rejected", SchedulerConfig{ProcessingIntervalSec: 60, CleanupIntervalSec: 120}, true},
		{"exact minimums accepted", SchedulerConfig{ProcessingIntervalSec: 10, CleanupIntervalSec: 3600}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := &Configuration{}
	cnf.RateLimit.RequestsPerSecond = &rps
	require.NoError(t, cnf.validateAndAddDefaults())

	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
}
