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

package billing

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rentora/billing/config"
	"github.com/rentora/billing/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerStartStopResume(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	scheduler := tp.billing.scheduler

	scheduler.Start(ctx)
	assert.True(t, scheduler.IsRunning())
	// Double start is a no-op.
	scheduler.Start(ctx)
	assert.True(t, scheduler.IsRunning())

	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())
	// Double stop is a no-op.
	scheduler.Stop()

	scheduler.Start(ctx)
	assert.True(t, scheduler.IsRunning())
	scheduler.Stop()
}

func TestUpdateConfigRejectsSubMinimumIntervals(t *testing.T) {
	tp := newTestPipeline(nil)
	scheduler := tp.billing.scheduler

	err := scheduler.UpdateConfig(config.SchedulerConfig{ProcessingIntervalSec: 5, CleanupIntervalSec: 86400})
	assert.Error(t, err)

	err = scheduler.UpdateConfig(config.SchedulerConfig{ProcessingIntervalSec: 60, CleanupIntervalSec: 600})
	assert.Error(t, err)

	// The rejected config must not have replaced the active one.
	assert.Equal(t, 60, scheduler.conf.ProcessingIntervalSec)
}

func TestUpdateConfigRestartsRunningScheduler(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	scheduler := tp.billing.scheduler

	scheduler.Start(ctx)
	require.True(t, scheduler.IsRunning())

	err := scheduler.UpdateConfig(config.SchedulerConfig{ProcessingIntervalSec: 30, CleanupIntervalSec: 7200})
	require.NoError(t, err)
	assert.True(t, scheduler.IsRunning())
	assert.Equal(t, 30, scheduler.conf.ProcessingIntervalSec)
	assert.Equal(t, 7200, scheduler.conf.CleanupIntervalSec)

	scheduler.Stop()
}

func TestUpdateConfigWhileStoppedStaysStopped(t *testing.T) {
	tp := newTestPipeline(nil)
	scheduler := tp.billing.scheduler

	err := scheduler.UpdateConfig(config.SchedulerConfig{ProcessingIntervalSec: 120, CleanupIntervalSec: 43200})
	require.NoError(t, err)
	assert.False(t, scheduler.IsRunning())
	assert.Equal(t, 120, scheduler.conf.ProcessingIntervalSec)
}

// One scheduler tick runs both the due-retry sweep and the grace-period
// sweep; a failing retry never halts the tick.
func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	tp.gateway.results = []error{errors.New("card declined")}

	_, _, event := openDunning(t, tp)
	tp.clock.Advance(2 * day)

	tp.billing.scheduler.tick(ctx)

	updated, err := tp.ds.GetDunningEvent(ctx, event.DunningID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, model.DunningActive, updated.Status)
}
