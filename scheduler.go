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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rentora/billing/config"
)

// DunningScheduler is the periodic driver for the dunning manager. It owns
// no recovery state: on the processing interval it runs due retries and the
// grace-period sweep, on the cleanup interval it runs archival
// identification. Reconfiguring while running restarts the loop atomically;
// two drivers never overlap.
type DunningScheduler struct {
	dunning *DunningManager

	mu      sync.Mutex
	conf    config.SchedulerConfig
	running bool
	baseCtx context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDunningScheduler builds a stopped scheduler.
func NewDunningScheduler(dunning *DunningManager, conf config.SchedulerConfig) *DunningScheduler {
	return &DunningScheduler{
		dunning: dunning,
		conf:    conf,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the driver loop. Safe to call after Stop.
func (s *DunningScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.baseCtx = ctx
	s.stopCh = make(chan struct{})
	conf := s.conf
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, conf, stopCh)
	}()

	logrus.Infof("dunning scheduler started (processing every %s, cleanup every %s)", conf.ProcessingInterval(), conf.CleanupInterval())
}

// Stop halts future ticks. A tick in progress runs to completion.
func (s *DunningScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("dunning scheduler stopped")
}

// IsRunning reports whether the driver loop is active.
func (s *DunningScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// UpdateConfig applies new intervals. Sub-minimum intervals are rejected.
// When the scheduler is running the loop is restarted under the new config;
// stop-then-start, never two drivers.
func (s *DunningScheduler) UpdateConfig(conf config.SchedulerConfig) error {
	if err := conf.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	wasRunning := s.running
	ctx := s.baseCtx
	s.mu.Unlock()

	if wasRunning {
		s.Stop()
	}

	s.mu.Lock()
	s.conf = conf
	s.mu.Unlock()

	if wasRunning {
		s.Start(ctx)
	}
	return nil
}

func (s *DunningScheduler) run(ctx context.Context, conf config.SchedulerConfig, stopCh chan struct{}) {
	processTicker := time.NewTicker(conf.ProcessingInterval())
	defer processTicker.Stop()
	cleanupTicker := time.NewTicker(conf.CleanupInterval())
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-processTicker.C:
			s.tick(ctx)
		case <-cleanupTicker.C:
			s.cleanup(ctx)
		}
	}
}

// tick runs one processing pass. Errors are logged; a bad batch never halts
// the driver loop.
func (s *DunningScheduler) tick(ctx context.Context) {
	outcomes, err := s.dunning.ProcessPendingRetries(ctx)
	if err != nil {
		logrus.Errorf("dunning retry sweep failed: %v", err)
	} else if len(outcomes) > 0 {
		logrus.Infof("dunning retry sweep processed %d events", len(outcomes))
	}

	canceled, err := s.dunning.ProcessExpiredGracePeriods(ctx)
	if err != nil {
		logrus.Errorf("grace period sweep failed: %v", err)
	} else if canceled > 0 {
		logrus.Infof("grace period sweep canceled %d subscriptions", canceled)
	}
}

func (s *DunningScheduler) cleanup(ctx context.Context) {
	if _, err := s.dunning.CleanupOldEvents(ctx); err != nil {
		logrus.Errorf("dunning cleanup failed: %v", err)
	}
}

// ForceCleanup runs the archival identification pass on demand.
func (s *DunningScheduler) ForceCleanup(ctx context.Context) (int, error) {
	return s.dunning.CleanupOldEvents(ctx)
}
