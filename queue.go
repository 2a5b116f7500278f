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
	"github.com/rentora/billing/store"
)

// WebhookQueue is the admission and scheduling layer over the event store.
// On each tick it pulls pending events in creation order, skips anything
// already being worked, and dispatches up to batchSize of them concurrently.
// The active-job set is the sole admission mechanism: its size never exceeds
// maxConcurrentJobs and an event is never a member twice.
type WebhookQueue struct {
	datasource store.IDataSource
	processor  *WebhookProcessor
	conf       config.QueueConfig

	mu         sync.Mutex
	activeJobs map[string]struct{}
	sweeping   bool
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	jobWg      sync.WaitGroup
}

// NewWebhookQueue builds a queue over the given datasource and processor.
func NewWebhookQueue(ds store.IDataSource, processor *WebhookProcessor, conf config.QueueConfig) *WebhookQueue {
	return &WebhookQueue{
		datasource: ds,
		processor:  processor,
		conf:       conf,
		activeJobs: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic sweep driver. Safe to call after Stop.
func (q *WebhookQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()

	logrus.Info("webhook queue started")
}

// Stop halts future sweeps. Jobs already admitted run to completion.
func (q *WebhookQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	logrus.Info("webhook queue stopped")
}

// IsRunning reports whether the periodic driver is active.
func (q *WebhookQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// ActiveJobs returns the current size of the active-job set.
func (q *WebhookQueue) ActiveJobs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.activeJobs)
}

func (q *WebhookQueue) run(ctx context.Context) {
	ticker := time.NewTicker(q.conf.ProcessingDelay())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Enqueue records intent to process an appended event. While the driver is
// running the next tick picks it up; otherwise a single out-of-band sweep is
// scheduled after a short delay so ingestion never blocks on processing.
func (q *WebhookQueue) Enqueue(ctx context.Context, eventID string) {
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()

	if running {
		return
	}
	time.AfterFunc(q.conf.EnqueueKickDelay(), func() {
		q.Sweep(context.WithoutCancel(ctx))
	})
	logrus.Debugf("queue idle, scheduled out-of-band sweep for event %s", eventID)
}

// Sweep performs one scheduling pass. Overlapping sweeps and sweeps with a
// saturated job set are no-ops.
func (q *WebhookQueue) Sweep(ctx context.Context) {
	q.mu.Lock()
	if q.sweeping || len(q.activeJobs) >= q.conf.MaxConcurrentJobs {
		q.mu.Unlock()
		return
	}
	q.sweeping = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.sweeping = false
		q.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "Sweeping Webhook Queue")
	defer span.End()

	pending, err := q.datasource.ListPendingEvents(ctx)
	if err != nil {
		logrus.Errorf("queue sweep failed to list pending events: %v", err)
		return
	}

	dispatched := 0
	for _, event := range pending {
		if dispatched >= q.conf.BatchSize {
			break
		}
		if !q.admit(event.EventID) {
			continue
		}
		dispatched++

		q.jobWg.Add(1)
		go func(eventID string) {
			defer q.jobWg.Done()
			defer q.release(eventID)
			// Jobs fire in parallel and fail independently; the
			// processor records failures on the event itself.
			if err := q.processor.ProcessEvent(ctx, eventID); err != nil {
				logrus.Warnf("event %s failed processing: %v", eventID, err)
			}
		}(event.EventID)
	}
}

// admit adds an event to the active set if capacity allows and it is not
// already a member.
func (q *WebhookQueue) admit(eventID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.activeJobs) >= q.conf.MaxConcurrentJobs {
		return false
	}
	if _, active := q.activeJobs[eventID]; active {
		return false
	}
	q.activeJobs[eventID] = struct{}{}
	return true
}

func (q *WebhookQueue) release(eventID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.activeJobs, eventID)
}

// Wait blocks until all dispatched jobs finish. Used by tests and shutdown.
func (q *WebhookQueue) Wait() {
	q.jobWg.Wait()
}

// RetryFailedEvents clears the failure state on events that errored within
// maxAge and makes them pending again. This is the only path that resets a
// recorded failure.
func (q *WebhookQueue) RetryFailedEvents(ctx context.Context, maxAge time.Duration) (int, error) {
	failed, err := q.datasource.ListFailedEventsSince(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, event := range failed {
		if err := q.datasource.ResetEvent(ctx, event.EventID); err != nil {
			logrus.Errorf("failed to reset event %s: %v", event.EventID, err)
			continue
		}
		reset++
		q.Enqueue(ctx, event.EventID)
	}
	if reset > 0 {
		logrus.Infof("re-enqueued %d failed events", reset)
	}
	return reset, nil
}

// CleanupOldEvents removes processed events older than maxAge from the store.
func (q *WebhookQueue) CleanupOldEvents(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := q.datasource.PurgeProcessedEvents(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logrus.Infof("purged %d processed events", removed)
	}
	return removed, nil
}
