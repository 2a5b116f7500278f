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

	"github.com/shopspring/decimal"

	"github.com/rentora/billing/config"
	"github.com/rentora/billing/model"
	"github.com/rentora/billing/store"
)

// stubGateway replays a scripted sequence of charge results; the last result
// repeats once the script runs out.
type stubGateway struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (g *stubGateway) Charge(_ context.Context, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var result error
	if len(g.results) > 0 {
		result = g.results[0]
		if len(g.results) > 1 {
			g.results = g.results[1:]
		}
	}
	g.calls++
	return result
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordNotifier captures every notice instead of delivering it.
type recordNotifier struct {
	mu      sync.Mutex
	notices []Notification
}

func (n *recordNotifier) Notify(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notification)
	return nil
}

func (n *recordNotifier) sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notices...)
}

func (n *recordNotifier) countOf(noticeType string) int {
	count := 0
	for _, notice := range n.sent() {
		if notice.Type == noticeType {
			count++
		}
	}
	return count
}

// fakeClock lets tests advance virtual time instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Queue: config.QueueConfig{
			BatchSize:          10,
			ProcessingDelayMS:  50,
			MaxConcurrentJobs:  5,
			RetryMaxAgeHours:   24,
			RetentionDays:      30,
			// Tests drive sweeps explicitly; park the out-of-band kick
			// far enough out that it never fires mid-test.
			EnqueueKickDelayMS: 60000,
		},
		Processor: config.ProcessorConfig{
			RetryAttempts:   3,
			RetryDelayMS:    1,
			MaxRetryDelayMS: 50,
		},
		Dunning: config.DunningConfig{
			RetryScheduleDays: []int{1, 3, 7, 14},
			MaxRetries:        4,
			GracePeriodDays:   7,
			ArchiveAfterDays:  30,
		},
		Scheduler: config.SchedulerConfig{
			ProcessingIntervalSec: 60,
			CleanupIntervalSec:    86400,
		},
	}
}

type testPipeline struct {
	billing  *Billing
	ds       *store.MemoryStore
	gateway  *stubGateway
	notifier *recordNotifier
	clock    *fakeClock
}

func newTestPipeline(cnf *config.Configuration) *testPipeline {
	if cnf == nil {
		cnf = testConfig()
	}
	ds := store.NewMemoryStore()
	gateway := &stubGateway{}
	notifier := &recordNotifier{}
	b := NewBilling(cnf, ds, gateway, notifier)

	clock := newFakeClock(time.Now())
	b.dunning.clock = clock
	// Backoff sleeps are irrelevant to most tests; keep them instant.
	b.processor.sleep = func(time.Duration) {}

	return &testPipeline{billing: b, ds: ds, gateway: gateway, notifier: notifier, clock: clock}
}

func (tp *testPipeline) seedSubscription(ctx context.Context, status string) *model.Subscription {
	sub := &model.Subscription{
		SubscriptionID: model.GenerateUUIDWithSuffix("sub"),
		CustomerID:     model.GenerateUUIDWithSuffix("cus"),
		Status:         status,
		PlanAmount:     decimal.NewFromInt(99),
		BillingCycle:   model.BillingCycleMonthly,
	}
	if err := tp.ds.CreateSubscription(ctx, sub); err != nil {
		panic(err)
	}
	return sub
}

func (tp *testPipeline) seedInvoice(ctx context.Context, subscriptionID, status string) *model.Invoice {
	inv := &model.Invoice{
		InvoiceID:      model.GenerateUUIDWithSuffix("inv"),
		SubscriptionID: subscriptionID,
		Status:         status,
		Amount:         decimal.NewFromInt(99),
		DueDate:        time.Now(),
	}
	if err := tp.ds.CreateInvoice(ctx, inv); err != nil {
		panic(err)
	}
	return inv
}
