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
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/rentora/billing/config"
	"github.com/rentora/billing/model"
	"github.com/rentora/billing/store"
)

var tracer = otel.Tracer("billing.pipeline")

// Billing wires the webhook reliability pipeline together: the event store,
// the admission queue, the per-event processor, and the dunning manager with
// its scheduler. All components share one injected datasource.
type Billing struct {
	datasource store.IDataSource
	queue      *WebhookQueue
	processor  *WebhookProcessor
	dunning    *DunningManager
	scheduler  *DunningScheduler
}

// NewBilling initializes the pipeline from configuration. The gateway and
// notifier are capabilities supplied by the caller; cmd/server wires the HTTP
// implementations, tests wire stubs.
func NewBilling(cnf *config.Configuration, ds store.IDataSource, gateway PaymentGateway, notifier Notifier) *Billing {
	locks := &subscriptionLocks{}
	dunning := NewDunningManager(ds, gateway, notifier, cnf.Dunning, locks)
	processor := NewWebhookProcessor(ds, dunning, notifier, cnf.Processor, locks)
	queue := NewWebhookQueue(ds, processor, cnf.Queue)
	scheduler := NewDunningScheduler(dunning, cnf.Scheduler)
	return &Billing{
		datasource: ds,
		queue:      queue,
		processor:  processor,
		dunning:    dunning,
		scheduler:  scheduler,
	}
}

// Queue exposes the webhook admission queue.
func (b *Billing) Queue() *WebhookQueue { return b.queue }

// Processor exposes the per-event processor.
func (b *Billing) Processor() *WebhookProcessor { return b.processor }

// Dunning exposes the dunning manager.
func (b *Billing) Dunning() *DunningManager { return b.dunning }

// Scheduler exposes the dunning scheduler.
func (b *Billing) Scheduler() *DunningScheduler { return b.scheduler }

// Start launches the queue driver and the dunning scheduler.
func (b *Billing) Start(ctx context.Context) {
	b.queue.Start(ctx)
	b.scheduler.Start(ctx)
}

// Stop halts future scheduling; admitted jobs run to completion.
func (b *Billing) Stop() {
	b.queue.Stop()
	b.scheduler.Stop()
}

// GetEvent returns one stored webhook event.
func (b *Billing) GetEvent(ctx context.Context, id string) (*model.WebhookEvent, error) {
	return b.datasource.GetEvent(ctx, id)
}

// ListEvents returns stored webhook events for the admin surface.
func (b *Billing) ListEvents(ctx context.Context, limit, offset int) ([]*model.WebhookEvent, error) {
	return b.datasource.ListEvents(ctx, limit, offset)
}

// EventStats returns aggregate processing counts.
func (b *Billing) EventStats(ctx context.Context) (*model.EventStats, error) {
	return b.datasource.EventStats(ctx)
}

// MonthlyRecurringRevenue sums normalized monthly revenue across active
// subscriptions.
func (b *Billing) MonthlyRecurringRevenue(ctx context.Context) (decimal.Decimal, error) {
	subs, err := b.datasource.ListActiveSubscriptions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	mrr := decimal.Zero
	for _, sub := range subs {
		mrr = mrr.Add(sub.MonthlyRevenue())
	}
	return mrr, nil
}

// AnnualRecurringRevenue is MRR scaled to a yearly figure.
func (b *Billing) AnnualRecurringRevenue(ctx context.Context) (decimal.Decimal, error) {
	mrr, err := b.MonthlyRecurringRevenue(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return mrr.Mul(decimal.NewFromInt(12)), nil
}

// Clock abstracts wall-clock time so schedule-sensitive components can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
