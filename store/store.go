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

package store

import (
	"context"
	"time"

	"github.com/rentora/billing/model"
)

// IDataSource defines the interface for billing pipeline storage, grouping
// related functionalities. The queue, processor, and dunning manager all take
// an IDataSource by injection so tests can isolate state per run.
type IDataSource interface {
	event        // Inbound webhook event log
	subscription // Subscription records
	invoice      // Invoice records
	dunning      // Dunning recovery state
}

// event defines the append-only webhook event log and its processing outcome.
type event interface {
	AppendEvent(ctx context.Context, event *model.WebhookEvent) (string, error)               // Appends an inbound event, returns its ID
	GetEvent(ctx context.Context, id string) (*model.WebhookEvent, error)                     // Retrieves an event by ID
	ListPendingEvents(ctx context.Context) ([]*model.WebhookEvent, error)                     // Unprocessed, non-errored events in created_at order
	ListEvents(ctx context.Context, limit, offset int) ([]*model.WebhookEvent, error)         // Paginated listing for the admin surface
	ListFailedEventsSince(ctx context.Context, since time.Time) ([]*model.WebhookEvent, error) // Errored events created after the cutoff
	MarkEventProcessed(ctx context.Context, id string) error                                  // Flags success; clears any prior error
	MarkEventFailed(ctx context.Context, id string, reason string) error                      // Records a permanent failure
	ResetEvent(ctx context.Context, id string) error                                          // Clears error/processed so the event is pending again
	PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int, error)               // Retention sweep; processed events only
	EventStats(ctx context.Context) (*model.EventStats, error)                                // Aggregate counts for the admin surface
}

// subscription defines methods for subscription records.
type subscription interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	ListActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error)
}

// invoice defines methods for invoice records.
type invoice interface {
	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *model.Invoice) error
}

// dunning defines methods for dunning recovery state.
type dunning interface {
	CreateDunningEvent(ctx context.Context, event *model.DunningEvent) error
	GetDunningEvent(ctx context.Context, id string) (*model.DunningEvent, error)
	UpdateDunningEvent(ctx context.Context, event *model.DunningEvent) error
	GetActiveDunningBySubscription(ctx context.Context, subscriptionID string) (*model.DunningEvent, error) // nil when no active event exists
	ListDueDunningRetries(ctx context.Context, now time.Time) ([]*model.DunningEvent, error)               // Active events whose next retry date has passed
	ListExpiredGracePeriods(ctx context.Context, now time.Time) ([]*model.DunningEvent, error)             // Failed events whose grace period has elapsed
	ListTerminalDunningOlderThan(ctx context.Context, cutoff time.Time) ([]*model.DunningEvent, error)     // Resolved/failed events past the archive window
}
