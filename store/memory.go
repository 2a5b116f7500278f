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
	"sort"
	"sync"
	"time"

	"github.com/rentora/billing/internal/apierror"
	"github.com/rentora/billing/model"
)

// MemoryStore is the in-process IDataSource. Webhook handlers and dunning
// retries run on separate goroutines, so every access goes through one
// RWMutex; record values are copied on the way in and out, which keeps
// mutations sequential at the store boundary.
type MemoryStore struct {
	mu            sync.RWMutex
	events        map[string]*model.WebhookEvent
	eventOrder    []string
	subscriptions map[string]*model.Subscription
	invoices      map[string]*model.Invoice
	dunningEvents map[string]*model.DunningEvent
	dunningOrder  []string
}

// NewMemoryStore initializes an empty in-memory datasource.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]*model.WebhookEvent),
		subscriptions: make(map[string]*model.Subscription),
		invoices:      make(map[string]*model.Invoice),
		dunningEvents: make(map[string]*model.DunningEvent),
	}
}

func copyEvent(e *model.WebhookEvent) *model.WebhookEvent {
	c := *e
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

func copySubscription(s *model.Subscription) *model.Subscription {
	c := *s
	if s.GracePeriodEnd != nil {
		t := *s.GracePeriodEnd
		c.GracePeriodEnd = &t
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}

func copyInvoice(i *model.Invoice) *model.Invoice {
	c := *i
	if i.PaidAt != nil {
		t := *i.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func copyDunning(d *model.DunningEvent) *model.DunningEvent {
	c := *d
	if d.NextRetryDate != nil {
		t := *d.NextRetryDate
		c.NextRetryDate = &t
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		c.ResolvedAt = &t
	}
	if d.FailedAt != nil {
		t := *d.FailedAt
		c.FailedAt = &t
	}
	c.NotificationsSent = append([]model.NotificationRecord(nil), d.NotificationsSent...)
	return &c
}

// AppendEvent appends an inbound webhook event and returns its ID.
func (s *MemoryStore) AppendEvent(_ context.Context, event *model.WebhookEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.EventID == "" {
		event.EventID = model.GenerateUUIDWithSuffix("evt")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	s.events[event.EventID] = copyEvent(event)
	s.eventOrder = append(s.eventOrder, event.EventID)
	return event.EventID, nil
}

// GetEvent retrieves an event by ID.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, apierror.NewNotFound("webhook event", id)
	}
	return copyEvent(event), nil
}

// ListPendingEvents returns unprocessed, non-errored events in created_at order.
func (s *MemoryStore) ListPendingEvents(_ context.Context) ([]*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*model.WebhookEvent
	for _, id := range s.eventOrder {
		event := s.events[id]
		if event != nil && event.Pending() {
			pending = append(pending, copyEvent(event))
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// ListEvents returns events newest-first for the admin surface.
func (s *MemoryStore) ListEvents(_ context.Context, limit, offset int) ([]*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*model.WebhookEvent, 0, len(s.eventOrder))
	for i := len(s.eventOrder) - 1; i >= 0; i-- {
		if event := s.events[s.eventOrder[i]]; event != nil {
			all = append(all, copyEvent(event))
		}
	}
	if offset >= len(all) {
		return []*model.WebhookEvent{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// ListFailedEventsSince returns errored events created after the cutoff.
func (s *MemoryStore) ListFailedEventsSince(_ context.Context, since time.Time) ([]*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var failed []*model.WebhookEvent
	for _, id := range s.eventOrder {
		event := s.events[id]
		if event != nil && event.Failed() && event.CreatedAt.After(since) {
			failed = append(failed, copyEvent(event))
		}
	}
	return failed, nil
}

// MarkEventProcessed flags an event as successfully processed.
func (s *MemoryStore) MarkEventProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return apierror.NewNotFound("webhook event", id)
	}
	now := time.Now()
	event.Processed = true
	event.Error = ""
	event.ProcessedAt = &now
	return nil
}

// MarkEventFailed records a permanent processing failure on the event.
func (s *MemoryStore) MarkEventFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return apierror.NewNotFound("webhook event", id)
	}
	now := time.Now()
	event.Processed = false
	event.Error = reason
	event.ProcessedAt = &now
	return nil
}

// ResetEvent clears the failure state so the event shows up as pending again.
// This is the only path that reverses a recorded failure.
func (s *MemoryStore) ResetEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return apierror.NewNotFound("webhook event", id)
	}
	event.Processed = false
	event.Error = ""
	event.ProcessedAt = nil
	return nil
}

// PurgeProcessedEvents removes processed events older than the cutoff and
// returns the number removed. Failed and pending events are never purged.
func (s *MemoryStore) PurgeProcessedEvents(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.eventOrder[:0]
	for _, id := range s.eventOrder {
		event := s.events[id]
		if event != nil && event.Processed && event.CreatedAt.Before(olderThan) {
			delete(s.events, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.eventOrder = kept
	return removed, nil
}

// EventStats aggregates processing counts for the admin surface.
func (s *MemoryStore) EventStats(_ context.Context) (*model.EventStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &model.EventStats{}
	for _, event := range s.events {
		stats.Total++
		switch {
		case event.Processed:
			stats.Processed++
		case event.Error != "":
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Processed) / float64(stats.Total) * 100
	}
	return stats, nil
}

// CreateSubscription stores a new subscription record.
func (s *MemoryStore) CreateSubscription(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.SubscriptionID == "" {
		sub.SubscriptionID = model.GenerateUUIDWithSuffix("sub")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.subscriptions[sub.SubscriptionID] = copySubscription(sub)
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *MemoryStore) GetSubscription(_ context.Context, id string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, apierror.NewNotFound("subscription", id)
	}
	return copySubscription(sub), nil
}

// UpdateSubscription replaces a stored subscription record.
func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.SubscriptionID]; !ok {
		return apierror.NewNotFound("subscription", sub.SubscriptionID)
	}
	s.subscriptions[sub.SubscriptionID] = copySubscription(sub)
	return nil
}

// ListActiveSubscriptions returns subscriptions currently in the active state.
func (s *MemoryStore) ListActiveSubscriptions(_ context.Context) ([]*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []*model.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == model.SubscriptionActive {
			active = append(active, copySubscription(sub))
		}
	}
	return active, nil
}

// CreateInvoice stores a new invoice record.
func (s *MemoryStore) CreateInvoice(_ context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.InvoiceID == "" {
		inv.InvoiceID = model.GenerateUUIDWithSuffix("inv")
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	s.invoices[inv.InvoiceID] = copyInvoice(inv)
	return nil
}

// GetInvoice retrieves an invoice by ID.
func (s *MemoryStore) GetInvoice(_ context.Context, id string) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, apierror.NewNotFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

// UpdateInvoice replaces a stored invoice record.
func (s *MemoryStore) UpdateInvoice(_ context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.InvoiceID]; !ok {
		return apierror.NewNotFound("invoice", inv.InvoiceID)
	}
	s.invoices[inv.InvoiceID] = copyInvoice(inv)
	return nil
}

// CreateDunningEvent stores a new dunning event.
func (s *MemoryStore) CreateDunningEvent(_ context.Context, event *model.DunningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.DunningID == "" {
		event.DunningID = model.GenerateUUIDWithSuffix("dun")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	s.dunningEvents[event.DunningID] = copyDunning(event)
	s.dunningOrder = append(s.dunningOrder, event.DunningID)
	return nil
}

// GetDunningEvent retrieves a dunning event by ID.
func (s *MemoryStore) GetDunningEvent(_ context.Context, id string) (*model.DunningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.dunningEvents[id]
	if !ok {
		return nil, apierror.NewNotFound("dunning event", id)
	}
	return copyDunning(event), nil
}

// UpdateDunningEvent replaces a stored dunning event.
func (s *MemoryStore) UpdateDunningEvent(_ context.Context, event *model.DunningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dunningEvents[event.DunningID]; !ok {
		return apierror.NewNotFound("dunning event", event.DunningID)
	}
	s.dunningEvents[event.DunningID] = copyDunning(event)
	return nil
}

// GetActiveDunningBySubscription returns the active dunning event for a
// subscription, or nil when none exists.
func (s *MemoryStore) GetActiveDunningBySubscription(_ context.Context, subscriptionID string) (*model.DunningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.dunningOrder {
		event := s.dunningEvents[id]
		if event != nil && event.SubscriptionID == subscriptionID && event.Status == model.DunningActive {
			return copyDunning(event), nil
		}
	}
	return nil, nil
}

// ListDueDunningRetries returns active events whose next retry date has passed.
func (s *MemoryStore) ListDueDunningRetries(_ context.Context, now time.Time) ([]*model.DunningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*model.DunningEvent
	for _, id := range s.dunningOrder {
		event := s.dunningEvents[id]
		if event != nil && event.DueForRetry(now) {
			due = append(due, copyDunning(event))
		}
	}
	return due, nil
}

// ListExpiredGracePeriods returns failed dunning events whose subscription is
// still past_due with an elapsed grace period.
func (s *MemoryStore) ListExpiredGracePeriods(_ context.Context, now time.Time) ([]*model.DunningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*model.DunningEvent
	for _, id := range s.dunningOrder {
		event := s.dunningEvents[id]
		if event == nil || event.Status != model.DunningFailed {
			continue
		}
		sub, ok := s.subscriptions[event.SubscriptionID]
		if !ok || sub.Status != model.SubscriptionPastDue {
			continue
		}
		if sub.GracePeriodEnd != nil && !sub.GracePeriodEnd.After(now) {
			expired = append(expired, copyDunning(event))
		}
	}
	return expired, nil
}

// ListTerminalDunningOlderThan returns resolved/failed events past the
// archive window.
func (s *MemoryStore) ListTerminalDunningOlderThan(_ context.Context, cutoff time.Time) ([]*model.DunningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var terminal []*model.DunningEvent
	for _, id := range s.dunningOrder {
		event := s.dunningEvents[id]
		if event != nil && event.Terminal() && event.CreatedAt.Before(cutoff) {
			terminal = append(terminal, copyDunning(event))
		}
	}
	return terminal, nil
}
