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
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rentora/billing/internal/apierror"
	"github.com/rentora/billing/model"
)

// Ingest accepts one raw provider webhook: it validates the envelope,
// appends the event to the store, and hands it to the queue. Malformed
// payloads are rejected at admission and never enter the event store.
func (b *Billing) Ingest(ctx context.Context, source, eventType string, payload json.RawMessage) (*model.WebhookEvent, error) {
	ctx, span := tracer.Start(ctx, "Ingesting Webhook Event")
	defer span.End()

	if source == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "webhook source is required", nil)
	}
	if eventType == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "webhook event type is required", nil)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "webhook payload must be valid JSON", nil)
	}

	event := model.NewWebhookEvent(source, eventType, payload)
	if _, err := b.datasource.AppendEvent(ctx, event); err != nil {
		return nil, err
	}
	b.queue.Enqueue(ctx, event.EventID)

	logrus.Infof("ingested %s event %s from %s", eventType, event.EventID, source)
	return event, nil
}

// RetryEvent resets one failed event and processes it immediately. Used by
// the admin surface.
func (b *Billing) RetryEvent(ctx context.Context, eventID string) error {
	event, err := b.datasource.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Processed {
		return apierror.NewAPIError(apierror.ErrConflict, "event already processed", nil)
	}
	if err := b.datasource.ResetEvent(ctx, eventID); err != nil {
		return err
	}
	return b.processor.ProcessEvent(ctx, eventID)
}

// RetryFailedEvents re-enqueues every event that failed within maxAge.
func (b *Billing) RetryFailedEvents(ctx context.Context, maxAge time.Duration) (int, error) {
	return b.queue.RetryFailedEvents(ctx, maxAge)
}

// CleanupOldEvents purges processed events older than maxAge.
func (b *Billing) CleanupOldEvents(ctx context.Context, maxAge time.Duration) (int, error) {
	return b.queue.CleanupOldEvents(ctx, maxAge)
}

// ProcessPendingRetries triggers a dunning retry sweep on demand.
func (b *Billing) ProcessPendingRetries(ctx context.Context) ([]RetryOutcome, error) {
	return b.dunning.ProcessPendingRetries(ctx)
}

// ForceCleanup triggers the dunning archival identification pass on demand.
func (b *Billing) ForceCleanup(ctx context.Context) (int, error) {
	return b.scheduler.ForceCleanup(ctx)
}
