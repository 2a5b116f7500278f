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
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rentora/billing/config"
	"github.com/rentora/billing/model"
	"github.com/rentora/billing/store"
)

// HandlerFunc executes the business effect of one webhook event. Handlers
// must be idempotent: the same event can reach a handler again after a
// partial failure, and dunning retries interleave with fresh webhooks for
// the same subscription.
type HandlerFunc func(ctx context.Context, event *model.WebhookEvent) error

// WebhookProcessor executes one event to completion or exhaustion. Dispatch
// goes through a registered handler map keyed by event type; unknown types
// are logged and treated as success so new provider events never poison the
// queue.
type WebhookProcessor struct {
	datasource store.IDataSource
	dunning    *DunningManager
	notifier   Notifier
	conf       config.ProcessorConfig
	handlers   map[string]HandlerFunc
	locks      *subscriptionLocks
	sleep      func(time.Duration)
}

// NewWebhookProcessor builds a processor with the default dispatch table
// registered. The locks are shared with the dunning manager so subscription
// mutations serialize across both.
func NewWebhookProcessor(ds store.IDataSource, dunning *DunningManager, notifier Notifier, conf config.ProcessorConfig, locks *subscriptionLocks) *WebhookProcessor {
	p := &WebhookProcessor{
		datasource: ds,
		dunning:    dunning,
		notifier:   notifier,
		conf:       conf,
		handlers:   make(map[string]HandlerFunc),
		locks:      locks,
		sleep:      time.Sleep,
	}
	p.RegisterHandler(EventInvoiceCreated, p.handleInvoiceCreated)
	p.RegisterHandler(EventInvoicePaid, p.handleInvoicePaid)
	p.RegisterHandler(EventInvoicePaymentFailed, p.handleInvoicePaymentFailed)
	p.RegisterHandler(EventSubscriptionUpdated, p.handleSubscriptionUpdated)
	p.RegisterHandler(EventSubscriptionDeleted, p.handleSubscriptionDeleted)
	p.RegisterHandler(EventTrialWillEnd, p.handleTrialWillEnd)
	return p
}

// RegisterHandler binds an event type to a handler, replacing any existing
// binding.
func (p *WebhookProcessor) RegisterHandler(eventType string, handler HandlerFunc) {
	p.handlers[eventType] = handler
}

// HandledEventTypes returns the registered event types in sorted order.
func (p *WebhookProcessor) HandledEventTypes() []string {
	types := make([]string, 0, len(p.handlers))
	for eventType := range p.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

// newBackOff builds the delay source for one processing run: exponential
// from RetryDelay, doubling, capped at MaxRetryDelay, no jitter.
func (p *WebhookProcessor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.conf.RetryDelay()
	b.Multiplier = 2
	b.MaxInterval = p.conf.MaxRetryDelay()
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ProcessEvent runs one event through its handler with bounded retries.
// Already-processed events return success without side effects. When every
// attempt fails the error is recorded on the event and returned; callers
// record it, they do not rethrow.
func (p *WebhookProcessor) ProcessEvent(ctx context.Context, eventID string) error {
	ctx, span := tracer.Start(ctx, "Processing Webhook Event")
	defer span.End()

	event, err := p.datasource.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Processed {
		logrus.Debugf("event %s already processed, skipping", eventID)
		return nil
	}

	handler, ok := p.handlers[event.EventType]
	if !ok {
		logrus.Infof("no handler for event type %s (source %s), acknowledging", event.EventType, event.Source)
		return p.datasource.MarkEventProcessed(ctx, eventID)
	}

	delays := p.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= p.conf.RetryAttempts; attempt++ {
		lastErr = handler(ctx, event)
		if lastErr == nil {
			return p.datasource.MarkEventProcessed(ctx, eventID)
		}
		logrus.Warnf("attempt %d/%d for event %s failed: %v", attempt, p.conf.RetryAttempts, eventID, lastErr)
		if attempt < p.conf.RetryAttempts {
			p.sleep(delays.NextBackOff())
		}
	}

	if markErr := p.datasource.MarkEventFailed(ctx, eventID, lastErr.Error()); markErr != nil {
		logrus.Errorf("failed to record failure for event %s: %v", eventID, markErr)
	}
	return errors.Wrapf(lastErr, "event %s exhausted %d attempts", eventID, p.conf.RetryAttempts)
}
