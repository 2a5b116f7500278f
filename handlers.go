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

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rentora/billing/model"
)

// Provider event types carried by inbound webhooks.
const (
	EventInvoiceCreated       = "invoice.created"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionDeleted  = "subscription.deleted"
	EventTrialWillEnd         = "subscription.trial_will_end"
)

// eventPayload is the normalized slice of a provider payload the handlers
// care about. Providers send much more; everything else is ignored.
type eventPayload struct {
	SubscriptionID  string          `json:"subscription_id"`
	InvoiceID       string          `json:"invoice_id"`
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	DueDate         time.Time       `json:"due_date"`
	Status          string          `json:"status"`
	BillingCycle    string          `json:"billing_cycle"`
	NextBillingDate time.Time       `json:"next_billing_date"`
	FailureReason   string          `json:"failure_reason"`
}

func decodePayload(event *model.WebhookEvent) (*eventPayload, error) {
	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, errors.Wrapf(err, "decoding payload of event %s", event.EventID)
	}
	return &payload, nil
}

// handleInvoiceCreated records a new pending invoice.
func (p *WebhookProcessor) handleInvoiceCreated(ctx context.Context, event *model.WebhookEvent) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}
	if _, err := p.datasource.GetSubscription(ctx, payload.SubscriptionID); err != nil {
		return err
	}

	invoice := &model.Invoice{
		InvoiceID:      payload.InvoiceID,
		SubscriptionID: payload.SubscriptionID,
		Status:         model.InvoicePending,
		Amount:         payload.Amount,
		DueDate:        payload.DueDate,
	}
	if err := p.datasource.CreateInvoice(ctx, invoice); err != nil {
		return err
	}

	notify(ctx, p.notifier, Notification{
		Type:           NoticeInvoiceCreated,
		SubscriptionID: payload.SubscriptionID,
		InvoiceID:      invoice.InvoiceID,
	})
	return nil
}

// handleInvoicePaid settles the invoice and reactivates a past_due
// subscription.
func (p *WebhookProcessor) handleInvoicePaid(ctx context.Context, event *model.WebhookEvent) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}

	invoice, err := p.datasource.GetInvoice(ctx, payload.InvoiceID)
	if err != nil {
		return err
	}
	invoice.MarkPaid(time.Now())
	if err := p.datasource.UpdateInvoice(ctx, invoice); err != nil {
		return err
	}

	p.locks.Lock(invoice.SubscriptionID)
	defer p.locks.Unlock(invoice.SubscriptionID)

	sub, err := p.datasource.GetSubscription(ctx, invoice.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionPastDue {
		sub.Status = model.SubscriptionActive
		sub.GracePeriodEnd = nil
		if err := p.datasource.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
	}

	notify(ctx, p.notifier, Notification{
		Type:           NoticePaymentSuccess,
		SubscriptionID: invoice.SubscriptionID,
		InvoiceID:      invoice.InvoiceID,
	})
	return nil
}

// handleInvoicePaymentFailed marks the invoice failed, moves the
// subscription to past_due, and opens a dunning cycle.
func (p *WebhookProcessor) handleInvoicePaymentFailed(ctx context.Context, event *model.WebhookEvent) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}

	invoice, err := p.datasource.GetInvoice(ctx, payload.InvoiceID)
	if err != nil {
		return err
	}
	invoice.Status = model.InvoicePaymentFailed
	if err := p.datasource.UpdateInvoice(ctx, invoice); err != nil {
		return err
	}

	// The lock covers only the status flip; CreateDunningEvent takes the
	// same subscription lock itself.
	p.locks.Lock(invoice.SubscriptionID)
	sub, err := p.datasource.GetSubscription(ctx, invoice.SubscriptionID)
	if err != nil {
		p.locks.Unlock(invoice.SubscriptionID)
		return err
	}
	if sub.Status != model.SubscriptionCanceled {
		sub.Status = model.SubscriptionPastDue
		if err := p.datasource.UpdateSubscription(ctx, sub); err != nil {
			p.locks.Unlock(invoice.SubscriptionID)
			return err
		}
	}
	p.locks.Unlock(invoice.SubscriptionID)

	reason := payload.FailureReason
	if reason == "" {
		reason = "payment failed"
	}
	_, err = p.dunning.CreateDunningEvent(ctx, invoice.SubscriptionID, invoice.InvoiceID, reason)
	return err
}

// handleSubscriptionUpdated syncs subscription fields from the provider
// payload.
func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, event *model.WebhookEvent) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}

	p.locks.Lock(payload.SubscriptionID)
	defer p.locks.Unlock(payload.SubscriptionID)

	sub, err := p.datasource.GetSubscription(ctx, payload.SubscriptionID)
	if err != nil {
		return err
	}
	if payload.Status != "" {
		sub.Status = payload.Status
	}
	if payload.BillingCycle != "" {
		sub.BillingCycle = payload.BillingCycle
	}
	if !payload.NextBillingDate.IsZero() {
		sub.NextBillingDate = payload.NextBillingDate
	}
	if !payload.Amount.IsZero() {
		sub.PlanAmount = payload.Amount
	}
	return p.datasource.UpdateSubscription(ctx, sub)
}

// handleSubscriptionDeleted cancels the subscription on provider request.
func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event *model.WebhookEvent) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}

	p.locks.Lock(payload.SubscriptionID)
	defer p.locks.Unlock(payload.SubscriptionID)

	sub, err := p.datasource.GetSubscription(ctx, payload.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionCanceled {
		logrus.Infof("subscription %s already canceled", sub.SubscriptionID)
		return nil
	}
	sub.Cancel("provider_deleted", time.Now())
	if err := p.datasource.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	notify(ctx, p.notifier, Notification{
		Type:           NoticeCancellation,
		SubscriptionID: sub.SubscriptionID,
	})
	return nil
}

// handleTrialWillEnd only notifies; no billing state changes.
func (p *WebhookProcessor) handleTrialWillEnd(ctx context.Context, event *model.WebhookEvent) error {
	payload, err := decodePayload(event)
	if err != nil {
		return err
	}
	notify(ctx, p.notifier, Notification{
		Type:           NoticeTrialEnding,
		SubscriptionID: payload.SubscriptionID,
	})
	return nil
}
