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

	"github.com/sirupsen/logrus"

	"github.com/rentora/billing/config"
	"github.com/rentora/billing/model"
	"github.com/rentora/billing/store"
)

// DunningManager drives payment-failure recovery per subscription. Each
// failed invoice opens one active dunning event; scheduled retries escalate
// on a fixed day-offset cadence until either a charge succeeds (resolved) or
// the retry budget is exhausted (failed), which starts the grace period
// toward cancellation.
//
// The shared per-subscription locks serialize dunning operations against
// webhook handlers for the same subscription; retries for different
// subscriptions run in parallel, so one slow charge never stalls the batch.
type DunningManager struct {
	datasource store.IDataSource
	gateway    PaymentGateway
	notifier   Notifier
	conf       config.DunningConfig
	clock      Clock
	locks      *subscriptionLocks
}

// NewDunningManager builds a manager with the wall clock.
func NewDunningManager(ds store.IDataSource, gateway PaymentGateway, notifier Notifier, conf config.DunningConfig, locks *subscriptionLocks) *DunningManager {
	return &DunningManager{
		datasource: ds,
		gateway:    gateway,
		notifier:   notifier,
		conf:       conf,
		clock:      realClock{},
		locks:      locks,
	}
}

// scheduleOffset returns the day offset for the next retry after the given
// number of completed retries. Counts past the schedule reuse the last entry.
func (d *DunningManager) scheduleOffset(retryCount int) time.Duration {
	idx := retryCount
	if idx >= len(d.conf.RetryScheduleDays) {
		idx = len(d.conf.RetryScheduleDays) - 1
	}
	return time.Duration(d.conf.RetryScheduleDays[idx]) * 24 * time.Hour
}

// CreateDunningEvent opens a recovery cycle for a failed invoice. If the
// subscription already carries an active event, that event is returned
// unchanged; a second payment failure never spawns a competing cycle. The
// subscription lock spans the check and the create, so two concurrently
// dispatched payment failures cannot both observe "no active event".
func (d *DunningManager) CreateDunningEvent(ctx context.Context, subscriptionID, invoiceID, reason string) (*model.DunningEvent, error) {
	d.locks.Lock(subscriptionID)
	defer d.locks.Unlock(subscriptionID)

	existing, err := d.datasource.GetActiveDunningBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logrus.Infof("subscription %s already has active dunning event %s, reusing", subscriptionID, existing.DunningID)
		return existing, nil
	}

	now := d.clock.Now()
	nextRetry := now.Add(d.scheduleOffset(0))
	event := &model.DunningEvent{
		DunningID:      model.GenerateUUIDWithSuffix("dun"),
		SubscriptionID: subscriptionID,
		InvoiceID:      invoiceID,
		FailureReason:  reason,
		RetryCount:     0,
		Status:         model.DunningActive,
		CreatedAt:      now,
		NextRetryDate:  &nextRetry,
	}
	event.RecordNotification(NoticePaymentFailure, now)
	if err := d.datasource.CreateDunningEvent(ctx, event); err != nil {
		return nil, err
	}

	notify(ctx, d.notifier, Notification{
		Type:           NoticePaymentFailure,
		SubscriptionID: subscriptionID,
		InvoiceID:      invoiceID,
		Data:           map[string]interface{}{"reason": reason, "next_retry": nextRetry},
	})
	logrus.Infof("opened dunning event %s for subscription %s, first retry at %s", event.DunningID, subscriptionID, nextRetry.Format(time.RFC3339))
	return event, nil
}

// ProcessRetry attempts one scheduled payment recovery. No-op unless the
// event is active. The subscription lock is held across the charge attempt,
// so a webhook handler and a retry for the same subscription never
// interleave between read and write.
func (d *DunningManager) ProcessRetry(ctx context.Context, eventID string) (*model.DunningEvent, error) {
	event, err := d.datasource.GetDunningEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	d.locks.Lock(event.SubscriptionID)
	defer d.locks.Unlock(event.SubscriptionID)

	// Re-read under the lock; a concurrent retry or a recovering payment
	// may have settled the event between lookup and lock.
	event, err = d.datasource.GetDunningEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.DunningActive {
		logrus.Debugf("dunning event %s is %s, skipping retry", eventID, event.Status)
		return event, nil
	}

	event.RetryCount++
	now := d.clock.Now()

	if chargeErr := d.gateway.Charge(ctx, event.SubscriptionID, event.InvoiceID); chargeErr != nil {
		logrus.Warnf("dunning retry %d for subscription %s failed: %v", event.RetryCount, event.SubscriptionID, chargeErr)
		if event.RetryCount >= d.conf.MaxRetries {
			return event, d.handleMaxRetriesReached(ctx, event)
		}

		nextRetry := now.Add(d.scheduleOffset(event.RetryCount))
		event.NextRetryDate = &nextRetry
		event.RecordNotification(NoticeRetryReminder, now)
		if err := d.datasource.UpdateDunningEvent(ctx, event); err != nil {
			return nil, err
		}
		notify(ctx, d.notifier, Notification{
			Type:           NoticeRetryReminder,
			SubscriptionID: event.SubscriptionID,
			InvoiceID:      event.InvoiceID,
			Data:           map[string]interface{}{"retry_count": event.RetryCount, "next_retry": nextRetry},
		})
		return event, nil
	}

	return event, d.resolve(ctx, event, now)
}

// resolve settles the recovered invoice and reactivates the subscription.
func (d *DunningManager) resolve(ctx context.Context, event *model.DunningEvent, now time.Time) error {
	event.Resolve(now)
	event.RecordNotification(NoticePaymentSuccess, now)
	if err := d.datasource.UpdateDunningEvent(ctx, event); err != nil {
		return err
	}

	invoice, err := d.datasource.GetInvoice(ctx, event.InvoiceID)
	if err != nil {
		return err
	}
	invoice.MarkPaid(now)
	if err := d.datasource.UpdateInvoice(ctx, invoice); err != nil {
		return err
	}

	sub, err := d.datasource.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionPastDue {
		sub.Status = model.SubscriptionActive
		sub.GracePeriodEnd = nil
		if err := d.datasource.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
	}

	notify(ctx, d.notifier, Notification{
		Type:           NoticePaymentSuccess,
		SubscriptionID: event.SubscriptionID,
		InvoiceID:      event.InvoiceID,
	})
	logrus.Infof("dunning event %s resolved after %d retries", event.DunningID, event.RetryCount)
	return nil
}

// handleMaxRetriesReached moves the event to failed, puts the subscription
// into its grace period, and sends the final notice. Cancellation itself is
// deferred: the scheduler cancels once the grace period elapses and the
// subscription is still past_due.
func (d *DunningManager) handleMaxRetriesReached(ctx context.Context, event *model.DunningEvent) error {
	now := d.clock.Now()
	event.Fail(now)
	event.RecordNotification(NoticeFinalNotice, now)
	if err := d.datasource.UpdateDunningEvent(ctx, event); err != nil {
		return err
	}

	sub, err := d.datasource.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}
	graceEnd := now.Add(d.conf.GracePeriod())
	sub.Status = model.SubscriptionPastDue
	sub.GracePeriodEnd = &graceEnd
	if err := d.datasource.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	notify(ctx, d.notifier, Notification{
		Type:           NoticeFinalNotice,
		SubscriptionID: event.SubscriptionID,
		InvoiceID:      event.InvoiceID,
		Data:           map[string]interface{}{"grace_period_end": graceEnd},
	})
	logrus.Warnf("dunning exhausted for subscription %s, grace period ends %s", event.SubscriptionID, graceEnd.Format(time.RFC3339))
	return nil
}

// CancelSubscriptionForNonPayment cancels a subscription whose grace period
// ran out. The past_due check at execution time is the guard against stale
// cancellation: a subscription recovered by a manual payment is left alone.
func (d *DunningManager) CancelSubscriptionForNonPayment(ctx context.Context, subscriptionID string) error {
	d.locks.Lock(subscriptionID)
	defer d.locks.Unlock(subscriptionID)

	sub, err := d.datasource.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != model.SubscriptionPastDue {
		logrus.Infof("subscription %s is %s, skipping non-payment cancellation", subscriptionID, sub.Status)
		return nil
	}

	sub.Cancel(model.CancellationNonPayment, d.clock.Now())
	if err := d.datasource.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	notify(ctx, d.notifier, Notification{
		Type:           NoticeCancellation,
		SubscriptionID: subscriptionID,
	})
	logrus.Warnf("subscription %s canceled for non-payment", subscriptionID)
	return nil
}

// RetryOutcome is the per-event result of one batch pass.
type RetryOutcome struct {
	DunningID string `json:"dunning_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// ProcessPendingRetries runs every due retry. Individual failures are
// recorded in the outcome and do not abort the batch.
func (d *DunningManager) ProcessPendingRetries(ctx context.Context) ([]RetryOutcome, error) {
	due, err := d.datasource.ListDueDunningRetries(ctx, d.clock.Now())
	if err != nil {
		return nil, err
	}

	outcomes := make([]RetryOutcome, 0, len(due))
	for _, event := range due {
		outcome := RetryOutcome{DunningID: event.DunningID}
		updated, err := d.ProcessRetry(ctx, event.DunningID)
		if err != nil {
			outcome.Error = err.Error()
			outcome.Status = event.Status
			logrus.Errorf("dunning retry for event %s failed: %v", event.DunningID, err)
		} else {
			outcome.Status = updated.Status
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// ProcessExpiredGracePeriods cancels every subscription whose grace period
// has elapsed while still past_due. Returns the number of cancellations.
func (d *DunningManager) ProcessExpiredGracePeriods(ctx context.Context) (int, error) {
	expired, err := d.datasource.ListExpiredGracePeriods(ctx, d.clock.Now())
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, event := range expired {
		if err := d.CancelSubscriptionForNonPayment(ctx, event.SubscriptionID); err != nil {
			logrus.Errorf("failed to cancel subscription %s: %v", event.SubscriptionID, err)
			continue
		}
		canceled++
	}
	return canceled, nil
}

// CleanupOldEvents identifies terminal dunning events past the archive
// window. They are logged, not deleted; archival stays an operator decision.
func (d *DunningManager) CleanupOldEvents(ctx context.Context) (int, error) {
	cutoff := d.clock.Now().Add(-time.Duration(d.conf.ArchiveAfterDays) * 24 * time.Hour)
	stale, err := d.datasource.ListTerminalDunningOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, event := range stale {
		logrus.Infof("dunning event %s (%s) is older than %d days and eligible for archival", event.DunningID, event.Status, d.conf.ArchiveAfterDays)
	}
	return len(stale), nil
}
