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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rentora/billing/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

// openDunning seeds a past_due subscription with a failed invoice and an
// active dunning event.
func openDunning(t *testing.T, tp *testPipeline) (*model.Subscription, *model.Invoice, *model.DunningEvent) {
	t.Helper()
	ctx := context.Background()
	sub := tp.seedSubscription(ctx, model.SubscriptionPastDue)
	inv := tp.seedInvoice(ctx, sub.SubscriptionID, model.InvoicePaymentFailed)
	event, err := tp.billing.dunning.CreateDunningEvent(ctx, sub.SubscriptionID, inv.InvoiceID, "card_declined")
	require.NoError(t, err)
	return sub, inv, event
}

// Failure at day 0 schedules retries at +1d, +3d, +7d, +14d
// (each offset from the previous failure); the 4th failed retry exhausts the
// cycle and starts a 7 day grace period.
func TestDunningCadence(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	tp.gateway.results = []error{errors.New("card declined")}

	sub, _, event := openDunning(t, tp)
	start := tp.clock.Now()
	require.NotNil(t, event.NextRetryDate)
	assert.Equal(t, start.Add(1*day), *event.NextRetryDate)

	expectedOffsets := []time.Duration{3 * day, 7 * day, 14 * day}
	for i, offset := range expectedOffsets {
		tp.clock.Advance(day)
		retryTime := tp.clock.Now()
		updated, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
		require.NoError(t, err)
		assert.Equal(t, i+1, updated.RetryCount)
		assert.Equal(t, model.DunningActive, updated.Status)
		require.NotNil(t, updated.NextRetryDate)
		assert.Equal(t, retryTime.Add(offset), *updated.NextRetryDate)
	}

	// Fourth failed retry exhausts the budget.
	tp.clock.Advance(day)
	exhaustedAt := tp.clock.Now()
	updated, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.RetryCount)
	assert.Equal(t, model.DunningFailed, updated.Status)
	assert.NotNil(t, updated.FailedAt)

	subRecord, err := tp.ds.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPastDue, subRecord.Status)
	require.NotNil(t, subRecord.GracePeriodEnd)
	assert.Equal(t, exhaustedAt.Add(7*day), *subRecord.GracePeriodEnd)
	assert.Equal(t, 1, tp.notifier.countOf(NoticeFinalNotice))
}

// A successful retry settles the invoice, reactivates the
// subscription, and resolves the dunning event.
func TestProcessRetrySuccessResolves(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)

	sub, inv, event := openDunning(t, tp)
	tp.clock.Advance(day)

	updated, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
	require.NoError(t, err)
	assert.Equal(t, model.DunningResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
	assert.Nil(t, updated.NextRetryDate)

	invoice, err := tp.ds.GetInvoice(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, invoice.Status)

	subRecord, err := tp.ds.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, subRecord.Status)
	assert.Nil(t, subRecord.GracePeriodEnd)
	assert.Equal(t, 1, tp.notifier.countOf(NoticePaymentSuccess))
}

func TestProcessRetryNoOpOnTerminalEvent(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)

	_, _, event := openDunning(t, tp)
	_, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
	require.NoError(t, err)
	callsAfterResolve := tp.gateway.callCount()

	updated, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
	require.NoError(t, err)
	assert.Equal(t, model.DunningResolved, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, callsAfterResolve, tp.gateway.callCount())
}

func TestCreateDunningEventReusesActive(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)

	sub, inv, first := openDunning(t, tp)
	second, err := tp.billing.dunning.CreateDunningEvent(ctx, sub.SubscriptionID, inv.InvoiceID, "expired_card")
	require.NoError(t, err)
	assert.Equal(t, first.DunningID, second.DunningID)

	// Once the first cycle is terminal a fresh failure opens a new one.
	_, err = tp.billing.dunning.ProcessRetry(ctx, first.DunningID)
	require.NoError(t, err)
	third, err := tp.billing.dunning.CreateDunningEvent(ctx, sub.SubscriptionID, inv.InvoiceID, "expired_card")
	require.NoError(t, err)
	assert.NotEqual(t, first.DunningID, third.DunningID)
}

func TestCancelSubscriptionForNonPayment(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	sub := tp.seedSubscription(ctx, model.SubscriptionPastDue)

	require.NoError(t, tp.billing.dunning.CancelSubscriptionForNonPayment(ctx, sub.SubscriptionID))
	updated, err := tp.ds.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCanceled, updated.Status)
	assert.Equal(t, model.CancellationNonPayment, updated.CancellationReason)
}

func TestCancelSkipsReactivatedSubscription(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)

	// Manual payment landed before the scheduled cancellation fired.
	sub := tp.seedSubscription(ctx, model.SubscriptionActive)
	require.NoError(t, tp.billing.dunning.CancelSubscriptionForNonPayment(ctx, sub.SubscriptionID))

	updated, err := tp.ds.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, updated.Status)
	assert.Empty(t, updated.CancellationReason)
}

func TestProcessPendingRetriesBatch(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	tp.gateway.results = []error{nil, errors.New("card declined")}

	_, _, first := openDunning(t, tp)
	_, _, second := openDunning(t, tp)
	tp.clock.Advance(2 * day)

	outcomes, err := tp.billing.dunning.ProcessPendingRetries(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := map[string]RetryOutcome{}
	for _, outcome := range outcomes {
		byID[outcome.DunningID] = outcome
	}
	assert.Equal(t, model.DunningResolved, byID[first.DunningID].Status)
	assert.Equal(t, model.DunningActive, byID[second.DunningID].Status)
}

func TestProcessExpiredGracePeriodsCancels(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)
	tp.gateway.results = []error{errors.New("card declined")}

	sub, _, event := openDunning(t, tp)

	// Exhaust the cycle.
	for i := 0; i < 4; i++ {
		tp.clock.Advance(15 * day)
		_, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
		require.NoError(t, err)
	}

	// Grace period still running: no cancellation yet.
	canceled, err := tp.billing.dunning.ProcessExpiredGracePeriods(ctx)
	require.NoError(t, err)
	assert.Zero(t, canceled)

	tp.clock.Advance(8 * day)
	canceled, err = tp.billing.dunning.ProcessExpiredGracePeriods(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, canceled)

	updated, err := tp.ds.GetSubscription(ctx, sub.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCanceled, updated.Status)
	assert.Equal(t, model.CancellationNonPayment, updated.CancellationReason)
}

func TestCleanupOldEventsIdentifiesTerminal(t *testing.T) {
	ctx := context.Background()
	tp := newTestPipeline(nil)

	_, _, event := openDunning(t, tp)
	_, err := tp.billing.dunning.ProcessRetry(ctx, event.DunningID)
	require.NoError(t, err)

	stale, err := tp.billing.dunning.CleanupOldEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, stale)

	tp.clock.Advance(31 * day)
	stale, err = tp.billing.dunning.CleanupOldEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stale)

	// Cleanup only identifies; the record itself survives.
	_, err = tp.ds.GetDunningEvent(ctx, event.DunningID)
	assert.NoError(t, err)
}
