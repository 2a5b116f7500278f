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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

const CancellationNonPayment = "non_payment"

// Subscription is a recurring-billing agreement for one CRM account.
// Status and the timestamp fields are mutated by both the webhook processor
// and the dunning manager; all mutations go through the store, which
// serializes them.
type Subscription struct {
	SubscriptionID     string          `json:"subscription_id"`
	CustomerID         string          `json:"customer_id"`
	Status             string          `json:"status"`
	PlanAmount         decimal.Decimal `json:"plan_amount"`
	BillingCycle       string          `json:"billing_cycle"`
	NextBillingDate    time.Time       `json:"next_billing_date"`
	GracePeriodEnd     *time.Time      `json:"grace_period_end,omitempty"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Cancel moves the subscription into the canceled terminal state.
func (s *Subscription) Cancel(reason string, at time.Time) {
	s.Status = SubscriptionCanceled
	s.CanceledAt = &at
	s.CancellationReason = reason
}

// MonthlyRevenue normalizes the plan amount to a monthly figure, used for
// MRR aggregation across active subscriptions.
func (s *Subscription) MonthlyRevenue() decimal.Decimal {
	if s.BillingCycle == BillingCycleAnnual {
		return s.PlanAmount.Div(decimal.NewFromInt(12))
	}
	return s.PlanAmount
}
