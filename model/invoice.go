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
	InvoicePending       = "pending"
	InvoicePaid          = "paid"
	InvoicePaymentFailed = "payment_failed"
)

// Invoice is one billing charge against a subscription.
type Invoice struct {
	InvoiceID      string          `json:"invoice_id"`
	SubscriptionID string          `json:"subscription_id"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        time.Time       `json:"due_date"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MarkPaid records settlement of the invoice.
func (i *Invoice) MarkPaid(at time.Time) {
	i.Status = InvoicePaid
	i.PaidAt = &at
}
