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

import "time"

const (
	DunningActive   = "active"
	DunningResolved = "resolved"
	DunningFailed   = "failed"
)

// NotificationRecord is one customer notice sent during a dunning cycle,
// kept in send order on the event.
type NotificationRecord struct {
	Type   string    `json:"type"`
	SentAt time.Time `json:"sent_at"`
}

// DunningEvent tracks payment-failure recovery for one subscription. It is a
// small state machine: active until either a retry succeeds (resolved) or the
// retry budget is exhausted (failed). Terminal states never revert, and a
// subscription carries at most one active event at a time.
type DunningEvent struct {
	DunningID         string               `json:"dunning_id"`
	SubscriptionID    string               `json:"subscription_id"`
	InvoiceID         string               `json:"invoice_id"`
	FailureReason     string               `json:"failure_reason"`
	RetryCount        int                  `json:"retry_count"`
	Status            string               `json:"status"`
	CreatedAt         time.Time            `json:"created_at"`
	NextRetryDate     *time.Time           `json:"next_retry_date,omitempty"`
	NotificationsSent []NotificationRecord `json:"notifications_sent"`
	ResolvedAt        *time.Time           `json:"resolved_at,omitempty"`
	FailedAt          *time.Time           `json:"failed_at,omitempty"`
}

// Terminal reports whether the event has reached resolved or failed.
func (d *DunningEvent) Terminal() bool {
	return d.Status == DunningResolved || d.Status == DunningFailed
}

// Resolve marks the recovery successful. No-op once terminal.
func (d *DunningEvent) Resolve(at time.Time) {
	if d.Terminal() {
		return
	}
	d.Status = DunningResolved
	d.ResolvedAt = &at
	d.NextRetryDate = nil
}

// Fail marks the recovery exhausted. No-op once terminal.
func (d *DunningEvent) Fail(at time.Time) {
	if d.Terminal() {
		return
	}
	d.Status = DunningFailed
	d.FailedAt = &at
	d.NextRetryDate = nil
}

// RecordNotification appends a customer notice to the send history.
func (d *DunningEvent) RecordNotification(notificationType string, at time.Time) {
	d.NotificationsSent = append(d.NotificationsSent, NotificationRecord{
		Type:   notificationType,
		SentAt: at,
	})
}

// DueForRetry reports whether an active event's next retry date has passed.
func (d *DunningEvent) DueForRetry(now time.Time) bool {
	return d.Status == DunningActive && d.NextRetryDate != nil && !d.NextRetryDate.After(now)
}
