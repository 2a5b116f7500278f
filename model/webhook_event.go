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
	"encoding/json"
	"time"
)

// WebhookEvent is one inbound payment-provider notification together with its
// processing outcome. Created on ingestion; only the processor mutates the
// Processed/Error/ProcessedAt fields afterwards. Once Processed is true the
// event is never handed to a handler again.
type WebhookEvent struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Source      string          `json:"source"` // provider tag, e.g. "stripe"
	Payload     json.RawMessage `json:"payload"`
	Processed   bool            `json:"processed"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// NewWebhookEvent builds an unprocessed event record for an inbound payload.
func NewWebhookEvent(source, eventType string, payload json.RawMessage) *WebhookEvent {
	return &WebhookEvent{
		EventID:   GenerateUUIDWithSuffix("evt"),
		EventType: eventType,
		Source:    source,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Failed reports whether the event exhausted processing and carries an error.
func (e *WebhookEvent) Failed() bool {
	return !e.Processed && e.Error != ""
}

// Pending reports whether the event is still waiting for a first (or reset)
// processing attempt.
func (e *WebhookEvent) Pending() bool {
	return !e.Processed && e.Error == ""
}

// EventStats is the aggregate view served to the admin surface.
type EventStats struct {
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}
