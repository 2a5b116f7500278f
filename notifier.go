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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/rentora/billing/config"
)

// Customer notice types recorded on dunning events and emitted by handlers.
const (
	NoticeInvoiceCreated = "invoice_created"
	NoticePaymentFailure = "payment_failure"
	NoticeRetryReminder  = "retry_reminder"
	NoticeFinalNotice    = "final_notice"
	NoticePaymentSuccess = "payment_success"
	NoticeCancellation   = "subscription_canceled"
	NoticeTrialEnding    = "trial_ending"
)

// Notification is one outbound customer/ops notice.
type Notification struct {
	Type           string      `json:"type"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	InvoiceID      string      `json:"invoice_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

// Notifier delivers notices to the configured channel. Delivery failures are
// logged and swallowed by callers; a lost notice never fails event
// processing.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// WebhookNotifier posts notifications to a configured webhook URL. When no
// URL is configured every notice is a silent no-op.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookNotifier builds a notifier from configuration.
func NewWebhookNotifier(cnf config.Notification) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cnf.Webhook.Url,
		headers: cnf.Webhook.Headers,
		client:  &http.Client{},
	}
}

// Notify sends one notice via HTTP POST.
func (n *WebhookNotifier) Notify(ctx context.Context, notification Notification) error {
	if n.url == "" {
		return nil
	}

	jsonData, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification delivery failed with status code: %d", resp.StatusCode)
	}
	return nil
}

// notify delivers a notice and logs a failure without propagating it.
func notify(ctx context.Context, notifier Notifier, notification Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, notification); err != nil {
		logrus.Warnf("failed to deliver %s notification for %s: %v", notification.Type, notification.SubscriptionID, err)
	}
}
