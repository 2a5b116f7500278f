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
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/rentora/billing/config"
)

// PaymentGateway is the capability used to re-attempt a charge during
// dunning. Implementations must be safe for concurrent use.
type PaymentGateway interface {
	Charge(ctx context.Context, subscriptionID, invoiceID string) error
}

// HTTPGateway charges through a provider-side charge endpoint. A non-2xx
// response or transport failure counts as a failed payment attempt.
type HTTPGateway struct {
	chargeURL string
	headers   map[string]string
	client    *http.Client
}

// NewHTTPGateway builds a gateway from configuration.
func NewHTTPGateway(cnf config.GatewayConfig) *HTTPGateway {
	return &HTTPGateway{
		chargeURL: cnf.ChargeUrl,
		headers:   cnf.Headers,
		client:    &http.Client{Timeout: time.Duration(cnf.TimeoutSec) * time.Second},
	}
}

type chargeRequest struct {
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id"`
}

type chargeResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Charge posts a charge request and interprets the provider's verdict.
func (g *HTTPGateway) Charge(ctx context.Context, subscriptionID, invoiceID string) error {
	if g.chargeURL == "" {
		return errors.New("payment gateway charge url is not configured")
	}

	body, err := json.Marshal(chargeRequest{SubscriptionID: subscriptionID, InvoiceID: invoiceID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.chargeURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range g.headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "charge request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("charge request failed with status code: %d", resp.StatusCode)
	}

	var verdict chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return errors.Wrap(err, "decoding charge response")
	}
	if !verdict.Success {
		if verdict.Reason == "" {
			verdict.Reason = "card declined"
		}
		return errors.Errorf("payment declined: %s", verdict.Reason)
	}
	return nil
}
