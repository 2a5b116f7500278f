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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// IngestWebhook is the envelope posted to /webhooks/:source. Data is kept
// raw; the pipeline handlers decode it per event type.
type IngestWebhook struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (i *IngestWebhook) ValidateIngestWebhook() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.Type, validation.Required),
		validation.Field(&i.Data, validation.By(func(value interface{}) error {
			data, ok := value.(json.RawMessage)
			if !ok || len(data) == 0 {
				return errors.New("data is required")
			}
			if !json.Valid(data) {
				return errors.New("data must be valid JSON")
			}
			return nil
		})),
	)
}

// RetryFailed requests a re-queue of failed events no older than
// MaxAgeHours. Zero means the server default.
type RetryFailed struct {
	MaxAgeHours int `json:"max_age_hours"`
}

func (r *RetryFailed) ValidateRetryFailed() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.MaxAgeHours, validation.Min(0)),
	)
}
