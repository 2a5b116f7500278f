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

import "sync"

// subscriptionLocks serializes read-modify-write sequences on a single
// subscription. Webhook handlers and dunning operations for the same
// subscription hold its lock across the full get-mutate-update span, so a
// concurrent pair can never clobber each other's write; operations on
// different subscriptions proceed in parallel. The processor and the dunning
// manager share one instance.
type subscriptionLocks struct {
	locks sync.Map
}

// Lock acquires the lock for one subscription, creating it on first use.
func (l *subscriptionLocks) Lock(subscriptionID string) {
	mu, _ := l.locks.LoadOrStore(subscriptionID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
}

// Unlock releases the lock for one subscription. Must pair with Lock.
func (l *subscriptionLocks) Unlock(subscriptionID string) {
	mu, ok := l.locks.Load(subscriptionID)
	if !ok {
		return
	}
	mu.(*sync.Mutex).Unlock()
}
