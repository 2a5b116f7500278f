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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentora/billing/internal/apierror"
)

// ProcessDunningRetries runs one dunning pass outside the scheduler cadence.
func (a Api) ProcessDunningRetries(c *gin.Context) {
	outcomes, err := a.billing.ProcessPendingRetries(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": len(outcomes), "outcomes": outcomes})
}

// CleanupDunning runs the archival sweep outside the scheduler cadence.
func (a Api) CleanupDunning(c *gin.Context) {
	archived, err := a.billing.ForceCleanup(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"archived": archived})
}
