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
	"github.com/gin-gonic/gin"

	"github.com/rentora/billing"
	"github.com/rentora/billing/api/middleware"
	"github.com/rentora/billing/config"
)

type Api struct {
	billing *billing.Billing
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/webhooks/:source", a.IngestWebhook)

	router.GET("/events", a.GetAllEvents)
	router.GET("/events/stats", a.GetEventStats)
	router.GET("/events/:id", a.GetEvent)
	router.POST("/events/:id/retry", a.RetryEvent)
	router.POST("/events/retry-failed", a.RetryFailedEvents)

	router.POST("/dunning/process", a.ProcessDunningRetries)
	router.POST("/dunning/cleanup", a.CleanupDunning)

	router.GET("/revenue", a.GetRevenue)
	return a.router
}

func NewAPI(b *billing.Billing) (*Api, error) {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{billing: b, router: r}, nil
}
