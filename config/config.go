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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// Scheduler intervals below these are rejected outright; a runaway
	// driver loop hammers the billing stores for no recovery benefit.
	MinProcessingIntervalSec = 10
	MinCleanupIntervalSec    = 3600
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"BILLING_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"BILLING_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"BILLING_SERVER_PORT"`
}

type QueueConfig struct {
	BatchSize          int `json:"batch_size" envconfig:"BILLING_QUEUE_BATCH_SIZE"`
	ProcessingDelayMS  int `json:"processing_delay_ms" envconfig:"BILLING_QUEUE_PROCESSING_DELAY_MS"`
	MaxConcurrentJobs  int `json:"max_concurrent_jobs" envconfig:"BILLING_QUEUE_MAX_CONCURRENT_JOBS"`
	RetryMaxAgeHours   int `json:"retry_max_age_hours" envconfig:"BILLING_QUEUE_RETRY_MAX_AGE_HOURS"`
	RetentionDays      int `json:"retention_days" envconfig:"BILLING_QUEUE_RETENTION_DAYS"`
	EnqueueKickDelayMS int `json:"enqueue_kick_delay_ms" envconfig:"BILLING_QUEUE_ENQUEUE_KICK_DELAY_MS"`
}

func (q QueueConfig) ProcessingDelay() time.Duration {
	return time.Duration(q.ProcessingDelayMS) * time.Millisecond
}

func (q QueueConfig) EnqueueKickDelay() time.Duration {
	return time.Duration(q.EnqueueKickDelayMS) * time.Millisecond
}

type ProcessorConfig struct {
	RetryAttempts   int `json:"retry_attempts" envconfig:"BILLING_PROCESSOR_RETRY_ATTEMPTS"`
	RetryDelayMS    int `json:"retry_delay_ms" envconfig:"BILLING_PROCESSOR_RETRY_DELAY_MS"`
	MaxRetryDelayMS int `json:"max_retry_delay_ms" envconfig:"BILLING_PROCESSOR_MAX_RETRY_DELAY_MS"`
}

func (p ProcessorConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMS) * time.Millisecond
}

func (p ProcessorConfig) MaxRetryDelay() time.Duration {
	return time.Duration(p.MaxRetryDelayMS) * time.Millisecond
}

type DunningConfig struct {
	RetryScheduleDays []int `json:"retry_schedule_days" envconfig:"BILLING_DUNNING_RETRY_SCHEDULE_DAYS"`
	MaxRetries        int   `json:"max_retries" envconfig:"BILLING_DUNNING_MAX_RETRIES"`
	GracePeriodDays   int   `json:"grace_period_days" envconfig:"BILLING_DUNNING_GRACE_PERIOD_DAYS"`
	ArchiveAfterDays  int   `json:"archive_after_days" envconfig:"BILLING_DUNNING_ARCHIVE_AFTER_DAYS"`
}

func (d DunningConfig) GracePeriod() time.Duration {
	return time.Duration(d.GracePeriodDays) * 24 * time.Hour
}

type SchedulerConfig struct {
	ProcessingIntervalSec int `json:"processing_interval_sec" envconfig:"BILLING_SCHEDULER_PROCESSING_INTERVAL_SEC"`
	CleanupIntervalSec    int `json:"cleanup_interval_sec" envconfig:"BILLING_SCHEDULER_CLEANUP_INTERVAL_SEC"`
}

func (s SchedulerConfig) ProcessingInterval() time.Duration {
	return time.Duration(s.ProcessingIntervalSec) * time.Second
}

func (s SchedulerConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSec) * time.Second
}

// Validate rejects intervals below the defined minimums. Used both at config
// load and when the scheduler is reconfigured at runtime.
func (s SchedulerConfig) Validate() error {
	if s.ProcessingIntervalSec < MinProcessingIntervalSec {
		return errors.New("scheduler processing interval below 10s minimum")
	}
	if s.CleanupIntervalSec < MinCleanupIntervalSec {
		return errors.New("scheduler cleanup interval below 1h minimum")
	}
	return nil
}

type GatewayConfig struct {
	ChargeUrl  string            `json:"charge_url" envconfig:"BILLING_GATEWAY_CHARGE_URL"`
	Headers    map[string]string `json:"headers"`
	TimeoutSec int               `json:"timeout_sec" envconfig:"BILLING_GATEWAY_TIMEOUT_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"BILLING_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"BILLING_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"BILLING_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type WebhookNotification struct {
	Url     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Webhook WebhookNotification `json:"webhook"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"BILLING_PROJECT_NAME"`
	Server       ServerConfig    `json:"server"`
	Queue        QueueConfig     `json:"queue"`
	Processor    ProcessorConfig `json:"processor"`
	Dunning      DunningConfig   `json:"dunning"`
	Scheduler    SchedulerConfig `json:"scheduler"`
	Gateway      GatewayConfig   `json:"gateway"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Notification Notification    `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("billing", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called billing.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Rentora Billing"
	}
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
	}

	if cnf.Queue.BatchSize <= 0 {
		cnf.Queue.BatchSize = 10
	}
	if cnf.Queue.ProcessingDelayMS <= 0 {
		cnf.Queue.ProcessingDelayMS = 5000
	}
	if cnf.Queue.MaxConcurrentJobs <= 0 {
		cnf.Queue.MaxConcurrentJobs = 5
	}
	if cnf.Queue.RetryMaxAgeHours <= 0 {
		cnf.Queue.RetryMaxAgeHours = 24
	}
	if cnf.Queue.RetentionDays <= 0 {
		cnf.Queue.RetentionDays = 30
	}
	if cnf.Queue.EnqueueKickDelayMS <= 0 {
		cnf.Queue.EnqueueKickDelayMS = 100
	}

	if cnf.Processor.RetryAttempts <= 0 {
		cnf.Processor.RetryAttempts = 3
	}
	if cnf.Processor.RetryDelayMS <= 0 {
		cnf.Processor.RetryDelayMS = 1000
	}
	if cnf.Processor.MaxRetryDelayMS <= 0 {
		cnf.Processor.MaxRetryDelayMS = 30000
	}

	if len(cnf.Dunning.RetryScheduleDays) == 0 {
		cnf.Dunning.RetryScheduleDays = []int{1, 3, 7, 14}
	}
	if cnf.Dunning.MaxRetries <= 0 {
		cnf.Dunning.MaxRetries = 4
	}
	if cnf.Dunning.GracePeriodDays <= 0 {
		cnf.Dunning.GracePeriodDays = 7
	}
	if cnf.Dunning.ArchiveAfterDays <= 0 {
		cnf.Dunning.ArchiveAfterDays = 30
	}

	if cnf.Scheduler.ProcessingIntervalSec == 0 {
		cnf.Scheduler.ProcessingIntervalSec = 60
	}
	if cnf.Scheduler.CleanupIntervalSec == 0 {
		cnf.Scheduler.CleanupIntervalSec = 86400
	}
	if err := cnf.Scheduler.Validate(); err != nil {
		return err
	}

	if cnf.Gateway.TimeoutSec <= 0 {
		cnf.Gateway.TimeoutSec = 30
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		logrus.Fatalf("invalid mock config: %v", err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
