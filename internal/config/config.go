// Copyright 2025 The Previewd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mikelane/previewd/internal/dependency"
	"github.com/mikelane/previewd/internal/guard"
	"k8s.io/apimachinery/pkg/util/validation"
)

// EnvPrefix is prepended to every environment variable read by FromEnv.
const EnvPrefix = "PREVIEWD_"

// Defaults for the process configuration.
const (
	DefaultWebhookAddr       = ":8090"
	DefaultMetricsAddr       = ":8080"
	DefaultProbeAddr         = ":8081"
	DefaultReadinessInterval = 5 * time.Second
	DefaultReadinessTimeout  = 15 * time.Minute
	DefaultJobTimeout        = 10 * time.Minute
	DefaultCleanupInterval   = 5 * time.Minute
	DefaultRateLimitInterval = 10 * time.Second
	DefaultRateLimitBurst    = 5
	DefaultLeaderElectionID  = "previewd.previewd.io"
)

// Config is the configuration of a previewd process.
type Config struct {
	// ControlNamespace holds the environment snapshots and is always protected
	ControlNamespace string

	WebhookAddr   string
	WebhookSecret string
	MetricsAddr   string
	ProbeAddr     string

	// GitHubToken enables commit status reporting when set
	GitHubToken string
	// StatusURLTemplate is the commit status target URL; "{name}" is replaced
	// by the environment name
	StatusURLTemplate string

	ReadinessInterval time.Duration
	// ReadinessTimeout bounds the dependency readiness wait; zero waits forever
	ReadinessTimeout time.Duration
	JobTimeout       time.Duration
	CleanupInterval  time.Duration

	HelmImage          string
	ServiceAccountName string
	ResourceQuota      bool

	RateLimitInterval time.Duration
	RateLimitBurst    int

	LeaderElection   bool
	LeaderElectionID string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ControlNamespace:  guard.DefaultControlNamespace,
		WebhookAddr:       DefaultWebhookAddr,
		MetricsAddr:       DefaultMetricsAddr,
		ProbeAddr:         DefaultProbeAddr,
		ReadinessInterval: DefaultReadinessInterval,
		ReadinessTimeout:  DefaultReadinessTimeout,
		JobTimeout:        DefaultJobTimeout,
		CleanupInterval:   DefaultCleanupInterval,
		HelmImage:         dependency.DefaultImage,
		ResourceQuota:     true,
		RateLimitInterval: DefaultRateLimitInterval,
		RateLimitBurst:    DefaultRateLimitBurst,
		LeaderElectionID:  DefaultLeaderElectionID,
	}
}

// FromEnv returns Default overridden by PREVIEWD_* environment variables.
// Unparsable values are reported together.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	e := env{lookup: lookup}

	e.setString("CONTROL_NAMESPACE", &cfg.ControlNamespace)
	e.setString("WEBHOOK_ADDR", &cfg.WebhookAddr)
	e.setString("WEBHOOK_SECRET", &cfg.WebhookSecret)
	e.setString("METRICS_ADDR", &cfg.MetricsAddr)
	e.setString("PROBE_ADDR", &cfg.ProbeAddr)
	e.setString("GITHUB_TOKEN", &cfg.GitHubToken)
	e.setString("STATUS_URL_TEMPLATE", &cfg.StatusURLTemplate)
	e.setDuration("READINESS_INTERVAL", &cfg.ReadinessInterval)
	e.setDuration("READINESS_TIMEOUT", &cfg.ReadinessTimeout)
	e.setDuration("JOB_TIMEOUT", &cfg.JobTimeout)
	e.setDuration("CLEANUP_INTERVAL", &cfg.CleanupInterval)
	e.setString("HELM_IMAGE", &cfg.HelmImage)
	e.setString("SERVICE_ACCOUNT", &cfg.ServiceAccountName)
	e.setBool("RESOURCE_QUOTA", &cfg.ResourceQuota)
	e.setDuration("RATE_LIMIT_INTERVAL", &cfg.RateLimitInterval)
	e.setInt("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	e.setBool("LEADER_ELECT", &cfg.LeaderElection)
	e.setString("LEADER_ELECTION_ID", &cfg.LeaderElectionID)

	return cfg, errors.Join(e.errs...)
}

// Validate checks that the configuration can be used to run workflows.
func (c *Config) Validate() error {
	var errs []error

	if msgs := validation.IsDNS1123Label(c.ControlNamespace); len(msgs) > 0 {
		errs = append(errs, fmt.Errorf("control namespace %q is invalid: %v", c.ControlNamespace, msgs))
	}
	if c.ReadinessInterval <= 0 {
		errs = append(errs, fmt.Errorf("readiness interval must be positive, got %s", c.ReadinessInterval))
	}
	if c.ReadinessTimeout < 0 {
		errs = append(errs, fmt.Errorf("readiness timeout must not be negative, got %s", c.ReadinessTimeout))
	}
	if c.ReadinessTimeout > 0 && c.ReadinessTimeout < c.ReadinessInterval {
		errs = append(errs, fmt.Errorf("readiness timeout %s is shorter than the poll interval %s", c.ReadinessTimeout, c.ReadinessInterval))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("job timeout must be positive, got %s", c.JobTimeout))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval))
	}
	if c.HelmImage == "" {
		errs = append(errs, errors.New("helm image is required"))
	}
	if c.RateLimitInterval < 0 {
		errs = append(errs, fmt.Errorf("rate limit interval must not be negative, got %s", c.RateLimitInterval))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("rate limit burst must be at least 1, got %d", c.RateLimitBurst))
	}
	if c.LeaderElection && c.LeaderElectionID == "" {
		errs = append(errs, errors.New("leader election id is required when leader election is enabled"))
	}

	return errors.Join(errs...)
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) setString(key string, dst *string) {
	if v, ok := e.lookup(EnvPrefix + key); ok {
		*dst = v
	}
}

func (e *env) setDuration(key string, dst *time.Duration) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}

func (e *env) setInt(key string, dst *int) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = n
}

func (e *env) setBool(key string, dst *bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = b
}
