package am

import (
	"time"

	"github.com/teranos/ticketpulse/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	// Pulse workers: 0 = ingress only, no background execution
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}

	e := c.Enhancement
	if e.ContextTimeoutSeconds <= 0 {
		return errors.Newf("enhancement.context_timeout_seconds must be > 0, got %d", e.ContextTimeoutSeconds)
	}
	if e.SoftLimitSeconds <= 0 || e.HardLimitSeconds <= 0 {
		return errors.Newf("enhancement soft/hard limits must be > 0, got %d/%d", e.SoftLimitSeconds, e.HardLimitSeconds)
	}
	if e.SoftLimitSeconds >= e.HardLimitSeconds {
		err := errors.Newf("enhancement.soft_limit_seconds (%d) must be below hard_limit_seconds (%d)",
			e.SoftLimitSeconds, e.HardLimitSeconds)
		return errors.WithHint(err, "the soft limit warns before the hard limit abandons the execution")
	}

	if c.ServiceDesk.MaxRequestsPerMinute < 0 {
		return errors.Newf("servicedesk.max_requests_per_minute must be >= 0, got %d", c.ServiceDesk.MaxRequestsPerMinute)
	}
	for tenant, tc := range c.ServiceDesk.Tenants {
		if tc.BaseURL == "" {
			return errors.Newf("servicedesk.tenants.%s.base_url cannot be empty", tenant)
		}
	}

	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
	}

	return nil
}

// ContextTimeout returns the context phase budget
func (e EnhancementConfig) ContextTimeout() time.Duration {
	return time.Duration(e.ContextTimeoutSeconds) * time.Second
}

// SoftLimit returns the soft wall-clock limit of one execution
func (e EnhancementConfig) SoftLimit() time.Duration {
	return time.Duration(e.SoftLimitSeconds) * time.Second
}

// HardLimit returns the hard wall-clock limit of one execution
func (e EnhancementConfig) HardLimit() time.Duration {
	return time.Duration(e.HardLimitSeconds) * time.Second
}

// StaleAfter returns the age after which a pending record is reported stale
func (e EnhancementConfig) StaleAfter() time.Duration {
	return time.Duration(e.StaleAfterMinutes) * time.Minute
}
