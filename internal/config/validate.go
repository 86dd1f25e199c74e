package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	durations := []struct {
		field string
		value string
	}{
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"JOURNAL_DRAIN_TIMEOUT", cfg.JournalDrainTimeoutStr},
		{"MONITOR_INTERVAL", cfg.MonitorIntervalStr},
		{"INVOKE_TIMEOUT", cfg.InvokeTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
	}
	for _, item := range durations {
		if item.value == "" {
			continue
		}
		d, err := time.ParseDuration(item.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   item.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   item.field,
				Message: "must be positive",
			})
		}
	}

	if cfg.RedisAddr != "" && cfg.AnalyticsRetention <= 0 {
		errs = append(errs, ValidationError{
			Field:   "ANALYTICS_RETENTION",
			Message: "required when REDIS_ADDR is set",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
