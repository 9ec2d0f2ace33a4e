package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
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

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// RUN_SCHEDULE must be a valid 5-field cron expression
	if cfg.RunSchedule != "" {
		if _, err := cronParser.Parse(cfg.RunSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "RUN_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	// SCHEDULE_TIMEZONE must name a known location
	if cfg.ScheduleTimezone != "" {
		if _, err := time.LoadLocation(cfg.ScheduleTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SCHEDULE_TIMEZONE",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	// DB_OP_TIMEOUT must be a valid positive duration
	if cfg.DBOpTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.DBOpTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "DB_OP_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "DB_OP_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
