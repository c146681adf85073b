package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateFeed(&c.Feed)...)
	errors = append(errors, validateChart(&c.Chart)...)
	errors = append(errors, validateRender(&c.Render)...)
	errors = append(errors, validateRates(&c.Rates)...)
	errors = append(errors, validateRedis(&c.Redis)...)
	errors = append(errors, validateNotify(&c.Notify)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateFeed(f *FeedConfig) []ValidationError {
	var errors []ValidationError

	if !f.Enabled {
		return nil
	}

	if strings.TrimSpace(f.Host) == "" {
		errors = append(errors, ValidationError{
			Field:   "feed.host",
			Message: "must not be empty",
		})
	}

	if strings.Contains(f.Host, "://") {
		errors = append(errors, ValidationError{
			Field:   "feed.host",
			Message: "must be a host[:port] without scheme",
		})
	}

	if f.ReconnectDelay < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "feed.reconnect_delay",
			Message: "must be at least 100ms",
		})
	}

	return errors
}

func validateChart(c *ChartConfig) []ValidationError {
	var errors []ValidationError

	if c.Window < 1 {
		errors = append(errors, ValidationError{
			Field:   "chart.window",
			Message: "must be at least 1",
		})
	}

	if len(c.Sources) == 0 {
		errors = append(errors, ValidationError{
			Field:   "chart.sources",
			Message: "must name at least one exchange",
		})
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			errors = append(errors, ValidationError{
				Field:   "chart.sources",
				Message: "must not contain empty names",
			})
			continue
		}
		if seen[key] {
			errors = append(errors, ValidationError{
				Field:   "chart.sources",
				Message: fmt.Sprintf("duplicate source %q", s),
			})
		}
		seen[key] = true
	}

	return errors
}

func validateRender(r *RenderConfig) []ValidationError {
	var errors []ValidationError

	if r.HighlightDuration <= 0 {
		errors = append(errors, ValidationError{
			Field:   "render.highlight_duration",
			Message: "must be positive",
		})
	}

	return errors
}

func validateRates(r *RatesConfig) []ValidationError {
	var errors []ValidationError

	if !r.Enabled {
		return nil
	}

	if r.PollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "rates.poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if r.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rates.request_timeout",
			Message: "must be positive",
		})
	}

	if r.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "rates.requests_per_second",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateRedis(r *RedisConfig) []ValidationError {
	var errors []ValidationError

	if r.Addr == "" {
		return nil
	}

	if r.DB < 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.db",
			Message: "must be non-negative",
		})
	}

	if r.Channel == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.channel",
			Message: "must not be empty",
		})
	}

	if r.RatesKey == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.rates_key",
			Message: "must not be empty",
		})
	}

	return errors
}

func validateNotify(n *NotifyConfig) []ValidationError {
	var errors []ValidationError

	if n.MinKAS < 0 {
		errors = append(errors, ValidationError{
			Field:   "notify.min_kas",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Port < 1 || hs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", hs.Port),
		})
	}

	return errors
}
