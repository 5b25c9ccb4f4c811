package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
	validBackends   = map[string]bool{"memory": true, "sqlite": true, "redis": true}
	validEvents     = map[string]bool{"transaction": true, "bill": true, "any": true}
	validActions    = map[string]bool{"log": true}
)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if !validLogFormats[cfg.Service.LogFormat] {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	secrets := []struct{ field, value string }{
		{"wallet.token", cfg.Wallet.Token},
		{"p2p.secret_key", cfg.P2P.SecretKey},
		{"webhooks.transaction_key", cfg.Webhooks.TransactionKey},
		{"webhooks.metrics_token", cfg.Webhooks.MetricsToken},
		{"delivery.redis.password", cfg.Delivery.Redis.Password},
	}
	for _, s := range secrets {
		if err := checkUnresolved(s.field, s.value); err != nil {
			return err
		}
	}

	if cfg.Client.CacheTTL < 0 {
		return fmt.Errorf("client.cache_ttl must not be negative")
	}
	if cfg.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must not be negative")
	}

	if !strings.HasPrefix(cfg.Webhooks.TransactionPath, "/") || !strings.HasPrefix(cfg.Webhooks.BillPath, "/") {
		return fmt.Errorf("webhooks paths must start with /")
	}
	if cfg.Webhooks.TransactionPath == cfg.Webhooks.BillPath {
		return fmt.Errorf("webhooks.transaction_path and webhooks.bill_path must differ")
	}

	if err := validateDelivery(cfg.Delivery); err != nil {
		return err
	}
	if err := validatePolling(cfg); err != nil {
		return err
	}
	return validateHandlers(cfg.Handlers)
}

func validateDelivery(d DeliveryConfig) error {
	if !validBackends[d.Backend] {
		return fmt.Errorf("delivery.backend must be one of: memory, sqlite, redis (got %q)", d.Backend)
	}
	if d.Retention < 0 {
		return fmt.Errorf("delivery.retention must not be negative")
	}
	if d.Backend == "redis" && d.Redis.Addr == "" {
		return fmt.Errorf("delivery.redis.addr is required for the redis backend")
	}
	return nil
}

func validatePolling(cfg *Config) error {
	p := cfg.Polling
	if !p.Enabled {
		return nil
	}
	if cfg.Wallet.Token == "" || cfg.Wallet.PhoneNumber == "" {
		return fmt.Errorf("polling requires wallet.token and wallet.phone_number")
	}
	if p.Every < time.Second {
		return fmt.Errorf("polling.every must be at least 1s (got %s)", p.Every)
	}
	if p.Jitter < 0 {
		return fmt.Errorf("polling.jitter must not be negative")
	}
	if p.Rows < 1 || p.Rows > 50 {
		return fmt.Errorf("polling.rows must be between 1 and 50 (got %d)", p.Rows)
	}
	if p.FailureThreshold < 1 {
		return fmt.Errorf("polling.failure_threshold must be at least 1")
	}
	if p.ResetAfter < 0 {
		return fmt.Errorf("polling.reset_after must not be negative")
	}
	if p.Lookback < 0 || p.Lookback > cfg.Delivery.Retention {
		return fmt.Errorf("polling.lookback must be between 0 and delivery.retention (%s)", cfg.Delivery.Retention)
	}
	return nil
}

func validateHandlers(handlers []HandlerConfig) error {
	seen := make(map[string]bool, len(handlers))
	for i, h := range handlers {
		if h.Name == "" {
			return fmt.Errorf("handlers[%d].name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("handlers[%d]: duplicate name %q", i, h.Name)
		}
		seen[h.Name] = true

		if !validEvents[h.Event] {
			return fmt.Errorf("handlers[%d] %q: event must be transaction, bill or any (got %q)", i, h.Name, h.Event)
		}
		if !validActions[h.Action] {
			return fmt.Errorf("handlers[%d] %q: unsupported action %q", i, h.Name, h.Action)
		}
		if !validLogLevels[h.Level] {
			return fmt.Errorf("handlers[%d] %q: invalid level %q", i, h.Name, h.Level)
		}
		if h.Filter != "" {
			if _, err := expr.Compile(h.Filter, expr.AsBool(), expr.AllowUndefinedVariables()); err != nil {
				return fmt.Errorf("handlers[%d] %q: invalid filter: %w", i, h.Name, err)
			}
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
