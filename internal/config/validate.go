package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ConsoleConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	s := c.Session
	if s.ReconnectBaseDelay <= 0 {
		return errors.New("session.reconnect_base_delay must be > 0")
	}
	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		return fmt.Errorf("session.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)", s.ReconnectMaxDelay, s.ReconnectBaseDelay)
	}
	if s.ReconnectJitter < 0 || s.ReconnectJitter > 1 {
		return fmt.Errorf("session.reconnect_jitter must be between 0 and 1, got %v", s.ReconnectJitter)
	}
	if s.PingInterval <= 0 || s.PongTimeout <= 0 {
		return errors.New("session.ping_interval and session.pong_timeout must be > 0")
	}

	if c.Database.History.Enabled() {
		if err := c.Database.History.validate("database.history"); err != nil {
			return err
		}
	}

	if c.History.BatchSize < 1 {
		return errors.New("history.batch_size must be >= 1")
	}
	if c.History.BufferSize < 1 {
		return errors.New("history.buffer_size must be >= 1")
	}
	if c.History.MaxBuffer < c.History.BufferSize {
		return fmt.Errorf("history.max_buffer (%d) cannot be below buffer_size (%d)", c.History.MaxBuffer, c.History.BufferSize)
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %v URL, got %q", field, schemes, raw)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
