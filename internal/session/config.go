package session

import (
	"github.com/rickgao/studio-console/internal/config"
	"github.com/rickgao/studio-console/internal/connection"
)

// FromConfig maps the loaded console configuration onto session settings.
func FromConfig(c *config.ConsoleConfig) Config {
	s := c.Session
	return Config{
		Manager: connection.ManagerConfig{
			ReconnectBaseDelay: s.ReconnectBaseDelay,
			ReconnectMaxDelay:  s.ReconnectMaxDelay,
			ReconnectJitter:    s.ReconnectJitter,
			PingInterval:       s.PingInterval,
			PongTimeout:        s.PongTimeout,
			HandshakeTimeout:   s.HandshakeTimeout,
		},
		Dialer: connection.WSDialerConfig{
			APIKey:       c.API.APIKey,
			WriteTimeout: s.WriteTimeout,
			ReadLimit:    s.ReadLimit,
		},
	}
}
