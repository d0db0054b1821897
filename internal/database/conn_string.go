package database

import (
	"net/url"
	"strconv"

	"github.com/rickgao/studio-console/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	host := cfg.Host
	if cfg.Port != 0 {
		host += ":" + strconv.Itoa(cfg.Port)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host,
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	return u.String()
}
