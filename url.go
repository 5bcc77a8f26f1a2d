package falkordb

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// FalkorDB URL schemes and the go-redis schemes they stand for.
var schemeRewrites = []struct{ from, to string }{
	{"falkor://", "redis://"},
	{"falkors://", "rediss://"},
}

// RewriteScheme replaces a falkor:// or falkors:// prefix with redis:// or
// rediss:// respectively. Other URLs are returned unchanged.
func RewriteScheme(rawURL string) string {
	for _, r := range schemeRewrites {
		if strings.HasPrefix(rawURL, r.from) {
			return r.to + strings.TrimPrefix(rawURL, r.from)
		}
	}
	return rawURL
}

// ConfigFromURL parses a connection URL of the form
// scheme://[user:password@]host[:port][/db][?option=value...] into a Config.
//
// Accepted schemes are falkor, falkors (TLS), redis, rediss and unix. Query
// options are the ones go-redis understands, such as dial_timeout,
// read_timeout, pool_size, protocol, client_name and max_retries.
func ConfigFromURL(rawURL string) (Config, error) {
	opts, err := redis.ParseURL(RewriteScheme(rawURL))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	cfg := Config{
		Username:       opts.Username,
		Password:       opts.Password,
		DB:             opts.DB,
		ClientName:     opts.ClientName,
		Protocol:       opts.Protocol,
		ConnectTimeout: opts.DialTimeout,
		MaxConnections: opts.PoolSize,
	}

	if opts.Network == "unix" {
		cfg.UnixSocketPath = opts.Addr
	} else {
		addr, err := ParseAddress(opts.Addr)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		cfg.Host = addr.Host
		cfg.Port = addr.Port
	}

	if opts.ReadTimeout > 0 {
		cfg.SocketTimeout = opts.ReadTimeout
	}

	switch {
	case opts.MaxRetries < 0:
		cfg.Retry = NoRetry()
	case opts.MaxRetries > 0:
		cfg.Retry = DefaultRetry()
		cfg.Retry.Retries = opts.MaxRetries
	}

	if opts.TLSConfig != nil {
		cfg.TLS.Enabled = true
		if opts.TLSConfig.InsecureSkipVerify {
			cfg.TLS.CertReqs = CertNone
		}
	}

	return cfg, nil
}
