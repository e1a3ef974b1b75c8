// Package redis provides helpers for connecting to a Redis server.
//
// Connect parses a redis:// URL, pings the server and retries with exponential
// back-off. Healthcheck returns a probe suitable for readiness endpoints.
// Configuration is described by Config, populated from environment variables
// via github.com/caarlos0/env. Redis is optional for billingd: when REDIS_URL is
// empty the gateway idempotency records are kept in process memory.
//
// # Usage
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	if cfg.Enabled() {
//	    client, err := redis.Connect(ctx, cfg)
//	    if err != nil {
//	        return err
//	    }
//	    defer client.Close()
//	}
package redis
