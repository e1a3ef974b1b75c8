// Package httpserver runs the billing HTTP surface.
//
// Server wraps http.Server: Run serves until its context is cancelled and then
// drains in-flight requests for a bounded time, so a webhook being applied is
// not cut off mid-write. Runner adapts Run to errgroup.
//
// NewRouter returns a chi router with request IDs, real client IPs, access
// logging and panic recovery. Liveness and Readiness are the probe handlers.
//
//	r := httpserver.NewRouter(log)
//	r.Get("/healthz", httpserver.Liveness())
//	r.Get("/readyz", httpserver.Readiness(log, 2*time.Second,
//	    httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//	))
//	r.Mount("/webhooks", processor.Handler())
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(srv.Runner(ctx, r))
package httpserver
