// Package server provides the HTTP interface of the cost monitor.
//
// Routes are served by echo behind a net/http server with fixed timeouts
// (read 15s, write 15s, idle 60s):
//   - /                              : status page
//   - /metrics                       : Prometheus metrics
//   - /health                        : liveness check (always 200)
//   - /ready                         : readiness check (200 once a refresh produced data)
//   - /api/summary                   : cached report, or a fresh one when providers, start, end or currency is given
//   - /api/summary/daily             : daily totals, ?provider= for one provider
//   - /api/alerts                    : alerts, filtered by ?level= and ?state=active|all, ordered by ?sort=
//   - /api/alerts/summary            : alert counts by state, level and provider
//   - /api/alerts/:id/acknowledge    : POST, acknowledge an alert
//   - /api/alerts/:id/resolve        : POST, resolve an alert
//   - /api/providers                 : per-provider status including the last error
//
// Example usage:
//
//	srv := server.NewServer(cfg, svc, registry, log)
//	go func() { serverErrors <- srv.Start() }()
//	...
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	_ = srv.Shutdown(ctx)
package server
