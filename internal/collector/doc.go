// Package collector fans a cost query out to every enabled provider gateway.
//
// Calls run concurrently under a bounded errgroup (DefaultMaxConcurrency)
// and each gets its own timeout. A failing provider is recorded in
// Result.Errors with its classified kind (auth, rate limit, transient) and
// never cancels the others. Result.Err reports ErrNoDataAvailable when no
// provider produced a summary.
//
// Example usage:
//
//	c := collector.New(collector.WithMaxConcurrency(3), collector.WithLogger(log))
//	result, err := c.Collect(ctx, gateways, query)
//	if err != nil {
//		return err
//	}
//	if err := result.Err(); err != nil {
//		return err // every provider failed
//	}
package collector
