// Package engine wires collection, normalization, aggregation and alerting
// into one service.
//
// A Service owns the provider gateways, the threshold monitor and the
// optional history store. GetCombinedSummary runs one full cycle on demand;
// StartBackgroundRefresh repeats it on the configured interval and caches
// the latest Report for the HTTP API and the Prometheus collector. Provider
// failures never fail a cycle as long as one provider produced data; they
// are reported per provider in Report.Errors.
package engine
