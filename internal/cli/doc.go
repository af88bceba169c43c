// Package cli implements the cost-monitor command line.
//
// Commands:
//   - serve: background refresh, Prometheus metrics and the HTTP API
//   - report: one combined cost summary in text, table, markdown, json or prometheus format
//   - check: one threshold evaluation, failing or exiting with an Icinga status
//   - alerts: the alerts raised by one refresh
//   - version: build information
//
// Every command reads the YAML file named by --config and builds the same
// engine.Service from it.
package cli
