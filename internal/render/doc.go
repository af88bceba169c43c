// Package render formats cost summaries and alerts for people and machines.
//
// Every function takes value copies and writes to an io.Writer; nothing in
// this package holds state. Supported formats are plain text, aligned
// tables, Markdown and JSON. Prometheus renders the same view in the text
// exposition format, and Metrics exposes it as const metrics for a live
// prometheus.Collector. Icinga produces a Nagios-compatible plugin result
// whose status doubles as the process exit code.
package render
