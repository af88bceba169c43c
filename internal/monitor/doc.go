// Package monitor evaluates combined costs against configured limits.
//
// ThresholdMonitor keeps the live alert set for the lifetime of the
// process. Each alert is identified by (provider, level, as-of date) and
// moves through a small state machine:
//
//	inactive -> active -> acknowledged -> resolved -> active ...
//
// A breach creates the alert; re-checking while still over the limit
// updates its current value and metadata in place. Falling back under the
// limit marks it resolved, and resolved alerts are retained until
// ClearResolved is called. When a cost reaches both limits only the
// critical alert is active for that provider and date.
//
// Provider-scoped thresholds win over global ones for the same level. The
// combined total is evaluated under the provider key TotalKey ("all").
//
// AnomalyDetector and BudgetMonitor are smaller helpers used by the
// engine for spike detection and budget tracking.
package monitor
