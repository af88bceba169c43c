// Package aggregator merges per-provider normalized summaries into one
// multi-cloud view. Aggregate is pure: no I/O and no shared state.
//
// Service and account keys are provider-qualified ("AWS: Amazon S3",
// "aws:123456789012") so identical names from different clouds never
// merge. Regions are a shared attribute space and are summed across
// providers. Every combined day carries every provider key of the cycle,
// zero-filled when a provider reported nothing that day.
package aggregator
