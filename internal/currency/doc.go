// Package currency converts provider cost summaries into a single target
// currency and pre-groups them for aggregation.
//
// Exchange rates come from a RateSource keyed by (from, to, day).
// StaticRates serves a fixed USD-based table with config overrides;
// CachingRates memoizes any other source. Conversion uses decimal
// arithmetic and rounds each converted amount to six places.
package currency
