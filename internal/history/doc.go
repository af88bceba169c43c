// Package history persists daily cost snapshots and provider sync runs in
// SQLite.
//
// Each refresh cycle upserts one row per (date, provider) with the
// normalized cost, so late-arriving billing data overwrites earlier
// partial values. The stored series gives anomaly detection a look-back
// window longer than a single query range. Sync runs record when each
// provider was last fetched and whether it succeeded.
package history
