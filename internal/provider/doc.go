// Package provider defines the cloud provider abstraction layer.
//
// Every billing integration (AWS Cost Explorer, Azure Cost Management,
// GCP billing export) implements the Gateway interface:
//
//	type Gateway interface {
//		Name() ProviderType
//		Authenticate(ctx context.Context) error
//		FetchCosts(ctx context.Context, q Query) (*CostSummary, error)
//		AccountCount() int
//	}
//
// A CostSummary is the raw, provider-currency result of one query. It is
// owned by the collector for a single collection cycle and treated as
// read-only once returned.
//
// Gateways report failures through three sentinel errors so the collector
// can record a per-provider error kind without knowing the SDK in use:
//   - ErrAuth: credentials invalid, expired or lacking permission
//   - ErrRateLimit: the billing API throttled the request
//   - ErrTransient: network failures, timeouts and anything unclassified
//
// Classify converts an arbitrary error into an *Error carrying the
// provider and kind; errors.Is(err, ErrAuth) and friends keep working on
// the wrapped value.
package provider
