// Package aws provides the AWS Cost Explorer gateway.
//
// Costs are fetched with GetCostAndUsage grouped by LINKED_ACCOUNT and
// SERVICE, following NextPageToken pagination. Linked account names come
// from the response's dimension attributes; AccountDirectory resolves the
// rest through AWS Organizations when resolve_account_names is enabled.
//
// Credentials follow the SDK default chain (environment, shared config
// profile, instance role). Throttling is retried with exponential backoff;
// access-denied errors fail immediately.
package aws
