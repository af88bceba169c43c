// Package gcp provides the Google Cloud gateway.
//
// GCP has no synchronous cost API, so costs are read from the Cloud Billing
// export table in BigQuery using the jobs.query REST endpoint. Rows are
// grouped by usage day, project, service and region, with credits netted
// into the cost column. Credentials come from a service account key file or
// Application Default Credentials.
package gcp
