// Package notify delivers threshold alerts to external systems.
//
// Notifiers post a single alert to Slack or to a generic HTTP webhook; the
// webhook body can be signed with HMAC-SHA256 so receivers can verify it.
// Dispatcher fans an alert out to every configured notifier and is wired to
// the threshold monitor through its OnAlert callback.
package notify
