// Package notify provides cafeauth.Notifier implementations.
//
// [StreamNotifier] appends each notification to a Redis stream that the mail
// worker consumes; it is the production dispatcher. [LogNotifier] writes
// notifications to a slog logger and is meant for local development.
package notify
