// Package resilience provides retry with exponential backoff and
// jitter, used for transient failures on startup paths such as the
// database connection.
package resilience
