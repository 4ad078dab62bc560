// Package component defines the lifecycle contract for tickstream's
// long-running subsystems (event hub, change detector, HTTP server,
// database) and a registry that starts them in dependency order and
// stops them in reverse.
package component
