// Package server provides the HTTP front end for tickstream: a Gin
// engine with HTTP/2 cleartext support, the standard middleware stack,
// and the operational endpoints.
//
// Built-in middleware (server/middleware):
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: request ID generation and propagation
//   - CORS: cross-origin resource sharing for browser EventSource clients
//   - RequestLogger: request logging with duration tracking
//
// Built-in endpoints (server/endpoint):
//
//   - /health: component health aggregation
//   - /alive: liveness probe
//   - /ready: readiness probe
//   - /version: build version information
//
// The stream surfaces themselves are registered by the stream package.
package server
