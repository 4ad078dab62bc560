// Package config loads and validates tickstream configuration.
//
// Configuration is layered: a config.yml file provides the base, a .env
// file and process environment variables override it. Environment keys
// map onto nested sections by underscore, e.g. STREAM_MAX_CONNECTIONS
// overrides stream.max_connections and AUTH_SECRET overrides
// auth.secret.
package config
