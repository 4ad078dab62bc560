// Package auth verifies identity claims for bound streams.
//
// tickstream consumes tokens issued elsewhere; it never performs login
// flows. The Verifier parses and validates a Bearer JWT, and the Gin
// middleware stores the resulting claims in the request context where
// the admission gate picks them up.
package auth
