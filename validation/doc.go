// Package validation wraps go-playground/validator for struct-tag
// based validation, returning structured AppErrors with per-field
// details. Configuration sections carry validate tags for required
// fields such as the auth secret.
package validation
