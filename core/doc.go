// Package core holds the shared domain types, error taxonomy, configuration
// and small runtime helpers used by the credential, oauth, crm, watch and
// webhook packages.
//
// Components fail fast with typed errors; only transient and server failures
// are marked retryable, and only orchestrating callers retry them (see Retry).
package core
