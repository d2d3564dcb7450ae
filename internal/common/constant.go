// Package common contains shared constants and error values used across
// feedkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on write requests.
const AccessTokenHeaderName = "access_token"

// Sequence scopes.
const (
	GlobalSequenceScope    = "$global"
	AggregateSequenceScope = "$aggregates"
)
