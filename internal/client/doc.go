// Package client is a Go client for the feedkeeper gRPC API.
//
// Requests and responses are plain maps carried as google.protobuf.Struct,
// using the field names of the server codec (workspace, collection,
// entry_id, locale, revision, etag, categories, content, ...). Sequence
// numbers are decimal strings.
//
// An access token set with WithToken is attached to every call by a unary
// interceptor. gRPC status codes are mapped back to the sentinel errors of
// package common, so callers can match them with errors.Is.
package client
