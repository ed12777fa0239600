// Package protocol implements the HTTP query surface of the service. It maps request paths and
// pagination parameters onto the resolver and renders its results as JSON.
package protocol
