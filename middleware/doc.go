// Package middleware adapts the engine to net/http: credential sources,
// guard handlers, the JSON response envelope, and session cookie helpers.
package middleware
