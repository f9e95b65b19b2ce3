// Package internal holds helpers shared by the keyrail root package that
// must never become part of the public API.
package internal
