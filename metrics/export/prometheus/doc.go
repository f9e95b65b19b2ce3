// Package prometheus exposes engine counters in the Prometheus text
// exposition format without pulling in a client library.
package prometheus
