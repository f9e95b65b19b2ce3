// Package metrics provides the engine's in-process counters. Exporters under
// metrics/export render snapshots for external systems; this package stays
// dependency-free and allocation-free on the increment path.
package metrics
