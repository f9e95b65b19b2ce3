// Package audit implements the asynchronous audit pipeline: a buffered
// dispatcher goroutine forwarding structured events to a caller-provided
// sink. Delivery is best-effort when DropIfFull is set; the dropped count
// is observable through the engine.
package audit
