// Package rate implements Redis-backed fixed-window attempt limiting for
// login and refresh-rotation calls.
package rate
