// Package flows holds engine request flows as dependency-injected functions,
// keeping the ordering and failure classification of each flow testable
// without the root package.
package flows
