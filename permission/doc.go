// Package permission answers "may this user do X in this scope" over a
// sorted in-memory index of grants. Scope resolution is two probes: the
// requested organization first, then the global scope. Indexes are built per
// user from a Directory and cached behind an LRU.
package permission
