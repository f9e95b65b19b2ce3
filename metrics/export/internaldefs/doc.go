// Package internaldefs holds the shared counter definitions both exporters
// render from. Internal to the export tree.
package internaldefs
