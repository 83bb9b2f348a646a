// Package internaldefs holds the shared metric definitions used by the
// exporters. It exists so every exporter renders the same names, help
// strings, and bucket bounds without importing each other.
//
// Not intended for direct use by applications.
package internaldefs
