// File: internal/stack/doc.go
// Brief: Stack descriptor model and derived values.

// Package stack models an fnstack descriptor: a named, ordered set of
// functions that are built into images and run together. Descriptors are
// trusted input; Load only decodes them and fills defaults.
package stack
