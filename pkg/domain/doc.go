// Package domain holds the document types threaded through the built-in
// processing pipeline and the errors shared across packages.
package domain
