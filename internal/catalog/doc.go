// Package catalog defines the core types and contracts shared by the ingestion pipeline:
// items and episodes mirrored from the catalog source, the store contract, and the
// delivery, indexing and publishing collaborators.
package catalog
