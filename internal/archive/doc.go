// Package archive defines the core types and collaborator interfaces of the
// page archiving pipeline.
//
// A run starts from a FetchRequest, drives a Browser page through a Capturer,
// and ends with an ArchiveBundle written under a storage key derived by
// NormalizeKey. The externally visible result of a run is a FetchOutcome.
package archive
