// Package vectorstore is the Qdrant gateway.
//
// It speaks the native gRPC transport (port 6334), which avoids the HTTP
// layer's payload limits during bulk indexing. Collections are created with
// named vectors: a dense vector for semantic similarity and an optional
// sparse vector for SPLADE term matching. Hybrid queries fuse the two
// either server-side (reciprocal rank fusion via prefetch) or client-side
// (weighted sum).
//
// Point ids are UUIDv5 digests of the chunk id, so re-upserting the same
// chunk overwrites the existing point instead of duplicating it.
package vectorstore
