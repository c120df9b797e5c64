// Package vectorstore provides vector storage abstraction for the
// knowledge base.
//
// The package offers a unified interface over multiple backends (chromem
// embedded, Qdrant external) for storing (vector, text, metadata) tuples
// and running nearest-neighbor search. Embedding happens upstream: every
// operation receives precomputed vectors, so stores never call an
// embedding provider.
//
// # Deletion resilience
//
// Vector backends expose inconsistent filtering semantics (local vs.
// managed deployments, version drift). DeleteByDocument absorbs that with
// an ordered ladder of strategies:
//
//  1. server-side metadata filter delete
//  2. filter-fetch matching IDs, then delete by ID list
//  3. full scan, client-side filter, then delete by ID list
//
// Each failed attempt is logged as a warning; the call itself never fails.
// Deletion is advisory cleanup before a re-write, and duplicate chunks
// after total failure are tolerable, never fatal.
//
// # Availability
//
// Stats reports Available=false instead of erroring while a backend is
// unreachable or still initializing. Reads and writes issued in that
// window fail with ErrStoreNotReady so callers can choose to degrade.
//
// # Score semantics
//
// All similarity scores are in [0,1] with 1 = identical. Backends that
// natively report distances must convert via DistanceToSimilarity before
// results leave this package.
//
// # Provider selection
//
// Provider selection via config:
//
//	vectorstore:
//	  provider: chromem  # "chromem" (default) or "qdrant"
//
// ChromemStore is embedded and needs no setup; QdrantStore is recommended
// for production scale.
package vectorstore
