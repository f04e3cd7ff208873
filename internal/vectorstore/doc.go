// Package vectorstore implements read-only nearest-neighbour lookups over the
// indexed document corpus.
//
// A namespace maps to one collection. Two backends are available: Qdrant over
// gRPC, and an embedded chromem-go database for local development and tests.
// Both return matches in descending similarity order and surface failures as
// rag.ErrUpstream.
package vectorstore
