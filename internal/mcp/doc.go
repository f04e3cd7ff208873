// Package mcp exposes the chat pipeline as Model Context Protocol tools so
// that agents can search the archive and ask grounded questions.
//
// Tools:
//   - search_documents: retrieval only, returns the matched excerpts
//   - ask: full non-streaming answer plus the documents it cites
//
// The server is mounted on the HTTP API with the streamable-HTTP transport,
// or run over stdio.
package mcp
