// Package rag implements the retrieval-augmented chat pipeline.
//
// A request moves through a fixed sequence of states:
//
//	Received -> Embedding -> Retrieving -> Composing -> Streaming -> Completed | Failed
//
// The Retriever joins the query text and chat history into one similarity
// query, embeds it, and asks the vector index for the nearest documents in a
// namespace. The Pipeline renders a prompt from those documents and streams
// the model's answer as Events: zero or more Content events followed by one
// Stats and one Documents event, or terminated early by a single Error event.
//
// Failures before the first completion chunk are returned synchronously from
// Pipeline.Stream so the transport can still answer with an error status.
// Once content has been delivered, failures only surface as an in-band Error
// event.
//
// Collaborators (Embedder, Index, Completer, Composer, Recorder) are
// interfaces so the pipeline runs against fakes in tests.
package rag
