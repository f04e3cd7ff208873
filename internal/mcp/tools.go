package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

type queryInput struct {
	Text        string   `json:"text" jsonschema:"The question to ask about the archive"`
	ChatHistory []string `json:"chat_history,omitempty" jsonschema:"Earlier turns of the conversation, oldest first"`
}

func (in queryInput) query() rag.Query {
	return rag.Query{Text: in.Text, ChatHistory: in.ChatHistory}
}

type documentOutput struct {
	Path  string  `json:"path" jsonschema:"Source document path"`
	Text  string  `json:"text" jsonschema:"Excerpt text"`
	Score float32 `json:"score,omitempty" jsonschema:"Similarity score"`
}

type searchOutput struct {
	Documents []documentOutput `json:"documents" jsonschema:"Matched excerpts, most similar first"`
}

type askOutput struct {
	Answer         string           `json:"answer" jsonschema:"Answer grounded in the documents"`
	Documents      []documentOutput `json:"documents" jsonschema:"Documents the answer was grounded in"`
	ElapsedSeconds float64          `json:"elapsed_seconds" jsonschema:"Time taken to answer"`
}

func toOutput(docs []rag.DocumentMatch) []documentOutput {
	out := make([]documentOutput, len(docs))
	for i, d := range docs {
		out[i] = documentOutput{Path: d.Path, Text: d.Text, Score: d.Score}
	}
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Find the archive excerpts most similar to a question and its conversation history",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryInput) (*mcp.CallToolResult, searchOutput, error) {
		ctx = s.requestContext(ctx, req)
		start := time.Now()
		docs, err := s.svc.Retrieve(ctx, args.query())
		s.metrics.RecordInvocation(ctx, "search_documents", time.Since(start), err)
		if err != nil {
			s.logFailure(ctx, "search_documents", err)
			return nil, searchOutput{}, err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Found %d documents", len(docs))
		for _, d := range docs {
			fmt.Fprintf(&b, "\n- %s", d.Path)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
		}, searchOutput{Documents: toOutput(docs)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question about the archive, grounded in retrieved documents",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryInput) (*mcp.CallToolResult, askOutput, error) {
		ctx = s.requestContext(ctx, req)
		start := time.Now()
		answer, err := s.svc.Answer(ctx, args.query())
		s.metrics.RecordInvocation(ctx, "ask", time.Since(start), err)
		if err != nil {
			s.logFailure(ctx, "ask", err)
			return nil, askOutput{}, err
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: answer.Text}},
		}, askOutput{
			Answer:         answer.Text,
			Documents:      toOutput(answer.Documents),
			ElapsedSeconds: answer.Elapsed.Seconds(),
		}, nil
	})
}
