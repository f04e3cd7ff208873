package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Control frame prefixes emitted by POST /chat.
const (
	prefixStats = "[STATS] "
	prefixDocs  = "[DOCS] "
	prefixError = "[ERROR] "
)

// chatRequest matches internal/http ChatRequest.
type chatRequest struct {
	Text        string   `json:"text"`
	ChatHistory []string `json:"chat_history"`
}

// healthResponse matches internal/http HealthResponse.
type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}

type document struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// errServer is returned when the server reports an error inside the stream.
var errServer = errors.New("server error")

type client struct {
	base string
	http *http.Client
}

func newClient(opts *options) *client {
	return &client{
		base: strings.TrimSuffix(opts.server, "/"),
		http: &http.Client{Timeout: opts.timeout},
	}
}

func (c *client) post(ctx context.Context, path, text string, history []string) (*http.Response, error) {
	if history == nil {
		history = []string{}
	}
	body, err := json.Marshal(chatRequest{Text: text, ChatHistory: history})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// chat streams the answer to out. The stats line and document paths follow
// the answer unless quiet is set.
func (c *client) chat(ctx context.Context, out io.Writer, text string, history []string, quiet bool) error {
	resp, err := c.post(ctx, "/chat", text, history)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var (
		stats string
		docs  []document
	)
	err = readEvents(resp.Body, func(payload string) error {
		switch {
		case strings.HasPrefix(payload, prefixStats):
			stats = strings.TrimPrefix(payload, prefixStats)
		case strings.HasPrefix(payload, prefixDocs):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(payload, prefixDocs)), &docs); err != nil {
				return fmt.Errorf("failed to decode documents: %w", err)
			}
		case strings.HasPrefix(payload, prefixError):
			return fmt.Errorf("%w: %s", errServer, strings.TrimPrefix(payload, prefixError))
		default:
			_, err := io.WriteString(out, payload)
			return err
		}
		return nil
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if quiet {
		return nil
	}
	if stats != "" {
		fmt.Fprintf(out, "\nElapsed: %s\n", stats)
	}
	if len(docs) > 0 {
		fmt.Fprintln(out, "Sources:")
		for _, d := range docs {
			fmt.Fprintf(out, "  - %s\n", d.Path)
		}
	}
	return nil
}

func (c *client) ask(ctx context.Context, out io.Writer, text string, history []string) error {
	resp, err := c.post(ctx, "/chat/sync", text, history)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var answer string
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintln(out, answer)
	return nil
}

func (c *client) health(ctx context.Context, out io.Writer) error {
	url := c.base + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("server returned status %d: failed to decode response: %w", resp.StatusCode, err)
	}

	fmt.Fprintf(out, "Server Status: %s\n", h.Status)
	fmt.Fprintf(out, "Server URL: %s\n", c.base)
	if h.Session != "" {
		fmt.Fprintf(out, "Session: %s\n", h.Session)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (status %d): %s", resp.StatusCode, h.Error)
	}
	return nil
}

// statusError builds an error from a non-200 response, preferring the echo
// error body's message field.
func statusError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, e.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// readEvents calls fn with the payload of every server-sent event in r.
// Multi-line data fields are joined with newlines.
func readEvents(r io.Reader, fn func(payload string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		data    []string
		pending bool
	)
	flush := func() error {
		if !pending {
			return nil
		}
		payload := strings.Join(data, "\n")
		data, pending = data[:0], false
		return fn(payload)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			v = strings.TrimPrefix(v, " ")
			data = append(data, v)
			pending = true
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return flush()
}
