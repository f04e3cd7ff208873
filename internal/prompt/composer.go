// Package prompt renders the chat prompt from a swappable template.
//
// Templates are plain text with four placeholders: {today}, {chat_history},
// {query_text} and {documents}. Substitution is a single pass, so text
// inserted for one placeholder is never expanded again.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

// Placeholders recognized in templates.
const (
	FieldToday       = "{today}"
	FieldChatHistory = "{chat_history}"
	FieldQueryText   = "{query_text}"
	FieldDocuments   = "{documents}"
)

//go:embed default.tmpl
var defaultTemplate string

// DefaultTemplate returns the built-in template.
func DefaultTemplate() string {
	return defaultTemplate
}

// Composer renders prompts. The template can be swapped at runtime; each
// Compose call reads one snapshot.
type Composer struct {
	template atomic.Pointer[string]
}

var _ rag.Composer = (*Composer)(nil)

// NewComposer creates a Composer. An empty template selects the built-in one.
func NewComposer(template string) (*Composer, error) {
	if template == "" {
		template = defaultTemplate
	}
	c := &Composer{}
	if err := c.SetTemplate(template); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadComposer creates a Composer from a template file.
func LoadComposer(path string) (*Composer, error) {
	tmpl, err := readTemplate(path)
	if err != nil {
		return nil, err
	}
	return NewComposer(tmpl)
}

// SetTemplate replaces the template after checking it.
func (c *Composer) SetTemplate(template string) error {
	if err := Check(template); err != nil {
		return err
	}
	c.template.Store(&template)
	return nil
}

// Template returns the current template.
func (c *Composer) Template() string {
	return *c.template.Load()
}

// Compose renders the prompt for in.
func (c *Composer) Compose(in rag.PromptInput) string {
	r := strings.NewReplacer(
		FieldToday, in.Today,
		FieldChatHistory, strings.Join(in.ChatHistory, "\n"),
		FieldQueryText, in.QueryText,
		FieldDocuments, RenderDocuments(in.Documents),
	)
	return r.Replace(c.Template())
}

type promptDocument struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// RenderDocuments renders documents as a JSON array of {path, text} in
// retrieval order. Scores are omitted; relevance is left to the model.
func RenderDocuments(docs []rag.DocumentMatch) string {
	out := make([]promptDocument, len(docs))
	for i, d := range docs {
		out[i] = promptDocument{Path: d.Path, Text: d.Text}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		// Only strings are encoded.
		panic(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Check rejects templates that would drop the query or the documents.
func Check(template string) error {
	if strings.TrimSpace(template) == "" {
		return errors.New("prompt: template is empty")
	}
	var missing []string
	for _, f := range []string{FieldQueryText, FieldDocuments} {
		if !strings.Contains(template, f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("prompt: template is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

const maxTemplateSize = 256 * 1024

func readTemplate(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	if info.Size() > maxTemplateSize {
		return "", fmt.Errorf("prompt: template %s is %d bytes (max %d)", path, info.Size(), maxTemplateSize)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	return string(b), nil
}
