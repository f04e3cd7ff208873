package http

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
)

// Payload prefixes of control frames.
const (
	prefixStats = "[STATS] "
	prefixDocs  = "[DOCS] "
	prefixError = "[ERROR] "
)

// lineBreak matches every line terminator an event-stream parser honors.
var lineBreak = regexp.MustCompile("\r\n|\r|\n")

// sseWriter frames payloads as server-sent events.
type sseWriter struct {
	res *echo.Response
}

// newSSEWriter commits the event-stream headers.
func newSSEWriter(res *echo.Response) *sseWriter {
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()
	return &sseWriter{res: res}
}

// Send writes one event. Each line of payload becomes its own data field so
// that embedded newlines survive framing.
func (w *sseWriter) Send(payload string) error {
	var b strings.Builder
	for _, line := range lineBreak.Split(payload, -1) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := fmt.Fprint(w.res, b.String()); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}
