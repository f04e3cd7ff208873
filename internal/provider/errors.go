// Package provider classifies errors from the OpenAI-compatible API into the
// chat pipeline's error taxonomy.
package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// modelRejections mark responses where the input itself was refused but the
// provider's error mapper found no code.
var modelRejections = []string{
	"context_length_exceeded",
	"maximum context length",
	"too many tokens",
	"invalid_request_error",
	"content_filter",
}

// StatusCode extracts the HTTP status from a client error message, or 0.
func StatusCode(err error) int {
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// Code maps err through langchaingo's OpenAI error mapper and returns the
// standardized code, or llms.ErrCodeUnknown.
func Code(err error) llms.ErrorCode {
	if err == nil {
		return llms.ErrCodeUnknown
	}
	var lerr *llms.Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	if errors.As(openai.MapError(err), &lerr) {
		return lerr.Code
	}
	return llms.ErrCodeUnknown
}

// Classify wraps err with rag.ErrModel or rag.ErrUpstream. Context errors
// and errors that already carry a class are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if rag.Classify(err) != rag.KindUnknown {
		return err
	}

	switch Code(err) {
	case llms.ErrCodeTokenLimit, llms.ErrCodeInvalidRequest, llms.ErrCodeContentFilter:
		return rag.Model(op, err)
	case llms.ErrCodeUnknown:
		return classifyStatus(op, err)
	default:
		return rag.Upstream(op, err)
	}
}

func classifyStatus(op string, err error) error {
	code := StatusCode(err)
	if code == 400 || code == 413 || code == 422 {
		return rag.Model(op, err)
	}
	if code == 0 {
		msg := strings.ToLower(err.Error())
		for _, s := range modelRejections {
			if strings.Contains(msg, s) {
				return rag.Model(op, err)
			}
		}
	}
	return rag.Upstream(op, err)
}

// Transient reports whether retrying err might succeed: rate limits, an
// unavailable provider, and connection failures. Auth failures, exhausted
// quota, and rejected input are permanent.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, rag.ErrModel) || errors.Is(err, rag.ErrValidation) {
		return false
	}

	switch Code(err) {
	case llms.ErrCodeRateLimit, llms.ErrCodeProviderUnavailable, llms.ErrCodeTimeout:
		return true
	case llms.ErrCodeUnknown:
		return transientStatus(err)
	default:
		return false
	}
}

func transientStatus(err error) bool {
	switch code := StatusCode(err); {
	case code == 408 || code == 409 || code == 429:
		return true
	case code >= 500:
		return true
	case code != 0:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout")
}
