package rag

import (
	"context"
	"errors"
	"fmt"
)

// Error classes. Adapters wrap provider failures with one of these so callers
// can branch with errors.Is while keeping the underlying cause.
var (
	// ErrUpstream: network, auth, or rate-limit failure talking to a provider.
	ErrUpstream = errors.New("upstream error")
	// ErrModel: the provider rejected the input, e.g. an oversized prompt.
	ErrModel = errors.New("model error")
	// ErrValidation: malformed request.
	ErrValidation = errors.New("validation error")
	// ErrStreamInterrupted: the completion stream failed after content was delivered.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrEmptyCompletion is returned (wrapped in ErrModel) when the model
	// finishes without producing any text.
	ErrEmptyCompletion = errors.New("model returned an empty completion")
)

// Upstream wraps err as an ErrUpstream for operation op.
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

// Model wraps err as an ErrModel for operation op.
func Model(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrModel, op, err)
}

// Validation returns an ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Interrupted wraps err as ErrStreamInterrupted unless it already is one.
func Interrupted(err error) error {
	if errors.Is(err, ErrStreamInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
}

// Kind is the coarse class of a pipeline error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindModel
	KindUpstream
	KindInterrupted
	KindTimeout
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindModel:
		return "model"
	case KindUpstream:
		return "upstream"
	case KindInterrupted:
		return "interrupted"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps err onto a Kind. Deadline and cancellation take precedence
// over the class the adapter attached.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrStreamInterrupted):
		return KindInterrupted
	case errors.Is(err, ErrModel):
		return KindModel
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	default:
		return KindUnknown
	}
}
