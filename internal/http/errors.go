package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

// statusClientClosed is the de facto status for requests abandoned by the
// client.
const statusClientClosed = 499

// StatusFor maps a pipeline error onto an HTTP status code.
func StatusFor(err error) int {
	switch rag.Classify(err) {
	case rag.KindValidation:
		return http.StatusBadRequest
	case rag.KindModel:
		return http.StatusUnprocessableEntity
	case rag.KindUpstream, rag.KindInterrupted:
		return http.StatusBadGateway
	case rag.KindTimeout:
		return http.StatusGatewayTimeout
	case rag.KindCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the client-facing text for err. Validation messages are
// passed through; provider details stay in the logs.
func publicMessage(err error) string {
	switch rag.Classify(err) {
	case rag.KindValidation:
		return err.Error()
	case rag.KindModel:
		return "the model rejected the request"
	case rag.KindUpstream:
		return "an upstream provider is unavailable"
	case rag.KindInterrupted:
		return "the answer stream was interrupted"
	case rag.KindTimeout:
		return "the request timed out"
	case rag.KindCanceled:
		return "the request was canceled"
	default:
		return "internal error"
	}
}

func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(StatusFor(err), publicMessage(err)).SetInternal(err)
}
