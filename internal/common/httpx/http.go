// Package httpx provides HTTP request and response handling utilities.
// It includes JSON response helpers, a standard error response shape, and
// a tracked ResponseWriter.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fenceline/fenceline/internal/common/apperrors"
)

// GetRequestData parses a JSON request body into data. Only POST, PUT and
// PATCH requests may carry a body.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response represents an HTTP response with a status code, optional
// Location header value, payload, and content type.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

// RequestHandler is the handler signature used by all fenceline routes.
// Returned errors are converted into the standard error response shape.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler into an http.HandlerFunc with
// standardized error handling.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendHandlerError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		switch rsp.ContentType {
		case "application/json":
			if rsp.Location != "" {
				SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, rsp.Location)
			} else {
				SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response)
			}
		default:
			w.Header().Set("Content-Type", rsp.ContentType)
			if rsp.StatusCode == http.StatusCreated && rsp.Location != "" {
				w.Header().Set("Location", rsp.Location)
			}
			w.WriteHeader(rsp.StatusCode)
			if body, ok := rsp.Response.([]byte); ok {
				w.Write(body)
			}
		}
	}
}

// StreamResponse configures a chunked streaming response.
type StreamResponse struct {
	StatusCode  int
	ContentType string
	WriteBody   func(w http.ResponseWriter) error
}

// StreamHandler is the handler signature for streaming routes.
type StreamHandler func(r *http.Request) (*StreamResponse, error)

// WrapStreamHandler adapts a StreamHandler into an http.HandlerFunc with
// chunked transfer encoding.
func WrapStreamHandler(handler StreamHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendHandlerError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}

		w.Header().Set("Content-Type", rsp.ContentType)
		w.Header().Set("Transfer-Encoding", "chunked")
		w.WriteHeader(rsp.StatusCode)

		if err := rsp.WriteBody(w); err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("error writing stream body")
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}

func sendHandlerError(w http.ResponseWriter, err error) {
	if httperror, ok := err.(*Error); ok {
		httperror.Send(w)
		return
	}
	if appErr, ok := err.(apperrors.Error); ok {
		statusCode := appErr.StatusCode()
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		(&Error{
			StatusCode:  statusCode,
			Description: appErr.ErrorAll(),
		}).Send(w)
		return
	}
	ErrApplicationError(err.Error()).Send(w)
}
