package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/fenceline/fenceline/internal/common/httpx"
	"github.com/fenceline/fenceline/internal/guardsrv/config"
)

// readRequestBody reads the request body subject to the configured size
// limit. Every handler that accepts a raw payload goes through this so
// oversize requests get the same 413 regardless of route.
func readRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, httpx.ErrInvalidRequest("request body is required")
	}
	limit := config.Config().MaxRequestBodySize
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, httpx.ErrRequestTooLarge(limit)
		}
		return nil, httpx.ErrUnableToReadRequest()
	}
	return data, nil
}
