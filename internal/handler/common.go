// Package handler implements the HTTP surface of the turn queue
// service.  Handlers stay thin: request decoding, id extraction and
// status mapping live here, while all scheduling decisions live in the
// scheduler package and all persistence in the repository package.
package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// getWorkerID extracts the authenticated worker id from echo.Context,
// where the JWT middleware stored the token subject.
func getWorkerID(c echo.Context) (uint64, error) {
	v := c.Get("worker_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid worker_id in context")
}
