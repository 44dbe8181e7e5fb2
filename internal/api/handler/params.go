package handler

import (
	"net/http"
	"strconv"
)

// queryLimit parses the "limit" query parameter, applying def when absent
// and clamping to ceiling.
func queryLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, NewInvalidRequestError("limit must be a positive integer")
	}
	return min(limit, ceiling), nil
}
