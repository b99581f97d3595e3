package handlers

import (
	"net/http"

	"go-tracker/utils/errors"

	"github.com/goccy/go-json"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.NewAPIError(errors.ErrInvalidInput.Code, "Request body must be valid JSON", http.StatusBadRequest, err.Error())
	}
	return nil
}
