package middleware

import (
	"net/http"
	"runtime/debug"

	"go-tracker/logging"
	"go-tracker/utils/errors"

	"github.com/goccy/go-json"
)

// ErrorMiddleware recovers panics and answers with a generic 500.
func ErrorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logging.Ctx(r.Context()).Error().
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					WriteError(w, r, errors.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as {success:false, code, message}. Details stay in the log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*errors.APIError)
	if !ok {
		apiErr = errors.Internal(err)
	}

	log := logging.Ctx(r.Context())
	if apiErr.Status >= 500 {
		log.Error().Str("code", apiErr.Code).Str("details", apiErr.Details).Str("path", r.URL.Path).Msg("server error")
	} else if apiErr.Details != "" {
		log.Debug().Str("code", apiErr.Code).Str("details", apiErr.Details).Str("path", r.URL.Path).Msg("request rejected")
	}

	WriteJSON(w, apiErr.Status, errorBody{Code: apiErr.Code, Message: apiErr.Message})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("write response failed")
	}
}
