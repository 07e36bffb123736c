package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/garantia/server/internal/apperr"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Fields  []string    `json:"fields,omitempty"`
}

// errorResponder turns errors into JSON error responses. Internal error
// details are only exposed in dev mode.
type errorResponder struct {
	logger  *slog.Logger
	devMode bool
}

func (e errorResponder) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: apperr.CodeInternal, Message: "internal error"}
	if ae, ok := apperr.As(err); ok {
		body.Code = ae.Code
		body.Fields = ae.Fields
		if ae.Message != "" {
			body.Message = ae.Message
		}
	}

	status := body.Code.HTTPStatus()
	switch {
	case status >= http.StatusInternalServerError:
		e.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", string(body.Code)),
			slog.Any("error", err),
		)
		if body.Code == apperr.CodeInternal {
			body.Message = "internal error"
		}
		if e.devMode {
			body.Message = err.Error()
		}
	default:
		e.logger.DebugContext(r.Context(), "request rejected",
			slog.String("path", r.URL.Path),
			slog.String("code", string(body.Code)),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, envelope{Success: false, Error: &body})
}

// respondWithData sends a success envelope
func respondWithData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a size-limited JSON body into dst
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.Invalid("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid request body", err)
	}
	return nil
}

// Signatures arrive as data URLs, so bodies can be large
const maxBodyBytes = 5 << 20
