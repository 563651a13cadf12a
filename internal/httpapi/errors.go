package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"modelgate/internal/apperr"
	"modelgate/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.Envelope{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

// errorDetail maps err onto the envelope error shape and its HTTP status.
func errorDetail(err error) (int, *types.ErrorDetail) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		ae = ae.Sanitized(sanitize)
		return ae.StatusCode(), &types.ErrorDetail{
			Code:    string(ae.Code),
			RPCCode: ae.RPCCode(),
			Message: ae.Message,
			Data:    ae.Data,
		}
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode(), &types.ErrorDetail{Code: string(apperr.CodeInternal), RPCCode: apperr.RPCInternalError, Message: sanitize(he.Error())}
	}
	ae = apperr.Boundary(err, sanitize).(*apperr.Error)
	return ae.StatusCode(), &types.ErrorDetail{Code: string(ae.Code), RPCCode: ae.RPCCode(), Message: ae.Message}
}

// writeError writes a failure envelope for err.
func writeError(w http.ResponseWriter, err error) int {
	status, detail := errorDetail(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(detail.Code)
	}
	writeJSON(w, status, types.Envelope{Success: false, Error: detail, Timestamp: time.Now().UTC()})
	return status
}

// writeJSONError writes a failure envelope for a transport-level problem.
func writeJSONError(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	e := apperr.New(code, "%s", msg)
	writeJSON(w, status, types.Envelope{
		Success:   false,
		Error:     &types.ErrorDetail{Code: string(code), RPCCode: e.RPCCode(), Message: msg},
		Timestamp: time.Now().UTC(),
	})
}
