package apperr

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxBody caps request payloads.
const maxBody = 1 << 20

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindUnauthenticated: http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindExpired:         http.StatusGone,
	KindRateLimited:     http.StatusTooManyRequests,
	KindTransportFailed: http.StatusBadGateway,
	KindInternal:        http.StatusInternalServerError,
}

// Status maps an error kind to its HTTP status code.
func Status(kind Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type body struct {
	Kind    Kind           `json:"kind"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Reason  Reason         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Payload renders err the way clients see it. Internal causes are dropped.
func Payload(err error) map[string]any {
	e := As(err)
	b := body{Kind: e.Kind, Code: e.Code, Message: e.Message, Reason: e.Reason, Details: e.Details}
	if e.Kind == KindInternal {
		b = body{Kind: KindInternal, Code: "internal", Message: "internal error"}
	}
	if b.Message == "" {
		b.Message = string(b.Kind)
	}
	return map[string]any{"error": b}
}

// Write renders err as a JSON error body with the matching status.
func Write(w http.ResponseWriter, err error) {
	WriteJSON(w, Status(KindOf(err)), Payload(err))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a JSON request body into v. An empty body leaves v
// untouched. Malformed input is a validation error.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return Validation("invalid_payload", "invalid payload: "+err.Error())
	}
	return nil
}
