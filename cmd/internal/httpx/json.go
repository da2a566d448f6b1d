// Package httpx holds the JSON request and response helpers shared by the
// HTTP handlers. Every failure body has the shape
// {"status":"failed","message":"..."}.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes bounds request bodies when a handler has no limit of its own.
const DefaultMaxBodyBytes int64 = 1 << 20

// MsgInvalidBody is returned for malformed, oversized or over-specified bodies.
const MsgInvalidBody = "invalid request body"

var (
	ErrEmptyBody = errors.New("empty body")
	ErrTrailing  = errors.New("extra data after JSON object")
)

// Failure is the response body of every failed request.
type Failure struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OK is the body of requests that succeed without a payload.
type OK struct {
	Status string `json:"status"`
}

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a failure body.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, Failure{Status: "failed", Message: msg})
}

// WriteOK writes {"status":"ok"} with 200.
func WriteOK(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, OK{Status: "ok"})
}

// DecodeJSON decodes exactly one JSON object of at most maxBytes into dst.
// Unknown fields and trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return ErrEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailing
	}
	return nil
}
