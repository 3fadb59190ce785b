// Package api implements the HTTP and WebSocket surface of clickplanetd.
//
// Protobuf payloads travel inside a JSON envelope: {"data": "<base64>"}. The
// envelope keeps the wire debuggable with curl while the payload stays the
// same bytes the websocket pushes.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type envelope struct {
	Data string `json:"data"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteProto writes an encoded protobuf message in the JSON envelope.
func WriteProto(w http.ResponseWriter, status int, payload []byte) {
	WriteJSON(w, status, envelope{Data: base64.StdEncoding.EncodeToString(payload)})
}

// DecodeProtoBody extracts the protobuf payload from a request's JSON
// envelope.
func DecodeProtoBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("invalid request body: must contain a single JSON value")
	}
	payload, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid request body: data is not base64: %w", err)
	}
	return payload, nil
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standard error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
