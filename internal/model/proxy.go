// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"
	"time"
)

// ProxyRequest represents a client request to be forwarded to the origin.
// URL is the absolute origin URL the request targets; Header is the raw
// client header set, filtered down by the service before it leaves.
type ProxyRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   io.ReadCloser
}

// ProxyResponse represents the origin response to be returned to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// Rewritten reports that the body was buffered and transformed by the
	// rewriting engine; the transformed bytes are already in Body.
	Rewritten bool
}

// ErrorEnvelope is the JSON body of every error response.
type ErrorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewErrorEnvelope builds an envelope stamped with the current UTC time.
func NewErrorEnvelope(code, message string) ErrorEnvelope {
	return ErrorEnvelope{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
