// Package model defines shared request and response types.
package model

import "encoding/json"

// SessionRequest is the validated body of a token minting request.
// Model is always resolved to a non-empty value; ExpiresIn is zero when the
// caller omitted it. Extra carries unrecognized body fields verbatim so
// upstream-specific options (e.g. transcription settings) pass through
// without this service knowing their shape.
type SessionRequest struct {
	Instructions string
	Voice        string
	ExpiresIn    int
	Model        string
	Extra        map[string]json.RawMessage
}

// Tool is a function tool advertised to the realtime session.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is the JSON-schema object describing a tool's arguments.
type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

// ToolProperty describes a single tool argument.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// MintResponse wraps the upstream session object returned to the caller.
type MintResponse struct {
	OK      bool            `json:"ok"`
	Session json.RawMessage `json:"session"`
}

// PingResponse is the body returned by the ping endpoint.
type PingResponse struct {
	OK        bool   `json:"ok"`
	Path      string `json:"path"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}
