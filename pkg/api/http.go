package api

import "encoding/json"

type (
	// APIRequest is the data handed to an api step for one HTTP call
	APIRequest struct {
		Body        json.RawMessage   `json:"body,omitempty"`
		Headers     map[string]string `json:"headers"`
		PathParams  map[string]string `json:"pathParams"`
		QueryParams map[string]any    `json:"queryParams"`
	}

	// APIResponse is the result an api step reports back
	APIResponse struct {
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers,omitempty"`
		Body    json.RawMessage   `json:"body,omitempty"`
	}
)
