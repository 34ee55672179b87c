// Package dto provides Data Transfer Objects for API requests/responses.
package dto

// --- Error Response ---

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   *ErrorCause    `json:"cause,omitempty"`
}

// ErrorCause describes the business error behind a failed transactional operation.
type ErrorCause struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
