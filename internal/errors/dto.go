package errors

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorResponse is the body returned by the API for any failed request
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Display       string         `json:"message"`
	InternalError string         `json:"internal_error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// NewErrorResponse flattens err into the API error body. Hints become the display
// message and reportable details are decoded back into a map.
func NewErrorResponse(err error) ErrorResponse {
	display := "An unexpected error occurred"
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		display = strings.Join(hints, "; ")
	}

	var details map[string]any
	for _, d := range errors.GetAllSafeDetails(err) {
		for _, payload := range d.SafeDetails {
			raw, ok := strings.CutPrefix(payload, "__json__:")
			if !ok {
				continue
			}
			if details == nil {
				details = make(map[string]any)
			}
			var m map[string]any
			if json.Unmarshal([]byte(raw), &m) == nil {
				for k, v := range m {
					details[k] = v
				}
			}
		}
	}

	return ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Display:       display,
			InternalError: err.Error(),
			Details:       details,
		},
	}
}
