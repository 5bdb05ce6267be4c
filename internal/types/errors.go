// Package types enthält die paketübergreifenden Typen der Monitoring-API.
package types

// Fehlercodes der Monitoring-API
const (
	CodeInvalidFeederID = "FEEDER_400"
	CodeFeederNotFound  = "FEEDER_404"
	CodeFeederNotIdle   = "FEEDER_408"
	CodeSystemFailure   = "SYSTEM_500"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
