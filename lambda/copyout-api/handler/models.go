package handler

import "encoding/json"

// PostResponse is returned when a run has been accepted.
type PostResponse struct {
	RunId  string `json:"runId"`
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func errorBody(message string, code int) string {
	body, _ := json.Marshal(ErrorResponse{Message: message, Code: code})
	return string(body)
}
