package models

import "time"

// StatusSuccess marks a successful response
const StatusSuccess = "success"

// BaseResponse represents common response fields
type BaseResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body written for every failed API call.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details interface{}       `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
