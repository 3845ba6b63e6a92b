package model

import "time"

// Envelope is the uniform command output shape.
type Envelope struct {
	Version string     `json:"version"`
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error"`
	Meta    Meta       `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	ChainID   int64     `json:"chain_id,omitempty"`
}
