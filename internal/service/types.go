package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type RunCommandRequest struct {
	Command string `json:"command"`
}

type RunCommandResponse struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ServiceResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const (
	ServiceAlreadyRunning = "already_running"
	ServiceStarted        = "started"
	ServiceError          = "error"
)

// ValidationError reports a request body that does not match its schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DecodeRunCommandRequest parses exactly one RunCommandRequest object,
// rejecting unknown fields and trailing data.
func DecodeRunCommandRequest(data []byte) (*RunCommandRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req RunCommandRequest
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			err = fmt.Errorf(`expected request format is {"command": "string"}`)
		}
		return nil, &ValidationError{Err: err}
	}
	if dec.More() {
		return nil, &ValidationError{Err: fmt.Errorf("unexpected data after request object")}
	}
	return &req, nil
}

// CommandResponse maps a result to its wire form: the captured output for a
// completed command, an error object for everything else.
func CommandResponse(res CommandResult) any {
	switch r := res.(type) {
	case Completed:
		return RunCommandResponse{
			Stdout:     r.Stdout,
			Stderr:     r.Stderr,
			ReturnCode: r.ExitCode,
		}
	case TimedOut:
		return ErrorResponse{Error: MessageTimedOut}
	case Rejected:
		return ErrorResponse{Error: r.Reason}
	case Failed:
		return ErrorResponse{Error: r.Message}
	}
	return ErrorResponse{Error: fmt.Sprintf("unknown command result %T", res)}
}

func StartResponse(l Launcher, res StartResult) ServiceResponse {
	switch r := res.(type) {
	case AlreadyRunning:
		return ServiceResponse{
			Status:  ServiceAlreadyRunning,
			Message: fmt.Sprintf("%s is already running on port %d", l.Name(), l.Port()),
		}
	case Started:
		return ServiceResponse{
			Status:  ServiceStarted,
			Message: fmt.Sprintf("%s started on port %d", l.Name(), l.Port()),
		}
	case StartFailed:
		return ServiceResponse{
			Status:  ServiceError,
			Message: fmt.Sprintf("Failed to start %s: %s", l.Name(), r.Message),
		}
	}
	return ServiceResponse{Status: ServiceError, Message: fmt.Sprintf("unknown start result %T", res)}
}

func startStatus(res StartResult) string {
	switch res.(type) {
	case AlreadyRunning:
		return ServiceAlreadyRunning
	case Started:
		return ServiceStarted
	}
	return ServiceError
}
