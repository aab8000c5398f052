package domain

import (
	"errors"
	"fmt"
)

// Fixed error-code taxonomy shared across the pipeline.
const (
	CodeInvalidAmount     = "E1001"
	CodeInvalidCurrency   = "E1002"
	CodeInvalidAccount    = "E1003"
	CodeInvalidType       = "E1005"
	CodeProcessingTimeout = "E2004"
	CodeProcessingFailed  = "E2005"
	CodeRuleViolation     = "E3001"
	CodeInvalidTransition = "E4001"
	CodeNotFound          = "E4002"
	CodeInternal          = "E5001"
)

type PipelineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewPipelineError(code, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the taxonomy code from err, or E5001 when err carries none.
func ErrorCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}
