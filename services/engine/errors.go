package engine

// Error taxonomy shared by every analytic component.

import (
	"errors"
	"fmt"
)

const (
	CodeData               = "DATA_ERROR"
	CodeConfig             = "CONFIG_ERROR"
	CodeEvaluation         = "EVALUATION_ERROR"
	CodeOptimizationFailed = "OPTIMIZATION_FAILED"
	CodeAnalysisFailed     = "ANALYSIS_FAILED"
)

// Error carries a machine-readable code alongside the message so API layers
// can map failures without string matching.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewDataError reports malformed or misaligned bar/signal input.
func NewDataError(format string, args ...any) *Error {
	return &Error{Code: CodeData, Message: fmt.Sprintf(format, args...)}
}

// NewConfigError reports an invalid configuration value. Invalid input is
// surfaced immediately, never silently defaulted.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Code: CodeConfig, Message: fmt.Sprintf(format, args...)}
}

// NewEvaluationError reports the failure of a single evaluation inside a
// larger sweep. Callers record it and continue.
func NewEvaluationError(err error, format string, args ...any) *Error {
	return &Error{Code: CodeEvaluation, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewOptimizationFailedError escalates a sweep where every combination failed.
func NewOptimizationFailedError(format string, args ...any) *Error {
	return &Error{Code: CodeOptimizationFailed, Message: fmt.Sprintf(format, args...)}
}

// NewAnalysisFailedError escalates an analysis where every draw or window failed.
func NewAnalysisFailedError(format string, args ...any) *Error {
	return &Error{Code: CodeAnalysisFailed, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the taxonomy code of err, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsDataError(err error) bool   { return CodeOf(err) == CodeData }
func IsConfigError(err error) bool { return CodeOf(err) == CodeConfig }

func IsEvaluationError(err error) bool { return CodeOf(err) == CodeEvaluation }

func IsOptimizationFailed(err error) bool { return CodeOf(err) == CodeOptimizationFailed }
func IsAnalysisFailed(err error) bool     { return CodeOf(err) == CodeAnalysisFailed }
