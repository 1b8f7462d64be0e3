package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine errors.
type ErrorCode string

const (
	ErrCodeEmptyBars        ErrorCode = "ERR_EMPTY_BARS"
	ErrCodeInvalidInput     ErrorCode = "ERR_INVALID_INPUT"
	ErrCodeUnorderedBars    ErrorCode = "ERR_UNORDERED_BARS"
	ErrCodeInvalidConfig    ErrorCode = "ERR_INVALID_CONFIG"
	ErrCodeAlreadyActive    ErrorCode = "ERR_ALREADY_ACTIVE"
	ErrCodeNotActive        ErrorCode = "ERR_NOT_ACTIVE"
	ErrCodeActiveConfig     ErrorCode = "ERR_CONFIG_WHILE_ACTIVE"
	ErrCodeInsufficientData ErrorCode = "ERR_INSUFFICIENT_DATA"
	ErrCodeNoSamples        ErrorCode = "ERR_NO_SAMPLES"
	ErrCodeHandlerFailed    ErrorCode = "ERR_HANDLER_FAILED"
	ErrCodeHandlerPanic     ErrorCode = "ERR_HANDLER_PANIC"
)

var (
	ErrEmptyBars        = errors.New("bar sequence is empty")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoSamples        = errors.New("no trade outcomes in cohort")
	ErrAlreadyActive    = errors.New("engine is already active")
	ErrNotActive        = errors.New("engine is not active")
	ErrBinStatsNotFound = errors.New("bin statistics not found")
	ErrPositionNotFound = errors.New("position not found")
)

// ValidationError reports malformed input to ingestion or configuration.
type ValidationError struct {
	Code       ErrorCode `json:"code"`
	Instrument string    `json:"instrument,omitempty"`
	Field      string    `json:"field,omitempty"`
	Message    string    `json:"message"`
	Err        error     `json:"-"`
}

func (e *ValidationError) Error() string {
	prefix := "validation"
	if e.Instrument != "" {
		prefix += " [" + e.Instrument + "]"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LifecycleError reports misuse of the start/stop/update state machine.
type LifecycleError struct {
	Code    ErrorCode `json:"code"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle %s: %s", e.Op, e.Message)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// ComputationError reports a failed per-instrument pipeline stage.
type ComputationError struct {
	Code       ErrorCode `json:"code"`
	Instrument string    `json:"instrument"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	Err        error     `json:"-"`
}

func (e *ComputationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("computation [%s] %s: %s: %v", e.Instrument, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("computation [%s] %s: %s", e.Instrument, e.Stage, e.Message)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// DeliveryError reports a subscriber that failed or panicked.
type DeliveryError struct {
	Code           ErrorCode `json:"code"`
	EventType      EventType `json:"eventType"`
	SubscriptionID uint64    `json:"subscriptionId"`
	Message        string    `json:"message"`
	Err            error     `json:"-"`
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery %s #%d: %s: %v", e.EventType, e.SubscriptionID, e.Message, e.Err)
	}
	return fmt.Sprintf("delivery %s #%d: %s", e.EventType, e.SubscriptionID, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrorKind names the taxonomy bucket of err, for metrics labels.
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		le *LifecycleError
		ce *ComputationError
		de *DeliveryError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &le):
		return "lifecycle"
	case errors.As(err, &ce):
		return "computation"
	case errors.As(err, &de):
		return "delivery"
	default:
		return "unknown"
	}
}
