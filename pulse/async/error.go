package async

import (
	"context"
	"database/sql"
	"net"
	"strings"

	"github.com/teranos/ticketpulse/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeAIError         ErrorCode = "ai_error"
	ErrorCodeServiceDesk     ErrorCode = "servicedesk_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage       string    // Where the error occurred
	Code        ErrorCode // Error classification
	Message     string    // Human-readable message
	Retryable   bool      // Would a new execution plausibly succeed?
	Recoverable bool      // Can the work continue past this stage?
}

type errorRule struct {
	code        ErrorCode
	keywords    []string
	retryable   bool
	recoverable bool
}

// messageRules classify errors that carry no typed cause, first match wins
var messageRules = []errorRule{
	{ErrorCodeParseError, []string{"parse", "unmarshal", "invalid json"}, false, true},
	{ErrorCodeTimeout, []string{"deadline exceeded", "timed out", "time limit"}, true, true},
	{ErrorCodeNetworkError, []string{"network", "connection", "timeout"}, true, true},
	{ErrorCodeDatabaseError, []string{"database", "sql"}, true, false},
	{ErrorCodeValidationError, []string{"validation", "invalid"}, false, true},
	{ErrorCodeServiceDesk, []string{"servicedesk", "status 4", "status 5"}, true, false},
	{ErrorCodeAIError, []string{"synthesis", "model", "llm"}, true, true},
}

func ruleFor(code ErrorCode) errorRule {
	for _, r := range messageRules {
		if r.code == code {
			return r
		}
	}
	return errorRule{code: ErrorCodeUnknown, retryable: true}
}

func (r errorRule) matches(msg string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (r errorRule) apply(ec *ErrorContext) {
	ec.Code = r.code
	ec.Retryable = r.retryable
	ec.Recoverable = r.recoverable
}

// ClassifyError categorizes err for the stage it occurred in. Typed causes are checked
// before the message.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Stage: stage, Message: err.Error()}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ruleFor(ErrorCodeTimeout).apply(&ec)
		return ec
	case errors.As(err, &netErr):
		ruleFor(ErrorCodeNetworkError).apply(&ec)
		return ec
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		ruleFor(ErrorCodeDatabaseError).apply(&ec)
		return ec
	case errors.Is(err, errors.ErrInvalidRequest):
		ruleFor(ErrorCodeValidationError).apply(&ec)
		return ec
	}

	msg := strings.ToLower(ec.Message)
	for _, rule := range messageRules {
		if rule.matches(msg) {
			rule.apply(&ec)
			return ec
		}
	}

	ec.Code = ErrorCodeUnknown
	ec.Retryable = true
	return ec
}
