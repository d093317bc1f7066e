package awserrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Process exit codes, one per error category.
const (
	ExitOK         = 0
	ExitUnexpected = 1
	ExitUsage      = 2
	ExitProvider   = 3
	ExitMalformed  = 4
	ExitAuth       = 5
)

// ErrUsage marks errors caused by invalid command-line input.
var ErrUsage = errors.New("invalid usage")

// ProviderQueryError reports a failed stack event query: the provider
// returned an error, timed out, or produced output that could not be decoded.
type ProviderQueryError struct {
	// Stack is the identifier that was queried
	Stack string

	// Err is the raw cause
	Err error

	// Stderr is whatever diagnostic output the provider produced
	Stderr string

	// AWS is the classified provider error, nil if unknown
	AWS *AWSError
}

func (e *ProviderQueryError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "query events for %s", e.Stack)
	switch {
	case e.AWS != nil:
		fmt.Fprintf(&sb, ": %s", e.AWS.Error())
		if e.Err != nil && (errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, context.Canceled)) {
			fmt.Fprintf(&sb, " (%v)", e.Err)
		}
	case e.Err != nil:
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" && e.AWS == nil {
		fmt.Fprintf(&sb, "\n%s", stderr)
	}
	return sb.String()
}

// Unwrap exposes both the classified error and the raw cause.
func (e *ProviderQueryError) Unwrap() []error {
	var errs []error
	if e.AWS != nil {
		errs = append(errs, e.AWS)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MalformedPropertiesError reports a ResourceProperties blob that is present but not valid JSON.
type MalformedPropertiesError struct {
	Stack             string
	LogicalResourceId string
	Err               error
}

func (e *MalformedPropertiesError) Error() string {
	return fmt.Sprintf("malformed ResourceProperties for %s in %s: %v", e.LogicalResourceId, e.Stack, e.Err)
}

func (e *MalformedPropertiesError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by a run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var malformed *MalformedPropertiesError
	var query *ProviderQueryError
	switch {
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.As(err, &malformed):
		return ExitMalformed
	case IsCredentialError(err), IsPermissionError(err):
		return ExitAuth
	case errors.As(err, &query):
		return ExitProvider
	case errors.Is(err, context.DeadlineExceeded):
		return ExitProvider
	}
	return ExitUnexpected
}
