// Package validator checks command-line input: stack identifiers and the
// time window boundaries.
package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cfn-failing-stacks/analyzer"

	"github.com/araddon/dateparse"
)

// DefaultLookback is how far back the window starts when no start time is given.
const DefaultLookback = time.Hour

var (
	// ErrEmptyStackName indicates an empty stack name was provided
	ErrEmptyStackName = errors.New("stack name cannot be empty")

	// ErrInvalidStackNameFormat indicates the stack name format is invalid
	ErrInvalidStackNameFormat = errors.New("invalid stack name format: must start with a letter, contain only alphanumeric characters and hyphens, and be 1-128 characters long")

	// ErrStackNameTooLong indicates the stack name exceeds maximum length
	ErrStackNameTooLong = errors.New("stack name exceeds maximum length of 128 characters")

	// ErrInvalidStackARN indicates an ARN that does not name a CloudFormation stack
	ErrInvalidStackARN = errors.New("invalid stack ARN: expected arn:<partition>:cloudformation:<region>:<account>:stack/<name>/<id>")

	// ErrInvalidTime indicates a time boundary that could not be parsed
	ErrInvalidTime = errors.New("invalid time")
)

// stackNameRegex validates CloudFormation stack name format
var stackNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

var stackARNRegex = regexp.MustCompile(`^arn:aws[a-zA-Z-]*:cloudformation:[a-z0-9-]+:\d{12}:stack/[a-zA-Z][a-zA-Z0-9-]*/[a-zA-Z0-9-]+$`)

// ValidateStackName validates the format of a CloudFormation stack name
// Returns nil if valid, or an error describing the validation failure
func ValidateStackName(name string) error {
	if name == "" {
		return ErrEmptyStackName
	}

	if len(name) > 128 {
		return ErrStackNameTooLong
	}

	if !stackNameRegex.MatchString(name) {
		return ErrInvalidStackNameFormat
	}

	return nil
}

// ValidateStackIdentifier accepts either a stack name or a stack ARN.
func ValidateStackIdentifier(id string) error {
	if strings.HasPrefix(id, "arn:") {
		if !stackARNRegex.MatchString(id) {
			return ErrInvalidStackARN
		}
		return nil
	}
	return ValidateStackName(id)
}

// ParseWindow builds the search window. Nil boundaries take their defaults
// relative to now: one hour ago for start, now for end. Given values are
// parsed as free-form dates in loc.
func ParseWindow(start, end *string, now time.Time, loc *time.Location) (analyzer.TimeWindow, error) {
	window := analyzer.TimeWindow{
		Start: now.Add(-DefaultLookback),
		End:   now,
	}

	if start != nil {
		t, err := ParseTime(*start, loc)
		if err != nil {
			return analyzer.TimeWindow{}, fmt.Errorf("start time: %w", err)
		}
		window.Start = t
	}
	if end != nil {
		t, err := ParseTime(*end, loc)
		if err != nil {
			return analyzer.TimeWindow{}, fmt.Errorf("end time: %w", err)
		}
		window.End = t
	}
	return window, nil
}

// ParseTime parses a free-form date such as "2024-05-01 10:00",
// "May 1, 2024 10:00am" or an RFC 3339 timestamp. Values without a zone are
// interpreted in loc.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTime)
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidTime, value, err)
	}
	return t, nil
}
