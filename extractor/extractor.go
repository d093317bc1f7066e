// Package extractor turns raw stack events into failure events: it filters
// on status and time window, parses resource properties and decides which
// failures point at a nested stack.
package extractor

import (
	"encoding/json"
	"strings"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"
)

// TimeFormat is the layout of FailureEvent.Time, always rendered in UTC with
// millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ExtractFailures returns the events of stack that carry a failure status and
// fall strictly inside window, in their original order. A present but
// malformed ResourceProperties blob fails the whole extraction.
func ExtractFailures(stack string, events []analyzer.StackEvent, window analyzer.TimeWindow) ([]analyzer.FailureEvent, error) {
	var failures []analyzer.FailureEvent

	for _, event := range events {
		if !analyzer.IsFailureStatus(event.ResourceStatus) {
			continue
		}
		if !window.Contains(event.Timestamp) {
			continue
		}

		failure := analyzer.FailureEvent{
			StackEvent:  event,
			Time:        event.Timestamp.UTC().Format(TimeFormat),
			ParentStack: stack,
		}

		if event.ResourceProperties != "" {
			var props map[string]any
			if err := json.Unmarshal([]byte(event.ResourceProperties), &props); err != nil {
				return nil, &awserrors.MalformedPropertiesError{
					Stack:             stack,
					LogicalResourceId: event.LogicalResourceId,
					Err:               err,
				}
			}
			failure.Properties = props
		}

		failures = append(failures, failure)
	}

	return failures, nil
}

// ChildStack returns the stack a failure points at, if any. A failure refers
// to a child when its physical id is set and is neither the stack being
// queried nor the event's own stack. With nestedOnly, only nested stack
// resources count.
func ChildStack(queried string, failure analyzer.FailureEvent, nestedOnly bool) (string, bool) {
	child := failure.PhysicalResourceId
	if child == "" || child == queried || child == failure.StackId {
		return "", false
	}
	if nestedOnly && failure.ResourceType != analyzer.NestedStackResourceType {
		return "", false
	}
	return child, true
}

// generalServiceExceptionPatterns mark failure reasons that carry no detail
// and need CloudTrail to explain them.
var generalServiceExceptionPatterns = []string{
	"generalserviceexception",
	"general service exception",
	"internal failure",
	"internalfailure",
	"service returned error",
}

// IsGeneralServiceException reports whether the failure reason is a generic
// service error.
func IsGeneralServiceException(failure analyzer.FailureEvent) bool {
	reason := strings.ToLower(failure.ResourceStatusReason)
	if reason == "" {
		return false
	}
	for _, pattern := range generalServiceExceptionPatterns {
		if strings.Contains(reason, pattern) {
			return true
		}
	}
	return false
}
