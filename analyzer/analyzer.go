// Package analyzer holds the data model shared by the fetchers, the
// collector and the renderers.
package analyzer

import (
	"time"
)

// Failure statuses recognised by the collector. Matching is exact and case-sensitive.
const (
	StatusCreateFailed = "CREATE_FAILED"
	StatusUpdateFailed = "UPDATE_FAILED"
)

// NestedStackResourceType is the resource type CloudFormation uses for nested stacks.
const NestedStackResourceType = "AWS::CloudFormation::Stack"

// StackEvent is a single resource status change reported for a stack.
// Field names follow the DescribeStackEvents output so the JSON rendering
// matches what the AWS CLI prints.
type StackEvent struct {
	StackId              string    `json:"StackId"`
	StackName            string    `json:"StackName,omitempty"`
	EventId              string    `json:"EventId,omitempty"`
	LogicalResourceId    string    `json:"LogicalResourceId"`
	PhysicalResourceId   string    `json:"PhysicalResourceId,omitempty"`
	ResourceType         string    `json:"ResourceType,omitempty"`
	ResourceStatus       string    `json:"ResourceStatus"`
	ResourceStatusReason string    `json:"ResourceStatusReason,omitempty"`
	ResourceProperties   string    `json:"ResourceProperties,omitempty"`
	Timestamp            time.Time `json:"Timestamp"`
}

// FailureEvent is a StackEvent carrying one of the failure statuses,
// decorated with its parsed properties and its position in the stack tree.
type FailureEvent struct {
	StackEvent

	// Properties is the parsed ResourceProperties blob, nil when the blob was absent.
	Properties map[string]any `json:"Properties,omitempty"`

	// Time is the human readable rendering of Timestamp.
	Time string `json:"Time"`

	// Depth is 0 for failures of the root stack, 1 for its nested stacks, and so on.
	Depth int `json:"Depth"`

	// ParentStack is the identifier of the stack that was queried to find this event.
	ParentStack string `json:"ParentStack"`

	CloudTrailEvent *CloudTrailEvent `json:"CloudTrailEvent,omitempty"`
	DetailedMessage string           `json:"DetailedMessage,omitempty"`
}

// TimeWindow bounds the events the collector reports. Both ends are exclusive.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies strictly between Start and End.
// An inverted window contains nothing.
func (w TimeWindow) Contains(t time.Time) bool {
	return t.After(w.Start) && t.Before(w.End)
}

// Report is everything a renderer needs for one run.
type Report struct {
	StackName   string
	Window      TimeWindow
	GeneratedAt time.Time
	Events      []FailureEvent
}

// CloudTrailEvent represents relevant CloudTrail log data
type CloudTrailEvent struct {
	EventTime        time.Time      `json:"EventTime"`
	EventName        string         `json:"EventName"`
	EventSource      string         `json:"EventSource"`
	UserIdentity     map[string]any `json:"-"`
	ResponseElements map[string]any `json:"-"`
	ErrorCode        string         `json:"ErrorCode,omitempty"`
	ErrorMessage     string         `json:"ErrorMessage,omitempty"`
}

// IsFailureStatus reports whether status is one of the recognised failure statuses.
func IsFailureStatus(status string) bool {
	return status == StatusCreateFailed || status == StatusUpdateFailed
}
