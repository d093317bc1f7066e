// Package cloudtrail looks up the API calls CloudFormation made around a
// failure, to explain failures whose status reason is a generic service error.
package cloudtrail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
)

// SearchMargin is how far before and after a failure CloudTrail is searched.
const SearchMargin = 10 * time.Minute

// cloudFormationUser is the username CloudTrail records for calls CloudFormation makes on behalf of a stack.
const cloudFormationUser = "AWSCloudFormation"

// TimeRange represents a time period for CloudTrail queries
type TimeRange struct {
	StartTime time.Time
	EndTime   time.Time
}

// CloudTrailAPI defines the interface for CloudTrail operations
type CloudTrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// Client wraps the AWS CloudTrail client
type Client struct {
	ct CloudTrailAPI
}

// NewClientWithConfig creates a new CloudTrail client with a custom AWS config
func NewClientWithConfig(cfg aws.Config) *Client {
	return &Client{ct: cloudtrail.NewFromConfig(cfg)}
}

// NewClientWithAPI wraps an existing CloudTrail API implementation.
func NewClientWithAPI(api CloudTrailAPI) *Client {
	return &Client{ct: api}
}

// SearchForFailure returns the CloudTrail events with error information that
// CloudFormation produced within SearchMargin of the failure, restricted to
// the service owning the failed resource when it can be derived.
func (c *Client) SearchForFailure(ctx context.Context, failure analyzer.FailureEvent) ([]analyzer.CloudTrailEvent, error) {
	timeRange := TimeRange{
		StartTime: failure.Timestamp.Add(-SearchMargin),
		EndTime:   failure.Timestamp.Add(SearchMargin),
	}

	events, err := c.SearchByUsername(ctx, timeRange, cloudFormationUser)
	if err != nil {
		return nil, err
	}

	serviceName := ServiceName(failure.ResourceType)
	var matched []analyzer.CloudTrailEvent
	for _, event := range events {
		if serviceName != "" && !MatchesService(event, serviceName) {
			continue
		}
		if !HasErrorInformation(event) {
			continue
		}
		matched = append(matched, event)
	}
	return matched, nil
}

// SearchByUsername queries CloudTrail logs for events by a specific username
func (c *Client) SearchByUsername(ctx context.Context, timeRange TimeRange, username string) ([]analyzer.CloudTrailEvent, error) {
	var allEvents []analyzer.CloudTrailEvent
	var nextToken *string

	for {
		output, err := c.ct.LookupEvents(ctx, &cloudtrail.LookupEventsInput{
			StartTime:  aws.Time(timeRange.StartTime),
			EndTime:    aws.Time(timeRange.EndTime),
			NextToken:  nextToken,
			MaxResults: aws.Int32(50),
			LookupAttributes: []types.LookupAttribute{
				{
					AttributeKey:   types.LookupAttributeKeyUsername,
					AttributeValue: aws.String(username),
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to lookup CloudTrail events by username: %w", awserrors.ParseAWSError(err, "CloudTrail"))
		}

		for _, event := range output.Events {
			ctEvent, err := parseCloudTrailEvent(event)
			if err != nil {
				continue
			}
			allEvents = append(allEvents, ctEvent)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return allEvents, nil
}

// ServiceName returns the CloudTrail service name for a CloudFormation
// resource type "AWS::Service::Type", "" when the type has no service part.
// e.g., "AWS::Wisdom::AIPrompt" -> "qconnect", "AWS::Lambda::Function" -> "lambda"
func ServiceName(resourceType string) string {
	parts := strings.Split(resourceType, "::")
	if len(parts) < 2 {
		return ""
	}
	serviceName := strings.ToLower(parts[1])
	switch serviceName {
	case "wisdom":
		return "qconnect"
	default:
		return serviceName
	}
}

// MatchesService checks if a CloudTrail event is from the specified AWS service
func MatchesService(event analyzer.CloudTrailEvent, serviceName string) bool {
	return strings.Contains(strings.ToLower(event.EventSource), serviceName)
}

// parseCloudTrailEvent converts an AWS CloudTrail event to our internal format
func parseCloudTrailEvent(event types.Event) (analyzer.CloudTrailEvent, error) {
	ctEvent := analyzer.CloudTrailEvent{
		EventTime:   aws.ToTime(event.EventTime),
		EventName:   aws.ToString(event.EventName),
		EventSource: aws.ToString(event.EventSource),
	}

	if event.CloudTrailEvent == nil {
		return ctEvent, nil
	}

	var eventData struct {
		UserIdentity     map[string]any `json:"userIdentity"`
		ResponseElements map[string]any `json:"responseElements"`
		ErrorCode        string         `json:"errorCode"`
		ErrorMessage     string         `json:"errorMessage"`
	}
	if err := json.Unmarshal([]byte(*event.CloudTrailEvent), &eventData); err != nil {
		return ctEvent, fmt.Errorf("failed to parse CloudTrail event JSON: %w", err)
	}
	ctEvent.UserIdentity = eventData.UserIdentity
	ctEvent.ResponseElements = eventData.ResponseElements
	ctEvent.ErrorCode = eventData.ErrorCode
	ctEvent.ErrorMessage = eventData.ErrorMessage

	return ctEvent, nil
}

// ExtractMessageFromResponseElements extracts the message field from responseElements.
// It looks at "message"/"Message" at the top level and inside an "error"/"Error" object.
func ExtractMessageFromResponseElements(responseElements map[string]any) string {
	if responseElements == nil {
		return ""
	}
	if msg := messageField(responseElements); msg != "" {
		return msg
	}
	for _, key := range []string{"error", "Error"} {
		if nested, ok := responseElements[key].(map[string]any); ok {
			if msg := messageField(nested); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func messageField(m map[string]any) string {
	for _, key := range []string{"message", "Message"} {
		if msg, ok := m[key].(string); ok && msg != "" {
			return msg
		}
	}
	return ""
}

// GetDetailedErrorMessage extracts the most detailed error message available from a CloudTrail event.
// Preference: ErrorMessage, then the responseElements message, then the error code.
func GetDetailedErrorMessage(event analyzer.CloudTrailEvent) string {
	if event.ErrorMessage != "" {
		return event.ErrorMessage
	}
	if msg := ExtractMessageFromResponseElements(event.ResponseElements); msg != "" {
		return msg
	}
	if event.ErrorCode != "" {
		return fmt.Sprintf("Error code: %s", event.ErrorCode)
	}
	return ""
}

// HasErrorInformation checks if a CloudTrail event contains error information
func HasErrorInformation(event analyzer.CloudTrailEvent) bool {
	return GetDetailedErrorMessage(event) != ""
}
