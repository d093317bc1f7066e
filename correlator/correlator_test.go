package correlator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"

	"github.com/go-logr/logr"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func failure(id, resourceType, reason string) analyzer.FailureEvent {
	return analyzer.FailureEvent{StackEvent: analyzer.StackEvent{
		LogicalResourceId:    id,
		ResourceType:         resourceType,
		ResourceStatus:       analyzer.StatusCreateFailed,
		ResourceStatusReason: reason,
		Timestamp:            base,
	}}
}

func TestFindMatchingTrailEventPrefersScoreThenTime(t *testing.T) {
	f := failure("MyFunction", "AWS::Lambda::Function", "Internal Failure")
	events := []analyzer.CloudTrailEvent{
		{EventName: "PutObject", EventSource: "s3.amazonaws.com", ErrorCode: "AccessDenied", EventTime: base.Add(10 * time.Second)},
		{EventName: "CreateFunction", EventSource: "lambda.amazonaws.com", ErrorCode: "X", EventTime: base.Add(3 * time.Minute)},
		{EventName: "CreateFunction", EventSource: "lambda.amazonaws.com", ErrorCode: "Y", EventTime: base.Add(time.Minute)},
		{EventName: "CreateFunction", EventSource: "lambda.amazonaws.com", ErrorCode: "far", EventTime: base.Add(time.Hour)},
		{EventName: "GetFunction", EventSource: "lambda.amazonaws.com", EventTime: base},
	}
	got := FindMatchingTrailEvent(f, events, DefaultTimeWindow)
	if got == nil || got.ErrorCode != "Y" {
		t.Fatalf("unexpected match %+v", got)
	}
}

func TestFindMatchingTrailEventByIdentifier(t *testing.T) {
	f := failure("MyBucket", "AWS::S3::Bucket", "Internal Failure")
	events := []analyzer.CloudTrailEvent{
		{EventName: "CreateBucket", EventSource: "s3.amazonaws.com", ErrorCode: "A", EventTime: base},
		{EventName: "CreateBucket", EventSource: "s3.amazonaws.com", ErrorMessage: "bucket mybucket already exists", EventTime: base.Add(2 * time.Minute)},
	}
	got := FindMatchingTrailEvent(f, events, DefaultTimeWindow)
	if got == nil || got.ErrorMessage == "" {
		t.Fatalf("expected identifier match, got %+v", got)
	}
}

func TestFindMatchingTrailEventMapsWisdomToQConnect(t *testing.T) {
	f := failure("Assistant", "AWS::Wisdom::Assistant", "Internal Failure")
	events := []analyzer.CloudTrailEvent{
		{EventName: "PutObject", EventSource: "s3.amazonaws.com", ErrorCode: "near", EventTime: base},
		{EventName: "CreateAssistant", EventSource: "qconnect.amazonaws.com", ErrorCode: "service", EventTime: base.Add(time.Minute)},
	}
	got := FindMatchingTrailEvent(f, events, DefaultTimeWindow)
	if got == nil || got.ErrorCode != "service" {
		t.Fatalf("expected the qconnect event, got %+v", got)
	}
}

func TestFindMatchingTrailEventNone(t *testing.T) {
	f := failure("MyFunction", "AWS::Lambda::Function", "Internal Failure")
	if got := FindMatchingTrailEvent(f, nil, DefaultTimeWindow); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

type fakeSearcher struct {
	events []analyzer.CloudTrailEvent
	err    error
	calls  int
}

func (f *fakeSearcher) SearchForFailure(ctx context.Context, failure analyzer.FailureEvent) ([]analyzer.CloudTrailEvent, error) {
	f.calls++
	return f.events, f.err
}

func TestEnrich(t *testing.T) {
	failures := []analyzer.FailureEvent{
		failure("Nested", "AWS::CloudFormation::Stack", "Embedded stack was not successfully created"),
		failure("MyFunction", "AWS::Lambda::Function", "GeneralServiceException: Unknown"),
	}
	searcher := &fakeSearcher{events: []analyzer.CloudTrailEvent{
		{EventName: "CreateFunction", EventSource: "lambda.amazonaws.com", ErrorMessage: "role cannot be assumed", EventTime: base},
	}}

	summary := Enrich(context.Background(), searcher, failures, logr.Discard())
	if searcher.calls != 1 {
		t.Fatalf("expected 1 lookup, got %d", searcher.calls)
	}
	if summary.GeneralServiceExceptions != 1 || summary.WithCloudTrail != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if failures[0].CloudTrailEvent != nil {
		t.Fatalf("non-generic failure should not be enriched")
	}
	if failures[1].DetailedMessage != "role cannot be assumed" {
		t.Fatalf("DetailedMessage=%q", failures[1].DetailedMessage)
	}
}

func TestEnrichSkipsLookupErrors(t *testing.T) {
	failures := []analyzer.FailureEvent{failure("MyFunction", "AWS::Lambda::Function", "Internal Failure")}
	summary := Enrich(context.Background(), &fakeSearcher{err: errors.New("denied")}, failures, logr.Discard())
	if summary.GeneralServiceExceptions != 1 || summary.WithCloudTrail != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if failures[0].CloudTrailEvent != nil {
		t.Fatalf("expected no enrichment")
	}
}

func TestEnrichStopsWhenThrottled(t *testing.T) {
	failures := []analyzer.FailureEvent{
		failure("First", "AWS::Lambda::Function", "Internal Failure"),
		failure("Second", "AWS::Lambda::Function", "Internal Failure"),
	}
	throttled := fmt.Errorf("lookup: %w", &awserrors.AWSError{ErrorType: awserrors.TypeRateLimit, AWSErrorCode: "ThrottlingException"})
	searcher := &fakeSearcher{err: throttled}

	summary := Enrich(context.Background(), searcher, failures, logr.Discard())
	if searcher.calls != 1 {
		t.Fatalf("expected lookups to stop after throttling, got %d calls", searcher.calls)
	}
	if summary.GeneralServiceExceptions != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
