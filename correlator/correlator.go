// Package correlator attaches CloudTrail details to failure events whose
// status reason is too generic to act on.
package correlator

import (
	"context"
	"strings"
	"time"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"
	"cfn-failing-stacks/cloudtrail"
	"cfn-failing-stacks/extractor"

	"github.com/go-logr/logr"
)

// DefaultTimeWindow is the default time window for correlating events (5 minutes)
const DefaultTimeWindow = 5 * time.Minute

// TrailSearcher finds CloudTrail events related to a failure.
type TrailSearcher interface {
	SearchForFailure(ctx context.Context, failure analyzer.FailureEvent) ([]analyzer.CloudTrailEvent, error)
}

// Summary counts what enrichment did.
type Summary struct {
	GeneralServiceExceptions int
	WithCloudTrail           int
}

// Enrich looks up CloudTrail for every general service exception in
// failures and records the best matching event on it. CloudTrail errors are
// logged and skipped; enrichment never fails the run. Once CloudTrail
// throttles, the remaining lookups are abandoned.
func Enrich(ctx context.Context, searcher TrailSearcher, failures []analyzer.FailureEvent, log logr.Logger) Summary {
	var summary Summary
	for i := range failures {
		failure := &failures[i]
		if !extractor.IsGeneralServiceException(*failure) {
			continue
		}
		summary.GeneralServiceExceptions++

		events, err := searcher.SearchForFailure(ctx, *failure)
		if err != nil {
			log.Error(err, "cloudtrail lookup failed", "stack", failure.ParentStack, "resource", failure.LogicalResourceId)
			if awserrors.IsThrottlingError(err) {
				break
			}
			continue
		}
		if Correlate(failure, events, DefaultTimeWindow) {
			summary.WithCloudTrail++
		}
	}
	return summary
}

// Correlate sets the CloudTrail event and detailed message of failure from
// the best match in trailEvents. It reports whether a match was found.
func Correlate(failure *analyzer.FailureEvent, trailEvents []analyzer.CloudTrailEvent, window time.Duration) bool {
	match := FindMatchingTrailEvent(*failure, trailEvents, window)
	if match == nil {
		return false
	}
	failure.CloudTrailEvent = match
	if msg := cloudtrail.GetDetailedErrorMessage(*match); msg != "" {
		failure.DetailedMessage = msg
	}
	return true
}

// FindMatchingTrailEvent finds the CloudTrail event that best matches a failure.
// Matching is based on:
// 1. Timestamp proximity (within window)
// 2. Resource identifier matching (logical resource ID in event name, message or response)
// 3. Service match between resource type and event source
// Ties on score go to the event closest in time.
func FindMatchingTrailEvent(failure analyzer.FailureEvent, trailEvents []analyzer.CloudTrailEvent, window time.Duration) *analyzer.CloudTrailEvent {
	var bestMatch *analyzer.CloudTrailEvent
	var bestScore int
	bestTimeDiff := window + 1

	for i := range trailEvents {
		event := &trailEvents[i]

		timeDiff := absTimeDiff(failure.Timestamp, event.EventTime)
		if timeDiff > window {
			continue
		}

		score := calculateMatchScore(failure, *event)
		if score == 0 {
			continue
		}

		if score > bestScore || (score == bestScore && timeDiff < bestTimeDiff) {
			bestMatch = event
			bestScore = score
			bestTimeDiff = timeDiff
		}
	}

	return bestMatch
}

// calculateMatchScore: 0 means no match.
func calculateMatchScore(failure analyzer.FailureEvent, trailEvent analyzer.CloudTrailEvent) int {
	if !cloudtrail.HasErrorInformation(trailEvent) {
		return 0
	}

	score := 1
	if matchesResourceIdentifier(failure, trailEvent) {
		score += 3
	}
	if matchesResourceType(failure, trailEvent) {
		score += 2
	}
	return score
}

func matchesResourceIdentifier(failure analyzer.FailureEvent, trailEvent analyzer.CloudTrailEvent) bool {
	if failure.LogicalResourceId == "" {
		return false
	}
	candidates := []string{strings.ToLower(failure.LogicalResourceId)}
	if failure.PhysicalResourceId != "" {
		candidates = append(candidates, strings.ToLower(failure.PhysicalResourceId))
	}

	haystacks := []string{trailEvent.EventName, trailEvent.ErrorMessage}
	for _, value := range trailEvent.ResponseElements {
		if s, ok := value.(string); ok {
			haystacks = append(haystacks, s)
		}
	}

	for _, h := range haystacks {
		h = strings.ToLower(h)
		for _, c := range candidates {
			if strings.Contains(h, c) {
				return true
			}
		}
	}
	return false
}

// matchesResourceType compares the service of "AWS::Service::Type" with the
// CloudTrail event source "service.amazonaws.com".
func matchesResourceType(failure analyzer.FailureEvent, trailEvent analyzer.CloudTrailEvent) bool {
	if trailEvent.EventSource == "" {
		return false
	}
	service := cloudtrail.ServiceName(failure.ResourceType)
	return service != "" && cloudtrail.MatchesService(trailEvent, service)
}

func absTimeDiff(t1, t2 time.Time) time.Duration {
	diff := t1.Sub(t2)
	if diff < 0 {
		return -diff
	}
	return diff
}
