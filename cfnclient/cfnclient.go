// Package cfnclient retrieves CloudFormation stack events, either through the
// AWS SDK or by shelling out to the AWS CLI.
package cfnclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// EventFetcher returns the complete event history of one stack.
// Implementations issue one provider query per call and do not cache.
type EventFetcher interface {
	FetchEvents(ctx context.Context, stack string) ([]analyzer.StackEvent, error)
}

// CloudFormationAPI is the part of the CloudFormation client the SDK backend needs.
type CloudFormationAPI interface {
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// Client fetches stack events through the AWS SDK.
type Client struct {
	cfn CloudFormationAPI

	// QueryTimeout bounds one FetchEvents call, all pages included. Zero means no limit.
	QueryTimeout time.Duration
}

// Options select the AWS profile and region for the SDK backend. Empty
// values fall through to the default resolution chain.
type Options struct {
	Region  string
	Profile string
	Timeout time.Duration
}

// NewClient creates a new CloudFormation client using default AWS configuration
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	client := NewClientWithConfig(cfg)
	client.QueryTimeout = opts.Timeout
	return client, nil
}

// LoadConfig resolves the shared AWS configuration for opts.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, awserrors.ParseAWSError(err, "CloudFormation")
	}
	return cfg, nil
}

// NewClientWithConfig creates a new CloudFormation client with a custom AWS config
func NewClientWithConfig(cfg aws.Config) *Client {
	return &Client{
		cfn: cloudformation.NewFromConfig(cfg),
	}
}

// NewClientWithAPI wraps an existing CloudFormation API implementation.
func NewClientWithAPI(api CloudFormationAPI) *Client {
	return &Client{cfn: api}
}

// FetchEvents retrieves all stack events for the specified stack, following NextToken.
func (c *Client) FetchEvents(ctx context.Context, stack string) ([]analyzer.StackEvent, error) {
	if c.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.QueryTimeout)
		defer cancel()
	}

	var events []analyzer.StackEvent
	var nextToken *string

	for {
		output, err := c.cfn.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: aws.String(stack),
			NextToken: nextToken,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			return nil, &awserrors.ProviderQueryError{
				Stack: stack,
				Err:   err,
				AWS:   awserrors.ParseAWSError(err, "CloudFormation"),
			}
		}

		for _, e := range output.StackEvents {
			events = append(events, fromSDK(e))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return events, nil
}

// fromSDK converts an SDK stack event to the shared model.
func fromSDK(e types.StackEvent) analyzer.StackEvent {
	return analyzer.StackEvent{
		StackId:              aws.ToString(e.StackId),
		StackName:            aws.ToString(e.StackName),
		EventId:              aws.ToString(e.EventId),
		LogicalResourceId:    aws.ToString(e.LogicalResourceId),
		PhysicalResourceId:   aws.ToString(e.PhysicalResourceId),
		ResourceType:         aws.ToString(e.ResourceType),
		ResourceStatus:       string(e.ResourceStatus),
		ResourceStatusReason: aws.ToString(e.ResourceStatusReason),
		ResourceProperties:   aws.ToString(e.ResourceProperties),
		Timestamp:            safeTime(e.Timestamp),
	}
}

// safeTime safely dereferences a time pointer, returning zero time if nil
func safeTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
