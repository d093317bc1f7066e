// Package awserrors classifies failures reported by the AWS CLI or SDK and
// defines the error types the tool surfaces to the user.
package awserrors

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/smithy-go"
)

// Error categories used in AWSError.ErrorType.
const (
	TypeCredential    = "Credential Error"
	TypePermission    = "Permission Error"
	TypeAuthorization = "Authorization Error"
	TypeValidation    = "Validation Error"
	TypeRateLimit     = "Rate Limit Error"
	TypeService       = "Service Error"
	TypeConfiguration = "Configuration Error"
	TypeAPI           = "AWS API Error"
	TypeGeneric       = "AWS Error"
)

// AWSError represents a parsed AWS error with user-friendly information
type AWSError struct {
	// OriginalError is the underlying error, nil when parsed from CLI output
	OriginalError error

	// ErrorType categorizes the error (credentials, permissions, service, etc.)
	ErrorType string

	// Message is a user-friendly error message
	Message string

	// Suggestion provides actionable guidance to resolve the error
	Suggestion string

	// AWSErrorCode is the AWS-specific error code if available
	AWSErrorCode string

	// Service is the AWS service that returned the error
	Service string
}

func (e *AWSError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s\nSuggestion: %s", e.ErrorType, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

func (e *AWSError) Unwrap() error {
	return e.OriginalError
}

// cliErrorPattern matches the first line the AWS CLI prints for a failed API call:
//
//	An error occurred (ValidationError) when calling the DescribeStackEvents operation: Stack [x] does not exist
var cliErrorPattern = regexp.MustCompile(`An error occurred \(([A-Za-z0-9.]+)\)(?: when calling the \w+ operation)?(?: \(reached max retries: \d+\))?: (.*)`)

// ParseAWSError analyzes an AWS SDK error and returns a user-friendly AWSError.
func ParseAWSError(err error, service string) *AWSError {
	if err == nil {
		return nil
	}

	awsErr := &AWSError{
		OriginalError: err,
		Service:       service,
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return classifyCode(awsErr, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}

	return classifyMessage(awsErr, err.Error())
}

// ParseCLIError classifies the diagnostic output of a failed AWS CLI
// invocation. It returns nil when stderr is empty.
func ParseCLIError(stderr, service string) *AWSError {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return nil
	}

	awsErr := &AWSError{Service: service}
	if m := cliErrorPattern.FindStringSubmatch(stderr); m != nil {
		return classifyCode(awsErr, m[1], strings.TrimSpace(m[2]))
	}
	return classifyMessage(awsErr, stderr)
}

// classifyCode fills awsErr from an AWS error code and message.
func classifyCode(awsErr *AWSError, code, message string) *AWSError {
	awsErr.AWSErrorCode = code

	switch code {
	case "AccessDenied", "AccessDeniedException":
		awsErr.ErrorType = TypePermission
		awsErr.Message = fmt.Sprintf("Access denied: %s", message)
		awsErr.Suggestion = formatPermissionSuggestion(awsErr.Service)

	case "UnauthorizedAccess", "UnauthorizedOperation":
		awsErr.ErrorType = TypeAuthorization
		awsErr.Message = fmt.Sprintf("Unauthorized operation: %s", message)
		awsErr.Suggestion = formatPermissionSuggestion(awsErr.Service)

	case "ExpiredToken", "ExpiredTokenException":
		awsErr.ErrorType = TypeCredential
		awsErr.Message = "AWS session token has expired"
		awsErr.Suggestion = "Refresh your AWS credentials. If using SSO, run 'aws sso login'."

	case "InvalidClientTokenId", "UnrecognizedClientException":
		awsErr.ErrorType = TypeCredential
		awsErr.Message = "Invalid AWS access key ID"
		awsErr.Suggestion = "Check your ~/.aws/credentials file or AWS_ACCESS_KEY_ID."

	case "SignatureDoesNotMatch":
		awsErr.ErrorType = TypeCredential
		awsErr.Message = "AWS secret access key is incorrect"
		awsErr.Suggestion = "Check your ~/.aws/credentials file or AWS_SECRET_ACCESS_KEY."

	case "ValidationError", "ValidationException":
		awsErr.ErrorType = TypeValidation
		awsErr.Message = message
		if strings.Contains(message, "does not exist") {
			awsErr.Suggestion = "Check the stack name and the selected region/profile"
		}

	case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
		awsErr.ErrorType = TypeRateLimit
		awsErr.Message = "Request was throttled due to rate limiting"
		awsErr.Suggestion = "Lower --concurrency and try again."

	case "ServiceUnavailable", "ServiceUnavailableException", "InternalError", "InternalFailure":
		awsErr.ErrorType = TypeService
		awsErr.Message = fmt.Sprintf("%s service error: %s", awsErr.Service, message)
		awsErr.Suggestion = "This is an AWS-side issue. Wait a moment and try again."

	default:
		awsErr.ErrorType = TypeAPI
		awsErr.Message = fmt.Sprintf("[%s] %s", code, message)
	}

	return awsErr
}

// classifyMessage fills awsErr from free-form error text.
func classifyMessage(awsErr *AWSError, msg string) *AWSError {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, credentialPatterns):
		awsErr.ErrorType = TypeCredential
		awsErr.Message = "AWS credentials could not be found or loaded"
		awsErr.Suggestion = `Configure credentials with one of:
  1. AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY
  2. 'aws configure'
  3. 'aws sso login --profile <profile-name>'
  4. an IAM role (EC2/ECS/Lambda)`
	case containsAny(lower, regionPatterns):
		awsErr.ErrorType = TypeConfiguration
		awsErr.Message = "AWS region is not configured"
		awsErr.Suggestion = "Set AWS_REGION, pass --region, or run 'aws configure'."
	default:
		awsErr.ErrorType = TypeGeneric
		awsErr.Message = msg
	}
	return awsErr
}

var credentialPatterns = []string{
	"no credentials",
	"credentials not found",
	"unable to locate credentials",
	"failed to retrieve credentials",
	"no valid credential",
	"credential provider",
	"no ec2 imds",
	"the sso session associated with this profile has expired",
	"token has expired",
}

var regionPatterns = []string{
	"no region",
	"region not found",
	"missing region",
	"could not find region",
	"you must specify a region",
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// formatPermissionSuggestion returns a service-specific permission suggestion
func formatPermissionSuggestion(service string) string {
	base := "Ensure your AWS credentials have the required permissions."

	switch service {
	case "CloudFormation":
		return base + "\nRequired: cloudformation:DescribeStackEvents"
	case "CloudTrail":
		return base + "\nRequired: cloudtrail:LookupEvents"
	default:
		return base
	}
}

// IsCredentialError checks if the error is related to AWS credentials
func IsCredentialError(err error) bool {
	var awsErr *AWSError
	if errors.As(err, &awsErr) {
		return awsErr.ErrorType == TypeCredential || awsErr.ErrorType == TypeConfiguration
	}
	return false
}

// IsPermissionError checks if the error is related to AWS permissions
func IsPermissionError(err error) bool {
	var awsErr *AWSError
	if errors.As(err, &awsErr) {
		return awsErr.ErrorType == TypePermission || awsErr.ErrorType == TypeAuthorization
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "UnauthorizedAccess", "UnauthorizedOperation":
			return true
		}
	}
	return false
}

// IsThrottlingError checks if the error is due to rate limiting
func IsThrottlingError(err error) bool {
	var awsErr *AWSError
	if errors.As(err, &awsErr) {
		return awsErr.ErrorType == TypeRateLimit
	}
	return false
}
