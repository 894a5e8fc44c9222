// Package awserr maps AWS SDK errors onto msam's typed errors.
package awserr

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/msam-go/msam/types"
)

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException": true,
	"ResourceNotFound":          true,
	"NotFoundException":         true,
}

// Classify wraps err as a [types.KindNotFound] error for AWS not-found codes
// and as [types.KindProviderUnavailable] otherwise. Context errors and nil are
// returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()] {
		return types.NewError(types.KindNotFound, op, err)
	}

	return types.ProviderUnavailable(op, err)
}

// Code returns the AWS error code of err, or "" if it carries none.
func Code(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	return ""
}
