// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// ClassifyStatus wraps a failed backend call according to its HTTP status:
// 429 and 5xx are transient upstream failures, any other 4xx is an invalid
// request.
func ClassifyStatus(name string, status int, err error) error {
	fields := []ariaerr.Attr{ariaerr.FieldProvider(name), ariaerr.Field("status", status)}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return ariaerr.Wrap(err, ariaerr.CodeProviderUpstreamFailure,
			fmt.Sprintf("%s: upstream returned %d", name, status), fields...)
	case status >= 400:
		return ariaerr.Wrap(err, ariaerr.CodeProviderRequestInvalid,
			fmt.Sprintf("%s: request rejected with %d", name, status), fields...)
	default:
		return ariaerr.Wrap(err, ariaerr.CodeProviderResponseInvalid,
			fmt.Sprintf("%s: unexpected status %d", name, status), fields...)
	}
}

// ClassifyTransport wraps an error that carried no HTTP status. Context
// errors pass through untouched so the caller's timeout handling decides;
// everything else is a transient transport failure.
func ClassifyTransport(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return ariaerr.Wrap(err, ariaerr.CodeProviderUpstreamFailure, name+": transport failure",
		ariaerr.FieldProvider(name))
}
