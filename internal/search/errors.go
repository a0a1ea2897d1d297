package search

import (
	"errors"
	"fmt"
)

// Code classifies acquisition failures for clients and for the per-task
// error detail.
type Code string

const (
	// CodeDriverUnavailable: no live automation session and no stored
	// credential for the platform.
	CodeDriverUnavailable Code = "driver_unavailable"
	// CodeAcquisitionTimeout: stabilization or overall timeout elapsed with
	// no usable content.
	CodeAcquisitionTimeout Code = "acquisition_timeout"
	// CodeAcquisitionFailed: a driver reported an error (element not found,
	// not authenticated, upstream rejection).
	CodeAcquisitionFailed Code = "acquisition_failed"
)

// AcquireError is a classified per-platform acquisition failure.
type AcquireError struct {
	Code     Code
	Platform string
	Err      error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Platform, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Code)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// CodeAcquisitionFailed for unclassified errors.
func CodeOf(err error) Code {
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeAcquisitionFailed
}
