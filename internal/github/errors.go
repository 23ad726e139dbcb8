package github

import (
	"fmt"
	"time"
)

// FetchError is returned when the remote API could not be reached and no
// usable cache entry exists.
type FetchError struct {
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch from repository API: %v", e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// StaleDataWarning accompanies data served from an expired cache entry after
// a failed network call. It is non-fatal: the data alongside it is usable and
// the caller decides whether to surface the warning.
type StaleDataWarning struct {
	FetchedAt time.Time
	Cause     error
}

func (e *StaleDataWarning) Error() string {
	return fmt.Sprintf("serving cached data from %s; refresh failed: %v",
		e.FetchedAt.Format(time.RFC3339), e.Cause)
}

func (e *StaleDataWarning) Unwrap() error {
	return e.Cause
}
