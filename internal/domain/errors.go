package domain

import (
	"errors"
	"fmt"
)

// FetchError reports a source transport or parse failure. Transport
// failures are retryable; parse failures are not and skip the item.
type FetchError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizationError marks an item that cannot be canonicalized. Always
// item-level and non-retryable.
type NormalizationError struct {
	Source string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s", e.Source, e.Reason)
}

// ClassificationError reports a relevance-model failure.
type ClassificationError struct {
	Identity  string
	Retryable bool
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Identity, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ExtractionError reports a summary/keyword extraction failure. Non-fatal:
// the item is still delivered with an empty insight.
type ExtractionError struct {
	Identity string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Identity, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DeliveryError reports a sink failure for one item.
type DeliveryError struct {
	Sink      string
	Identity  string
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Identity, e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StoreError marks the dedup/archive store as unavailable. Fatal for the
// run: dedup and delivery correctness cannot be guaranteed without it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient failure worth another
// attempt.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsStoreError reports whether err carries a StoreError anywhere in its
// chain.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
