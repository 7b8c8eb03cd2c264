package persona

import "errors"

var (
	// ErrNotFound indicates no persona document exists for the subject.
	ErrNotFound = errors.New("persona not found")

	// ErrNoActivePersona indicates the scope has no active persona bound.
	ErrNoActivePersona = errors.New("no active persona")

	// ErrConfiguration indicates an invalid tunable, such as a
	// non-positive K or a mismatched embedding dimension.
	ErrConfiguration = errors.New("configuration error")

	// ErrDimensionMismatch indicates a vector whose length does not
	// match the index dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrContentSafetyRejected indicates the anti-regurgitation guard
	// rejected the output after the retry was exhausted.
	ErrContentSafetyRejected = errors.New("content safety rejected")

	// ErrIngestionExhausted indicates every item in an ingestion batch
	// failed preprocessing or embedding.
	ErrIngestionExhausted = errors.New("ingestion exhausted: no items usable")

	// ErrPartialErase indicates erase removed the persona record but
	// failed to clear all derived state.
	ErrPartialErase = errors.New("partial erase")

	// ErrNoMessages indicates a summarize window contained nothing
	// usable.
	ErrNoMessages = errors.New("no messages to summarize")
)
