package service

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindRateLimited       ErrorKind = "rate_limited"
	KindCollectionState   ErrorKind = "collection_state"
	KindDuplicateInFlight ErrorKind = "duplicate_in_flight"
	KindProcessor         ErrorKind = "processor"
	KindPersistence       ErrorKind = "persistence"
)

// PaymentError is what a failed submission returns. Message is safe to show to
// the payer; Err holds the internal cause and is only logged.
type PaymentError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// AsPaymentError extracts a PaymentError from err's chain.
func AsPaymentError(err error) (*PaymentError, bool) {
	var perr *PaymentError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

const (
	msgInitFailed       = "Failed to initialize payment. Please try again."
	msgStillProcessing  = "This payment is still processing. Please wait a moment before trying again."
	msgCollectionLookup = "Unable to load this collection right now. Please try again."
	msgNotFound         = "This collection could not be found."
	msgInactive         = "This collection is no longer accepting payments."
	msgExceedsTarget    = "This payment would exceed the collection target. Please contact support."
)

func newError(kind ErrorKind, msg string, err error) *PaymentError {
	return &PaymentError{Kind: kind, Message: msg, Err: err}
}
