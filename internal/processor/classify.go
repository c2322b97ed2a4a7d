package processor

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed create-payment call as reported by the processor.
type Error struct {
	StatusCode int
	Code       string
	Category   string
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("processor error: status=%d code=%s category=%s detail=%s", e.StatusCode, e.Code, e.Category, e.Detail)
}

// Classification is the user-facing outcome of a processor failure.
type Classification struct {
	Message   string
	Retryable bool
}

const GenericFailureMessage = "Payment processing failed. Please try again."

var codeTable = map[string]Classification{
	"CARD_DECLINED":                {"Your card was declined. Please try a different payment method.", true},
	"GENERIC_DECLINE":              {"Your card was declined. Please try a different payment method.", true},
	"INSUFFICIENT_FUNDS":           {"Insufficient funds. Please use a different payment method.", false},
	"CARD_EXPIRED":                 {"Your card has expired. Please use a different card.", false},
	"INVALID_EXPIRATION":           {"The card expiration date is invalid. Please check and try again.", false},
	"CVV_FAILURE":                  {"The security code (CVV) is invalid. Please check and try again.", false},
	"ADDRESS_VERIFICATION_FAILURE": {"The billing postal code could not be verified. Please check and try again.", false},
	"INVALID_CARD":                 {"The card details are invalid. Please check and try again.", false},
	"CARD_NOT_SUPPORTED":           {"This card type is not supported. Please use a different card.", false},
	"CARD_TOKEN_EXPIRED":           {"Your payment session expired. Please refresh the page and try again.", false},
	"CARD_TOKEN_USED":              {"This payment was already submitted. Please refresh the page before trying again.", false},
	"IDEMPOTENCY_KEY_REUSED":       {"This payment is already being processed. Please wait a moment.", false},
	"TRANSACTION_LIMIT":            {"This amount exceeds your card's limit. Please use a different payment method.", false},
	"RATE_LIMITED":                 {"Too many payment attempts. Please wait a minute and try again.", false},
	"UNAUTHORIZED":                 {"Payment service is temporarily unavailable. Please contact support.", false},
	"ACCESS_TOKEN_EXPIRED":         {"Payment service is temporarily unavailable. Please contact support.", false},
	"NOT_FOUND":                    {"Payment could not be completed. Please contact support.", false},
	"PAYMENT_FAILED":               {"Your payment could not be completed. Please try a different payment method.", true},
	"INTERNAL_SERVER_ERROR":        {GenericFailureMessage, true},
	"SERVICE_UNAVAILABLE":          {"Payment service is temporarily unavailable. Please try again.", true},
	"GATEWAY_TIMEOUT":              {"Payment service timed out. Please try again.", true},
}

var statusTable = map[int]Classification{
	http.StatusBadRequest:          {"Invalid payment information. Please check your details and try again.", true},
	http.StatusUnprocessableEntity: {"Invalid payment information. Please check your details and try again.", true},
	http.StatusUnauthorized:        {"Payment service is temporarily unavailable. Please contact support.", false},
	http.StatusForbidden:           {"Payment service is temporarily unavailable. Please contact support.", false},
	http.StatusNotFound:            {"Payment could not be completed. Please contact support.", false},
	http.StatusConflict:            {"This payment is already being processed. Please wait a moment.", false},
	http.StatusTooManyRequests:     {"Too many payment attempts. Please wait a minute and try again.", false},
}

// Classify maps err to a message and retry decision. Processor error codes take
// precedence over HTTP status; anything unrecognised is a retryable generic failure.
func Classify(err error) Classification {
	var perr *Error
	if !errors.As(err, &perr) {
		return Classification{Message: GenericFailureMessage, Retryable: true}
	}

	if perr.Code != "" {
		if c, ok := codeTable[perr.Code]; ok {
			return c
		}
	}

	if c, ok := statusTable[perr.StatusCode]; ok {
		return c
	}
	if perr.StatusCode >= 500 {
		return Classification{Message: "Payment service is temporarily unavailable. Please try again.", Retryable: true}
	}

	return Classification{Message: GenericFailureMessage, Retryable: true}
}

// IsRetryable reports whether err may be attempted again with the same idempotency key.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}
